package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Onex     OnexConfig     `yaml:"onex"`
	State    StateConfig    `yaml:"state"`
	Ntfy     NtfyConfig     `yaml:"ntfy"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Dynamo   DynamoConfig   `yaml:"dynamo"`
	Poll     PollConfig     `yaml:"poll"`
}

type OnexConfig struct {
	BaseURL            string `yaml:"base_url"`
	InfoTimeoutSeconds int    `yaml:"info_timeout_seconds"`
	HubTimeoutSeconds  int    `yaml:"hub_timeout_seconds"`
}

// StateConfig selects the dedup state backend. Backend is one of
// "file" (default), "redis", "postgres", "dynamo".
type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"` // file backend; empty means the XDG default

	// IgnoreLoadErrors lets a run proceed with an empty state when the
	// backend cannot be read. Off by default: a broken state means repeated
	// notifications for every shipment.
	IgnoreLoadErrors bool `yaml:"ignore_load_errors"`
}

type NtfyConfig struct {
	BaseURL string `yaml:"base_url"`
	Topic   string `yaml:"topic"`
}

type KafkaConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	StatusTopicName string `yaml:"status_topic_name"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Key  string `yaml:"key"`
}

type DynamoConfig struct {
	Table string `yaml:"table"`
}

type PollConfig struct {
	Concurrency          int    `yaml:"concurrency"`
	WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	AdminHTTPAddr        string `yaml:"admin_http_addr"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (k KafkaConfig) Addr() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}
