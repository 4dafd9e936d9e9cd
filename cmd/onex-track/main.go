package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/skrattaren/onex-track/config"
	"github.com/skrattaren/onex-track/internal/models"
	"github.com/skrattaren/onex-track/internal/services/poller"
)

func main() {
	// .env опционален, его отсутствие не ошибка
	_ = godotenv.Load()

	var (
		topic          string
		noNotification bool
		noCache        bool
		verbose        bool
		configPath     string
		watch          bool
		interval       time.Duration
		failOnError    bool
	)
	flag.StringVar(&topic, "ntfy-topic", "", "ntfy.sh topic to post to")
	flag.StringVar(&topic, "T", "", "shorthand for -ntfy-topic")
	flag.BoolVar(&noNotification, "no-notification", false, "prepare messages but do not send them")
	flag.BoolVar(&noNotification, "n", false, "shorthand for -no-notification")
	flag.BoolVar(&noCache, "no-cache", false, "skip the dedup state entirely")
	flag.BoolVar(&noCache, "c", false, "shorthand for -no-cache")
	flag.BoolVar(&verbose, "verbose", false, "verbose logging")
	flag.BoolVar(&verbose, "v", false, "shorthand for -verbose")
	flag.StringVar(&configPath, "config", os.Getenv("configPath"), "path to YAML config file")
	flag.BoolVar(&watch, "watch", false, "keep running and re-poll on an interval")
	flag.DurationVar(&interval, "interval", 0, "watch mode poll interval (default from config, else 15m)")
	flag.BoolVar(&failOnError, "fail-on-error", false, "exit nonzero when any shipment fails")
	flag.Usage = usage
	flag.Parse()

	log := newLogger(verbose)
	if verbose {
		log.Debug("entering verbose mode")
	}

	if flag.NArg() == 0 {
		fatalUsage("at least one TRACKING_NUMBER[:LABEL] argument is required")
	}
	if topic == "" {
		topic = os.Getenv("NTFY_TOPIC")
	}
	if topic == "" && !noNotification {
		fatalUsage("pass -ntfy-topic or use -no-notification")
	}

	cfg := &config.Config{}
	if configPath != "" {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			log.Error("load config", "error", err.Error())
			os.Exit(1)
		}
	}
	if base := os.Getenv("ONEX_BASE_URL"); base != "" {
		cfg.Onex.BaseURL = base
	}

	opts := runOpts{
		reqs:        models.ParseTrackingArgs(flag.Args()),
		topic:       topic,
		notify:      !noNotification,
		useState:    !noCache,
		watch:       watch,
		interval:    interval,
		failOnError: failOnError,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runOnexTrack(ctx, cfg, opts, defaultAppFactories(), log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("run failed", "error", err.Error())
		os.Exit(exitCode(err))
	}
}

// exitCode keeps the contract schedulers rely on: 2 means the carrier is
// unreachable, 1 everything else fatal.
func exitCode(err error) int {
	if errors.Is(err, poller.ErrConnectivity) {
		return 2
	}
	return 1
}

func newLogger(verbose bool) *slog.Logger {
	lvl := slog.LevelWarn
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: %s [flags] TRACKING_NUMBER[:LABEL] ...\n", filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func fatalUsage(msg string) {
	fmt.Fprintln(flag.CommandLine.Output(), msg)
	flag.Usage()
	os.Exit(2)
}
