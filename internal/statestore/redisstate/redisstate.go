// Package redisstate keeps the dedup state as a single JSON value in Redis,
// for deployments where several hosts share one notification topic.
package redisstate

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "onex-track:state"

type Store struct {
	c   *redis.Client
	key string
}

func New(addr, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{
		c: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
		key: key,
	}
}

func (s *Store) Load(ctx context.Context) (map[string]string, error) {
	b, err := s.c.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}

	var state map[string]string
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, errors.Wrap(err, "decode state")
	}
	if state == nil {
		state = map[string]string{}
	}
	return state, nil
}

func (s *Store) Save(ctx context.Context, state map[string]string) error {
	b, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	// состояние живёт вечно, TTL нет
	if err := s.c.Set(ctx, s.key, b, 0).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}
