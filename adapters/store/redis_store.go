package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis store whose keys live under prefix
func NewRedisStore(client *redis.Client, prefix string) ports.Store {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrNotFound
		}
		return "", fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key without expiration; grant validity is checked by the reader
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Remove deletes key
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}
