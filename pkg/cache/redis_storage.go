package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisTimeout = 2 * time.Second

// RedisConfig holds configuration for a Redis-backed storage.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Match limits key enumeration (SCAN MATCH). Empty = "*".
	Match   string
	Timeout time.Duration
}

// RedisStorage keeps items as plain Redis strings. TTLs stay inside the
// cache payload so every backend expires entries the same way.
type RedisStorage struct {
	client  *redis.Client
	match   string
	timeout time.Duration
}

// NewRedisStorage connects to Redis and checks the connection.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		Protocol: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	s := &RedisStorage{client: client, match: cfg.Match, timeout: cfg.Timeout}
	if s.match == "" {
		s.match = "*"
	}
	if s.timeout <= 0 {
		s.timeout = defaultRedisTimeout
	}
	return s, nil
}

// GetItem implements Storage.
func (s *RedisStorage) GetItem(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetItem implements Storage.
func (s *RedisStorage) SetItem(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Set(ctx, key, value, 0).Err()
}

// RemoveItem implements Storage.
func (s *RedisStorage) RemoveItem(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Del(ctx, key).Err()
}

// Keys implements Storage.
func (s *RedisStorage) Keys() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var keys []string
	iter := s.client.Scan(ctx, 0, s.match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close implements Storage.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
