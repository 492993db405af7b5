package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crewshift/pinlock/internal/config"
	"github.com/crewshift/pinlock/internal/models"
)

// RedisKVStore backs the persistence adapter with Redis. Values carry a TTL
// slightly beyond the status retention window so abandoned principals expire
// server-side even if the cleanup pass never sees them.
type RedisKVStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKVStore connects to Redis and verifies the connection
func NewRedisKVStore(ctx context.Context, cfg *config.StorageConfig, ttl time.Duration) (*RedisKVStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisKVStore{client: client, ttl: ttl}, nil
}

func (s *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (s *RedisKVStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, s.ttl).Err()
}

func (s *RedisKVStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisKVStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close releases the underlying Redis connection pool
func (s *RedisKVStore) Close() error {
	return s.client.Close()
}
