// Package redis provides a Redis-backed durable Backend for the shopauth client.
// Several client processes pointed at the same prefix share one credential cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/panyam/shopauth"
)

// DefaultPrefix namespaces keys when Config.Prefix is empty
const DefaultPrefix = "shopauth:"

// Config controls the Redis connection and key layout
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int

	// Prefix is prepended to every key
	Prefix string

	// TTL expires values after this long. Zero keeps them until deleted.
	TTL time.Duration
}

// Backend implements shopauth.Backend on a Redis client
type Backend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ shopauth.Backend = (*Backend)(nil)

// New connects to Redis and verifies the connection with a ping
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Backend{client: client, prefix: prefix, ttl: ttl}
}

func (b *Backend) key(k string) string {
	return b.prefix + k
}

func (b *Backend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, b.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key, value string) error {
	return b.client.Set(ctx, b.key(key), value, b.ttl).Err()
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.key(key)).Err()
}

// Keys lists the unprefixed keys under this backend's prefix
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	var cursor uint64
	keys := make([]string, 0)
	pattern := b.prefix + "*"
	for {
		res, next, err := b.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range res {
			keys = append(keys, strings.TrimPrefix(k, b.prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

// Close closes the underlying client
func (b *Backend) Close() error {
	return b.client.Close()
}
