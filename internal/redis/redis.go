// Package redis wraps the shared cache: the distributed lock used to
// bound duplicate membership work and a live cache of current stat
// values.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gamestats-service/internal/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis connection
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient connects to Redis and verifies the connection
func NewClient(cfg *config.RedisConfig, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Client{rdb: rdb, logger: logger}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Rdb returns the underlying Redis client
func (c *Client) Rdb() *redis.Client {
	return c.rdb
}

// statValueKey returns the cache key for a player's current stat value
func statValueKey(statID, playerID string) string {
	return fmt.Sprintf("stat:%s:player:%s:value", statID, playerID)
}

// CacheStatValue stores a player's committed stat value for cheap reads
func (c *Client) CacheStatValue(ctx context.Context, statID, playerID string, value float64) error {
	key := statValueKey(statID, playerID)
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("caching stat value: %w", err)
	}
	return nil
}

// GetStatValue reads a player's cached stat value. The second return
// value is false on a cache miss.
func (c *Client) GetStatValue(ctx context.Context, statID, playerID string) (float64, bool, error) {
	key := statValueKey(statID, playerID)
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading cached stat value: %w", err)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parsing cached stat value: %w", err)
	}
	return value, true, nil
}
