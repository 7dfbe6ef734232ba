// Package redis holds the Redis-backed live candle store and the closed candle publisher.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Logger   *zap.Logger
}

// Client wraps the Redis client shared by the live store and the publisher.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB))

	return &Client{client: rdb, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
