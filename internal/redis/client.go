package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/eaglebank/transaction-core/internal/config"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Client owns the connection pool shared by the lock manager, the task
// streams and the read-model caches.
type Client struct {
	*redis.Client
}

// NewClient opens a pool for cfg and fails fast when the server does not
// answer a PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		// Lock polling and XREADGROUP blocks both hold connections.
		PoolSize:     20,
		DialTimeout:  pingTimeout,
		ReadTimeout:  6 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Client{Client: rdb}, nil
}
