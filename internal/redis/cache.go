package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ViewCache stores JSON projections of T under caller-chosen keys. A zero
// TTL keeps keys until they are deleted.
type ViewCache[T any] struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

func NewViewCache[T any](client *redis.Client, ttl time.Duration, log *logrus.Entry) *ViewCache[T] {
	return &ViewCache[T]{client: client, ttl: ttl, log: log}
}

// Get returns (nil, false) on a miss or an undecodable value.
func (c *ViewCache[T]) Get(ctx context.Context, key string) (*T, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("key", key).Warn("view cache read failed")
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("view cache decode failed")
		return nil, false
	}
	return &v, true
}

// Set writes value. Cache writes are best effort: failures are logged.
func (c *ViewCache[T]) Set(ctx context.Context, key string, value *T) {
	if err := c.Put(ctx, key, value); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("view cache write failed")
	}
}

// Put is Set for callers that must know whether the write landed.
func (c *ViewCache[T]) Put(ctx context.Context, key string, value *T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (c *ViewCache[T]) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("view cache delete failed")
	}
}
