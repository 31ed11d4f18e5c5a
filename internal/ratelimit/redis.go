package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Counter is the part of a redis client the window limiter needs.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// RedisClient adapts go-redis to Counter.
type RedisClient struct {
	cli *redis.Client
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &RedisClient{cli: c}, nil
}

func (c *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return c.cli.Incr(ctx, key).Result()
}

func (c *RedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.cli.Expire(ctx, key, expiration).Err()
}

// Raw exposes the underlying client for pub/sub.
func (c *RedisClient) Raw() *redis.Client { return c.cli }

func (c *RedisClient) Close() error { return c.cli.Close() }

// Window is a fixed-window limiter stored in redis, shared by every process
// pointing at the same key prefix.
type Window struct {
	counter Counter
	prefix  string
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewWindow admits limit calls per window.
func NewWindow(counter Counter, prefix string, limit int, window time.Duration) *Window {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if prefix == "" {
		prefix = "subsidy:capability"
	}
	return &Window{counter: counter, prefix: prefix, limit: limit, window: window, now: time.Now}
}

// Allow increments the current window's counter.
func (w *Window) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := w.now()
	slot := now.UnixNano() / int64(w.window)
	key := fmt.Sprintf("rate_limit:%s:%d", w.prefix, slot)

	count, err := w.counter.Incr(ctx, key)
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := w.counter.Expire(ctx, key, 2*w.window); err != nil {
			return false, 0, err
		}
	}
	if count > int64(w.limit) {
		next := time.Unix(0, (slot+1)*int64(w.window))
		return false, next.Sub(now), nil
	}
	return true, 0, nil
}
