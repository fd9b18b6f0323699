// Package redisdedup implements ports.Deduplicator on Redis so that several
// bot processes following the same leaders never act on one signature twice.
package redisdedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "copytrader:sig:"

// Config holds connection parameters for the Redis deduplicator.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // How long a signature is remembered
	Prefix   string        // Key namespace, defaults to "copytrader:sig:"
}

// Dedup remembers signatures with SETNX and a TTL.
type Dedup struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*Dedup, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return newWithClient(rdb, cfg), nil
}

func newWithClient(rdb *redis.Client, cfg Config) *Dedup {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Dedup{rdb: rdb, ttl: ttl, prefix: prefix}
}

// FirstSeen atomically records key and reports whether it was new.
func (d *Dedup) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.key(key), time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Close closes the Redis connection.
func (d *Dedup) Close() error {
	return d.rdb.Close()
}

func (d *Dedup) key(signature string) string {
	return d.prefix + signature
}
