// Package redis implements the Provider interface using Redis/Valkey.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/gtfsload/internal/provider"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

var _ provider.Provider = (*RedisProvider)(nil)

const defaultPrefix = "gtfsload:"

// RedisProvider stores snapshots as Redis sets with a sibling capture-time
// string, and leases as SETNX keys.
type RedisProvider struct {
	client *goredis.Client
	prefix string
}

// New creates a new RedisProvider.
func New(cfg *types.RedisConfig) *RedisProvider {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewFromClient(client, cfg.KeyPrefix)
}

// NewFromClient creates a RedisProvider from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisProvider{client: client, prefix: prefix}
}

// Start initializes the provider connection.
func (p *RedisProvider) Start(ctx context.Context) error {
	return p.Ping(ctx)
}

// Stop closes the provider connection.
func (p *RedisProvider) Stop(_ context.Context) error {
	return p.client.Close()
}

// Ping checks connectivity to the Redis server.
func (p *RedisProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Client returns the underlying Redis client (for advanced usage/testing).
func (p *RedisProvider) Client() *goredis.Client {
	return p.client
}

func (p *RedisProvider) setKey(key string) string      { return p.prefix + key }
func (p *RedisProvider) capturedKey(key string) string { return p.prefix + key + ":captured_at" }
func (p *RedisProvider) lockKey(key string) string     { return p.prefix + "lock:" + key }

// LoadSnapshot reads the set members and capture time in one round trip.
func (p *RedisProvider) LoadSnapshot(ctx context.Context, key string) ([]string, time.Time, error) {
	pipe := p.client.Pipeline()
	membersCmd := pipe.SMembers(ctx, p.setKey(key))
	capturedCmd := pipe.Get(ctx, p.capturedKey(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, time.Time{}, fmt.Errorf("loading snapshot %s: %w", key, err)
	}

	members := membersCmd.Val()
	sort.Strings(members)

	var captured time.Time
	if s, err := capturedCmd.Result(); err == nil && s != "" {
		t, perr := time.Parse(time.RFC3339Nano, s)
		if perr != nil {
			return nil, time.Time{}, fmt.Errorf("parsing snapshot capture time: %w", perr)
		}
		captured = t
	}
	if len(members) == 0 {
		members = nil
	}
	return members, captured, nil
}

// ReplaceSnapshot clears and refills the set inside a MULTI/EXEC block so
// readers never observe a partial set.
func (p *RedisProvider) ReplaceSnapshot(ctx context.Context, key string, members []string, capturedAt time.Time, ttl time.Duration) error {
	setKey, capKey := p.setKey(key), p.capturedKey(key)

	pipe := p.client.TxPipeline()
	pipe.Del(ctx, setKey, capKey)
	if len(members) > 0 {
		args := make([]interface{}, len(members))
		for i, m := range members {
			args[i] = m
		}
		pipe.SAdd(ctx, setKey, args...)
	}
	pipe.Set(ctx, capKey, capturedAt.UTC().Format(time.RFC3339Nano), ttl)
	if ttl > 0 && len(members) > 0 {
		pipe.Expire(ctx, setKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing snapshot %s: %w", key, err)
	}
	return nil
}

// AcquireLock attempts to acquire a distributed lock with the given key and TTL.
func (p *RedisProvider) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := p.client.SetNX(ctx, p.lockKey(key), "1", ttl).Result()
	return ok, err
}

// ReleaseLock releases a distributed lock.
func (p *RedisProvider) ReleaseLock(ctx context.Context, key string) error {
	return p.client.Del(ctx, p.lockKey(key)).Err()
}
