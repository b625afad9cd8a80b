package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "ledgerwatch:idem:"

// RedisGuard keeps claims in Redis so several instances share them.
type RedisGuard struct {
	rdb    redis.UniversalClient
	window time.Duration
	owned  bool
}

// NewRedisGuard wraps an existing client. The caller keeps ownership of rdb.
func NewRedisGuard(rdb redis.UniversalClient, window time.Duration) *RedisGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisGuard{rdb: rdb, window: window}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, cfg Config) (*RedisGuard, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("idempotency: redis %s: %w", cfg.RedisAddr, err)
	}
	g := NewRedisGuard(rdb, cfg.window())
	g.owned = true
	return g, nil
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := json.Marshal(record{State: stateInFlight, ExpiresAt: time.Now().Add(g.window)})
	if err != nil {
		return nil, err
	}
	ok, err := g.rdb.SetNX(ctx, redisPrefix+key, data, g.window).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency: claim: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := g.rdb.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return g.Claim(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: read claim: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("idempotency: decode claim: %w", err)
	}
	if rec.State == stateCompleted {
		return rec.Result, nil
	}
	return nil, ErrInFlight
}

func (g *RedisGuard) Complete(ctx context.Context, key string, result json.RawMessage) error {
	data, err := json.Marshal(record{State: stateCompleted, Result: result, ExpiresAt: time.Now().Add(g.window)})
	if err != nil {
		return err
	}
	if err := g.rdb.Set(ctx, redisPrefix+key, data, g.window).Err(); err != nil {
		return fmt.Errorf("idempotency: complete: %w", err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, redisPrefix+key).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (g *RedisGuard) Close() error {
	if g.owned {
		return g.rdb.Close()
	}
	return nil
}
