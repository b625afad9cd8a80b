package idempotency

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func setupRedis(t *testing.T) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisGuard(client, time.Hour), mr
}

func setupBolt(t *testing.T) *BoltGuard {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "idem.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	g, err := NewBoltGuard(db, time.Hour)
	require.NoError(t, err)
	return g
}

func guards(t *testing.T) map[string]Guard {
	r, _ := setupRedis(t)
	return map[string]Guard{"redis": r, "bolt": setupBolt(t)}
}

func TestKeyDependsOnEveryPart(t *testing.T) {
	base := Key("alice", "gold-1", decimal.RequireFromString("10"), "n1")
	assert.Len(t, base, 64)
	assert.Equal(t, base, Key("alice", "gold-1", decimal.RequireFromString("10.0"), "n1"))
	assert.NotEqual(t, base, Key("bob", "gold-1", decimal.RequireFromString("10"), "n1"))
	assert.NotEqual(t, base, Key("alice", "gold-2", decimal.RequireFromString("10"), "n1"))
	assert.NotEqual(t, base, Key("alice", "gold-1", decimal.RequireFromString("11"), "n1"))
	assert.NotEqual(t, base, Key("alice", "gold-1", decimal.RequireFromString("10"), "n2"))
	// Separator prevents ambiguous concatenation.
	assert.NotEqual(t, Key("ab", "c", decimal.NewFromInt(1), "n"), Key("a", "bc", decimal.NewFromInt(1), "n"))
}

func TestGuardLifecycle(t *testing.T) {
	for name, g := range guards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			stored, err := g.Claim(ctx, "k1")
			require.NoError(t, err)
			assert.Nil(t, stored)

			_, err = g.Claim(ctx, "k1")
			assert.ErrorIs(t, err, ErrInFlight)

			result := json.RawMessage(`{"success":true,"hash":"ABC"}`)
			require.NoError(t, g.Complete(ctx, "k1", result))

			stored, err = g.Claim(ctx, "k1")
			require.NoError(t, err)
			assert.JSONEq(t, string(result), string(stored))
		})
	}
}

func TestGuardRelease(t *testing.T) {
	for name, g := range guards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := g.Claim(ctx, "k2")
			require.NoError(t, err)
			require.NoError(t, g.Release(ctx, "k2"))

			stored, err := g.Claim(ctx, "k2")
			require.NoError(t, err, "released key must be claimable again")
			assert.Nil(t, stored)
		})
	}
}

func TestRedisClaimExpires(t *testing.T) {
	g, mr := setupRedis(t)
	ctx := context.Background()
	_, err := g.Claim(ctx, "k3")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	stored, err := g.Claim(ctx, "k3")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestBoltClaimExpires(t *testing.T) {
	g := setupBolt(t)
	ctx := context.Background()
	now := time.Now()
	g.now = func() time.Time { return now }

	_, err := g.Claim(ctx, "k4")
	require.NoError(t, err)

	g.now = func() time.Time { return now.Add(2 * time.Hour) }
	stored, err := g.Claim(ctx, "k4")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestDialRedisFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := DialRedis(ctx, Config{RedisAddr: addr})
	assert.Error(t, err)
}
