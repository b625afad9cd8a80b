package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketIdempotency = []byte("idempotency")

// BoltGuard keeps claims in a bbolt bucket, usually inside the store's file.
type BoltGuard struct {
	db     *bolt.DB
	window time.Duration
	now    func() time.Time
}

// NewBoltGuard creates the bucket if needed. The caller keeps ownership of db.
func NewBoltGuard(db *bolt.DB, window time.Duration) (*BoltGuard, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency: create bucket: %w", err)
	}
	return &BoltGuard{db: db, window: window, now: time.Now}, nil
}

func (g *BoltGuard) Claim(_ context.Context, key string) (json.RawMessage, error) {
	var stored json.RawMessage
	err := g.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdempotency)
		now := g.now()
		if v := b.Get([]byte(key)); v != nil {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("idempotency: decode claim: %w", err)
			}
			if now.Before(rec.ExpiresAt) {
				if rec.State == stateCompleted {
					stored = append(json.RawMessage(nil), rec.Result...)
					return nil
				}
				return ErrInFlight
			}
		}
		data, err := json.Marshal(record{State: stateInFlight, ExpiresAt: now.Add(g.window)})
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	return stored, err
}

func (g *BoltGuard) Complete(_ context.Context, key string, result json.RawMessage) error {
	data, err := json.Marshal(record{State: stateCompleted, Result: result, ExpiresAt: g.now().Add(g.window)})
	if err != nil {
		return err
	}
	return g.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), data)
	})
}

func (g *BoltGuard) Release(_ context.Context, key string) error {
	return g.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Delete([]byte(key))
	})
}

// Close is a no-op; the database belongs to the store.
func (g *BoltGuard) Close() error { return nil }
