// Package idempotency guards against double execution of a request that
// carries a client nonce. A key is claimed before submission, completed with
// the final result afterwards, or released when the request fails early.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultWindow is how long a key is remembered.
const DefaultWindow = 24 * time.Hour

// ErrInFlight is returned by Claim when the same key is still executing.
var ErrInFlight = errors.New("request with the same idempotency key is in flight")

type state string

const (
	stateInFlight  state = "in_flight"
	stateCompleted state = "completed"
)

type record struct {
	State     state           `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Guard stores claims and completed results.
type Guard interface {
	// Claim reserves key. A nil result with a nil error means the caller
	// owns the key. A non-nil result is the stored outcome of a completed
	// request with the same key. ErrInFlight means another caller owns it.
	Claim(ctx context.Context, key string) (json.RawMessage, error)
	Complete(ctx context.Context, key string, result json.RawMessage) error
	Release(ctx context.Context, key string) error
	Close() error
}

// Key derives the idempotency key from the request identity and nonce.
func Key(requesterID, assetID string, amount decimal.Decimal, nonce string) string {
	h := sha256.New()
	for _, part := range []string{requesterID, assetID, amount.String(), nonce} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Config selects a backend.
type Config struct {
	Driver    string        `yaml:"driver"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	Window    time.Duration `yaml:"window"`
}

func (c Config) window() time.Duration {
	if c.Window <= 0 {
		return DefaultWindow
	}
	return c.Window
}
