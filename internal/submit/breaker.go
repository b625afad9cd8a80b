package submit

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/network"
)

// BreakerConfig tunes the per-network circuit breaker.
// ConsecutiveFailures of 0 disables breaking.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	HalfOpenRequests    uint32        `yaml:"half_open_requests"`
}

// Breakers keeps one circuit breaker per network name.
type Breakers struct {
	cfg    BreakerConfig
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates an empty breaker set.
func NewBreakers(cfg BreakerConfig, logger *zap.Logger) *Breakers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breakers{cfg: cfg, logger: logger, breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *Breakers) get(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[name]; ok {
		return cb
	}
	threshold := b.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "network-" + name,
		MaxRequests: b.cfg.HalfOpenRequests,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		// A transaction the network rejected says nothing about its health.
		IsSuccessful: func(err error) bool {
			var rej *network.RejectedError
			return err == nil || errors.As(err, &rej)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.logger.Warn("network circuit breaker state changed",
				zap.String("network", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	b.breakers[name] = cb
	return cb
}

// State returns the breaker state for a network.
func (b *Breakers) State(name string) gobreaker.State {
	return b.get(name).State()
}
