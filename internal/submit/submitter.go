// Package submit sends one transaction to every configured ledger network in
// parallel and collects an outcome per network.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/ledgerwatch/internal/ledger"
	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/network"
	"github.com/ppiankov/ledgerwatch/internal/signer"
	"github.com/ppiankov/ledgerwatch/internal/telemetry"
)

// DefaultTimeout bounds one network attempt when none is configured.
const DefaultTimeout = 20 * time.Second

// ErrPanic wraps a panic raised inside a network client.
var ErrPanic = errors.New("network client panicked")

// Config tunes the submitter.
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// Submitter fans a transaction out to N networks.
type Submitter struct {
	dial     network.Dialer
	timeout  time.Duration
	breakers *Breakers
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLogger sets the submitter's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Submitter) { s.logger = l }
}

// WithMetrics sets the submitter's instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// New creates a submitter that obtains clients from dial.
func New(dial network.Dialer, cfg Config, opts ...Option) *Submitter {
	s := &Submitter{
		dial:    dial,
		timeout: cfg.Timeout,
		logger:  zap.NewNop(),
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	for _, o := range opts {
		o(s)
	}
	s.breakers = NewBreakers(cfg.Breaker, s.logger)
	return s
}

// Breakers exposes the per-network breaker set.
func (s *Submitter) Breakers() *Breakers { return s.breakers }

// Submit runs one attempt per network concurrently and waits for all of them.
// No attempt is cancelled because another finished first. Failures are
// reported in the returned map, never as an error.
func (s *Submitter) Submit(ctx context.Context, tx ledger.Transaction, sg signer.Signer, networks []network.Endpoint) map[string]model.NetworkOutcome {
	results := make([]model.NetworkOutcome, len(networks))

	var g errgroup.Group
	for i, ep := range networks {
		g.Go(func() error {
			results[i] = s.attempt(ctx, ep, tx, sg)
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make(map[string]model.NetworkOutcome, len(networks))
	for _, o := range results {
		outcomes[o.NetworkName] = o
	}
	return outcomes
}

func (s *Submitter) attempt(ctx context.Context, ep network.Endpoint, tx ledger.Transaction, sg signer.Signer) model.NetworkOutcome {
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.breakers.get(ep.Name).Execute(func() (interface{}, error) {
		return s.run(actx, ep, tx, sg)
	})
	elapsed := time.Since(start)

	outcome := model.NetworkOutcome{NetworkName: ep.Name, DurationMs: elapsed.Milliseconds()}
	settlement, _ := res.(network.Settlement)
	outcome.EngineResult = settlement.EngineResult

	if err != nil {
		outcome.Error = s.describe(err)
		s.logger.Warn("network attempt failed",
			zap.String("network", ep.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		outcome.Success = true
		outcome.TransactionHash = settlement.Hash
		outcome.LedgerIndex = settlement.LedgerIndex
		s.logger.Info("network attempt settled",
			zap.String("network", ep.Name),
			zap.String("hash", settlement.Hash),
			zap.Uint32("ledger_index", settlement.LedgerIndex),
			zap.Duration("elapsed", elapsed))
	}
	s.metrics.RecordNetworkAttempt(ctx, ep.Name, outcome.Success, elapsed)
	return outcome
}

// run is one scoped connection: the client is always disconnected on the
// way out, and a panic inside the client becomes an error.
func (s *Submitter) run(ctx context.Context, ep network.Endpoint, tx ledger.Transaction, sg signer.Signer) (settlement network.Settlement, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	client := s.dial(ep)
	defer func() {
		if derr := client.Disconnect(); derr != nil {
			s.logger.Debug("disconnect failed", zap.String("network", ep.Name), zap.Error(derr))
		}
	}()

	if err := client.Connect(ctx); err != nil {
		return network.Settlement{}, err
	}
	filled, err := client.Autofill(ctx, tx)
	if err != nil {
		return network.Settlement{}, fmt.Errorf("autofill: %w", err)
	}
	signed, err := client.Sign(filled, sg)
	if err != nil {
		return network.Settlement{}, fmt.Errorf("sign: %w", err)
	}
	return client.SubmitAndWait(ctx, signed)
}

func (s *Submitter) describe(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "skipped: circuit breaker is open"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out after %s: %v", s.timeout, err)
	default:
		return err.Error()
	}
}
