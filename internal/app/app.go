// Package app assembles the pipeline and its collaborators from a loaded
// configuration. Every inbound surface (HTTP, gRPC, MCP, CLI) runs on top of
// one App.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/alert"
	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/audit"
	"github.com/ppiankov/ledgerwatch/internal/config"
	"github.com/ppiankov/ledgerwatch/internal/denylist"
	"github.com/ppiankov/ledgerwatch/internal/holdings"
	"github.com/ppiankov/ledgerwatch/internal/identity"
	"github.com/ppiankov/ledgerwatch/internal/idempotency"
	"github.com/ppiankov/ledgerwatch/internal/logging"
	"github.com/ppiankov/ledgerwatch/internal/network"
	"github.com/ppiankov/ledgerwatch/internal/pipeline"
	"github.com/ppiankov/ledgerwatch/internal/policy"
	"github.com/ppiankov/ledgerwatch/internal/signer"
	"github.com/ppiankov/ledgerwatch/internal/store"
	"github.com/ppiankov/ledgerwatch/internal/submit"
	"github.com/ppiankov/ledgerwatch/internal/telemetry"
)

// ErrNoSigningKey is returned when the configured key variable is empty.
var ErrNoSigningKey = errors.New("no signing key configured")

// App owns every long-lived component.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     store.Store
	Validator *policy.Validator
	Approvals *approval.Store
	Pipeline  *pipeline.Pipeline
	Resolver  identity.Resolver
	JWT       *identity.JWT
	Signer    signer.Signer
	Metrics   *telemetry.Metrics

	audit    *audit.Log
	guard    idempotency.Guard
	shutdown func(context.Context) error
	closeOne sync.Once
}

type options struct {
	dial   network.Dialer
	signer signer.Signer
}

// Option overrides a component, mainly for tests.
type Option func(*options)

// WithDialer replaces the websocket dialer.
func WithDialer(d network.Dialer) Option {
	return func(o *options) { o.dial = d }
}

// WithSigner replaces the signer built from the configured key.
func WithSigner(s signer.Signer) Option {
	return func(o *options) { o.signer = s }
}

// Open builds an App. On error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a = &App{Config: cfg, Logger: logger, shutdown: func(context.Context) error { return nil }}
	defer func() {
		if err != nil {
			a.Close(ctx)
			a = nil
		}
	}()

	a.Signer = o.signer
	if a.Signer == nil {
		if cfg.Secrets.SigningKey == "" {
			return a, fmt.Errorf("%w: set %s", ErrNoSigningKey, cfg.Signer.KeyEnv)
		}
		w, err := signer.NewWallet(cfg.Secrets.SigningKey)
		if err != nil {
			return a, fmt.Errorf("signing key: %w", err)
		}
		a.Signer = w
	}

	mp, shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return a, err
	}
	a.shutdown = shutdown
	if a.Metrics, err = telemetry.NewMetrics(mp); err != nil {
		return a, err
	}

	if a.Store, err = store.Open(ctx, cfg.Store); err != nil {
		return a, err
	}
	if a.guard, err = openGuard(ctx, cfg, a.Store); err != nil {
		return a, err
	}

	if a.Approvals, err = approval.NewStore(cfg.ApprovalsDir); err != nil {
		return a, err
	}
	if err := a.Approvals.Cleanup(); err != nil {
		logger.Warn("approval cleanup", zap.Error(err))
	}

	dl, err := denylist.Load(cfg.DenylistPath)
	if err != nil {
		return a, fmt.Errorf("load denylist: %w", err)
	}
	policyCfg, policyHash, err := policy.LoadConfigWithHash(cfg.PolicyPath)
	if err != nil {
		return a, fmt.Errorf("load policy: %w", err)
	}
	a.Validator = policy.NewValidator(policyCfg, policyHash, a.Store, dl, a.Approvals)

	if a.Resolver, a.JWT, err = resolver(cfg); err != nil {
		return a, err
	}

	if a.audit, err = audit.Open(cfg.AuditLog); err != nil {
		return a, err
	}
	alerts := alert.NewDispatcher(cfg.Alerts, logger.Named(logging.Ops))
	recorder := audit.NewRecorder(a.audit,
		audit.WithLogger(logger.Named(logging.Audit)),
		audit.WithMetrics(a.Metrics),
		audit.WithAlerts(alerts),
	)

	dial := o.dial
	if dial == nil {
		nopts := cfg.NetworkClient
		nopts.Logger = logger.Named(logging.Submit)
		dial = network.WebsocketDialer(nopts)
	}
	sub := submit.New(dial, cfg.Submit,
		submit.WithLogger(logger.Named(logging.Submit)),
		submit.WithMetrics(a.Metrics),
	)
	upd := holdings.New(a.Store,
		holdings.WithLogger(logger.Named(logging.Pipeline)),
		holdings.WithMetrics(a.Metrics),
	)

	a.Pipeline, err = pipeline.New(
		pipeline.Config{Networks: cfg.Networks, AcceptSimulated: cfg.AcceptSimulated},
		pipeline.Deps{
			Validator: a.Validator,
			Assets:    a.Store,
			Submitter: sub,
			Holdings:  upd,
			Signer:    a.Signer,
			Recorder:  recorder,
		},
		pipeline.WithIdempotency(a.guard),
		pipeline.WithAlerts(alerts),
		pipeline.WithMetrics(a.Metrics),
		pipeline.WithLogger(logger.Named(logging.Pipeline)),
	)
	if err != nil {
		return a, err
	}

	logger.Info("pipeline ready",
		zap.Strings("networks", cfg.NetworkNames()),
		zap.String("signer", a.Signer.Address()),
		zap.String("store", storeDriver(cfg)),
		zap.String("policy_hash", policyHash),
		zap.Bool("accept_simulated", cfg.AcceptSimulated),
	)
	return a, nil
}

func openGuard(ctx context.Context, cfg *config.Config, st store.Store) (idempotency.Guard, error) {
	switch cfg.Idempotency.Driver {
	case "redis":
		return idempotency.DialRedis(ctx, cfg.Idempotency)
	default:
		bs, ok := st.(*store.BoltStore)
		if !ok {
			return nil, fmt.Errorf("idempotency: bolt driver needs the bolt store")
		}
		return idempotency.NewBoltGuard(bs.DB(), cfg.Idempotency.Window)
	}
}

func resolver(cfg *config.Config) (identity.Resolver, *identity.JWT, error) {
	var chain identity.Chain
	var jwt *identity.JWT
	if len(cfg.Secrets.JWTSecret) > 0 {
		j, err := identity.NewJWT(cfg.Secrets.JWTSecret)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", cfg.Auth.JWTSecretEnv, err)
		}
		jwt = j
		chain = append(chain, j)
	}
	if len(cfg.Auth.Tokens) > 0 {
		reg, err := identity.NewRegistry(cfg.Auth.Tokens)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, reg)
	}
	return chain, jwt, nil
}

func storeDriver(cfg *config.Config) string {
	if cfg.Store.Driver == "" {
		return "bolt"
	}
	return cfg.Store.Driver
}

// ReloadPolicy re-reads the policy and denylist files and swaps them into
// the validator. A file that fails to parse leaves the active one in place.
func (a *App) ReloadPolicy() error {
	dl, err := denylist.Load(a.Config.DenylistPath)
	if err != nil {
		return fmt.Errorf("reload denylist: %w", err)
	}
	cfg, hash, err := policy.LoadConfigWithHash(a.Config.PolicyPath)
	if err != nil {
		return fmt.Errorf("reload policy: %w", err)
	}
	a.Validator.SetDenylist(dl)
	a.Validator.Reload(cfg, hash)
	a.Logger.Info("policy reloaded", zap.String("policy_hash", hash))
	return nil
}

// AuditPath returns the audit log location.
func (a *App) AuditPath() string { return a.audit.Path() }

// Close releases everything Open acquired. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOne.Do(func() {
		if a.guard != nil {
			errs = append(errs, a.guard.Close())
		}
		if a.audit != nil {
			errs = append(errs, a.audit.Close())
		}
		if a.Store != nil {
			errs = append(errs, a.Store.Close())
		}
		if a.shutdown != nil {
			errs = append(errs, a.shutdown(ctx))
		}
		_ = a.Logger.Sync()
	})
	return errors.Join(errs...)
}
