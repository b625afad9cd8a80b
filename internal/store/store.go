// Package store persists asset records, holdings, verification status and
// daily usage. Balance changes are applied as atomic units that never leave
// a negative balance behind.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientBalance is returned when a debit would go below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrSupplyExceeded is returned when a mint would exceed total supply.
	ErrSupplyExceeded = errors.New("total supply exceeded")
	// ErrAlreadyApplied is returned when a request id was committed before.
	ErrAlreadyApplied = errors.New("request already applied")
	// ErrConflict is returned when a compare-and-swap kept losing.
	ErrConflict = errors.New("concurrent update conflict")
)

// Holding is one holder's balance of one asset.
type Holding struct {
	AssetID string          `json:"asset_id"`
	Holder  string          `json:"holder"`
	Balance decimal.Decimal `json:"balance"`
	Version int64           `json:"version"`
}

// BalanceDelta is a signed change to one holder's balance.
type BalanceDelta struct {
	Holder string
	Delta  decimal.Decimal
}

// Usage is an amount counted against a requester's daily limit.
type Usage struct {
	UserID   string
	Category string
	Amount   decimal.Decimal
}

// Commit is one atomic unit of work: balance deltas, a supply delta, a usage
// record and the applied marker for RequestID all land together or not at all.
type Commit struct {
	RequestID   string
	AssetID     string
	Deltas      []BalanceDelta
	SupplyDelta decimal.Decimal
	Usage       *Usage
	At          time.Time
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetAsset(ctx context.Context, id string) (model.Asset, error)
	PutAsset(ctx context.Context, a model.Asset) error
	ListAssets(ctx context.Context) ([]model.Asset, error)

	Holding(ctx context.Context, assetID, holder string) (Holding, error)
	// AdjustBalance changes one balance by delta with a compare-and-swap on
	// the holding's version, rejecting results below zero.
	AdjustBalance(ctx context.Context, assetID, holder string, delta decimal.Decimal) (Holding, error)

	KYCStatus(ctx context.Context, userID string) (model.KYCStatus, error)
	SetKYCStatus(ctx context.Context, userID string, status model.KYCStatus) error

	DailyUsage(ctx context.Context, userID, category string, day time.Time) (decimal.Decimal, error)

	Commit(ctx context.Context, c Commit) error
	Applied(ctx context.Context, requestID string) (bool, error)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	MaxConns    int32  `yaml:"max_conns"`
}

// Open opens the configured backend. Driver defaults to bolt.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "bolt":
		return OpenBolt(cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// DayKey is the UTC calendar day used to bucket daily usage.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func validateCommit(c Commit) error {
	if c.RequestID == "" {
		return fmt.Errorf("commit: request id must not be empty")
	}
	if c.AssetID == "" && (len(c.Deltas) > 0 || !c.SupplyDelta.IsZero()) {
		return fmt.Errorf("commit: asset id must not be empty")
	}
	seen := make(map[string]bool, len(c.Deltas))
	for _, d := range c.Deltas {
		if d.Holder == "" {
			return fmt.Errorf("commit: holder must not be empty")
		}
		if seen[d.Holder] {
			return fmt.Errorf("commit: holder %q appears twice", d.Holder)
		}
		seen[d.Holder] = true
	}
	return nil
}

// applySupply returns the new circulating supply or an error.
func applySupply(a model.Asset, delta decimal.Decimal) (decimal.Decimal, error) {
	next := a.CirculatingSupply.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: circulating supply of %s would become %s", ErrInsufficientBalance, a.ID, next)
	}
	if a.TotalSupply.IsPositive() && next.GreaterThan(a.TotalSupply) {
		return decimal.Zero, fmt.Errorf("%w: %s would reach %s of %s", ErrSupplyExceeded, a.ID, next, a.TotalSupply)
	}
	return next, nil
}
