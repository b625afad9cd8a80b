package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// maxCASAttempts bounds compare-and-swap retries on one row.
const maxCASAttempts = 8

// PostgresStore is a Store on PostgreSQL. Balance rows carry a version
// column; every change is a conditional UPDATE on that version, so writers
// touching disjoint holdings never wait on each other.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: postgres dsn must not be empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const selectAsset = `SELECT id, symbol, issuer_address, currency_code, creator_id,
	total_supply::text, circulating_supply::text, kyc_required, daily_limit::text,
	admin_approval_required, version FROM assets`

func scanAsset(row pgx.Row) (model.Asset, error) {
	var a model.Asset
	var total, circ, limit string
	err := row.Scan(&a.ID, &a.Symbol, &a.IssuerAddress, &a.CurrencyCode, &a.CreatorID,
		&total, &circ, &a.Rules.KYCRequired, &limit, &a.Rules.AdminApprovalRequired, &a.Version)
	if err != nil {
		return model.Asset{}, err
	}
	if a.TotalSupply, err = decimal.NewFromString(total); err != nil {
		return model.Asset{}, err
	}
	if a.CirculatingSupply, err = decimal.NewFromString(circ); err != nil {
		return model.Asset{}, err
	}
	if a.Rules.DailyLimit, err = decimal.NewFromString(limit); err != nil {
		return model.Asset{}, err
	}
	return a, nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (model.Asset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx, selectAsset+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Asset{}, fmt.Errorf("asset %q: %w", id, ErrNotFound)
	}
	return a, err
}

func (s *PostgresStore) PutAsset(ctx context.Context, a model.Asset) error {
	if a.ID == "" {
		return fmt.Errorf("asset id must not be empty")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO assets (id, symbol, issuer_address, currency_code, creator_id,
		total_supply, circulating_supply, kyc_required, daily_limit, admin_approval_required, version)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9::numeric, $10, 0)
		ON CONFLICT (id) DO UPDATE SET symbol = EXCLUDED.symbol, issuer_address = EXCLUDED.issuer_address,
		currency_code = EXCLUDED.currency_code, creator_id = EXCLUDED.creator_id,
		total_supply = EXCLUDED.total_supply, circulating_supply = EXCLUDED.circulating_supply,
		kyc_required = EXCLUDED.kyc_required, daily_limit = EXCLUDED.daily_limit,
		admin_approval_required = EXCLUDED.admin_approval_required, version = assets.version + 1`,
		a.ID, a.Symbol, a.IssuerAddress, a.CurrencyCode, a.CreatorID,
		a.TotalSupply.String(), a.CirculatingSupply.String(), a.Rules.KYCRequired,
		a.Rules.DailyLimit.String(), a.Rules.AdminApprovalRequired)
	return err
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	rows, err := s.pool.Query(ctx, selectAsset+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func readHoldingPG(ctx context.Context, tx pgx.Tx, assetID, holder string) (Holding, bool, error) {
	h := Holding{AssetID: assetID, Holder: holder, Balance: decimal.Zero}
	var bal string
	err := tx.QueryRow(ctx, `SELECT balance::text, version FROM holdings WHERE asset_id = $1 AND holder = $2`,
		assetID, holder).Scan(&bal, &h.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, false, nil
	}
	if err != nil {
		return h, false, err
	}
	if h.Balance, err = decimal.NewFromString(bal); err != nil {
		return h, false, err
	}
	return h, true, nil
}

// adjustHoldingPG is the compare-and-swap loop: read the row, compute the
// new balance, and update only if the version is unchanged.
func adjustHoldingPG(ctx context.Context, tx pgx.Tx, assetID, holder string, delta decimal.Decimal) (Holding, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, exists, err := readHoldingPG(ctx, tx, assetID, holder)
		if err != nil {
			return Holding{}, err
		}
		next := cur.Balance.Add(delta)
		if next.IsNegative() {
			return Holding{}, fmt.Errorf("%w: %s holds %s of %s, change %s", ErrInsufficientBalance, holder, cur.Balance, assetID, delta)
		}

		if !exists {
			tag, err := tx.Exec(ctx, `INSERT INTO holdings (asset_id, holder, balance, version)
				VALUES ($1, $2, $3::numeric, 1) ON CONFLICT (asset_id, holder) DO NOTHING`,
				assetID, holder, next.String())
			if err != nil {
				return Holding{}, err
			}
			if tag.RowsAffected() == 1 {
				return Holding{AssetID: assetID, Holder: holder, Balance: next, Version: 1}, nil
			}
			continue
		}

		tag, err := tx.Exec(ctx, `UPDATE holdings SET balance = $3::numeric, version = version + 1
			WHERE asset_id = $1 AND holder = $2 AND version = $4`,
			assetID, holder, next.String(), cur.Version)
		if err != nil {
			return Holding{}, err
		}
		if tag.RowsAffected() == 1 {
			return Holding{AssetID: assetID, Holder: holder, Balance: next, Version: cur.Version + 1}, nil
		}
	}
	return Holding{}, fmt.Errorf("%w: holding %s/%s", ErrConflict, assetID, holder)
}

func adjustSupplyPG(ctx context.Context, tx pgx.Tx, assetID string, delta decimal.Decimal) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		a, err := scanAsset(tx.QueryRow(ctx, selectAsset+` WHERE id = $1`, assetID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("asset %q: %w", assetID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		next, err := applySupply(a, delta)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE assets SET circulating_supply = $2::numeric, version = version + 1
			WHERE id = $1 AND version = $3`, assetID, next.String(), a.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
	}
	return fmt.Errorf("%w: asset %s supply", ErrConflict, assetID)
}

func (s *PostgresStore) Holding(ctx context.Context, assetID, holder string) (Holding, error) {
	h := Holding{AssetID: assetID, Holder: holder, Balance: decimal.Zero}
	var bal string
	err := s.pool.QueryRow(ctx, `SELECT balance::text, version FROM holdings WHERE asset_id = $1 AND holder = $2`,
		assetID, holder).Scan(&bal, &h.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, nil
	}
	if err != nil {
		return h, err
	}
	h.Balance, err = decimal.NewFromString(bal)
	return h, err
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, assetID, holder string, delta decimal.Decimal) (Holding, error) {
	var h Holding
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var err error
		h, err = adjustHoldingPG(ctx, tx, assetID, holder, delta)
		return err
	})
	return h, err
}

func (s *PostgresStore) KYCStatus(ctx context.Context, userID string) (model.KYCStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM kyc WHERE user_id = $1`, userID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.KYCNone, nil
	}
	if err != nil {
		return model.KYCNone, err
	}
	return model.ParseKYCStatus(status), nil
}

func (s *PostgresStore) SetKYCStatus(ctx context.Context, userID string, status model.KYCStatus) error {
	if userID == "" {
		return fmt.Errorf("user id must not be empty")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO kyc (user_id, status, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`, userID, string(status))
	return err
}

func (s *PostgresStore) DailyUsage(ctx context.Context, userID, category string, day time.Time) (decimal.Decimal, error) {
	var total string
	err := s.pool.QueryRow(ctx, `SELECT total::text FROM daily_usage WHERE user_id = $1 AND category = $2 AND day = $3::date`,
		userID, category, DayKey(day)).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(total)
}

func (s *PostgresStore) Applied(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM applied_requests WHERE request_id = $1)`, requestID).Scan(&exists)
	return exists, err
}

// Commit applies c in one transaction. Holdings are touched in holder order
// so two commits over the same pair cannot deadlock.
func (s *PostgresStore) Commit(ctx context.Context, c Commit) error {
	if err := validateCommit(c); err != nil {
		return err
	}
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO applied_requests (request_id, applied_at) VALUES ($1, $2)
			ON CONFLICT (request_id) DO NOTHING`, c.RequestID, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%s: %w", c.RequestID, ErrAlreadyApplied)
		}

		deltas := append([]BalanceDelta(nil), c.Deltas...)
		sort.Slice(deltas, func(i, j int) bool { return deltas[i].Holder < deltas[j].Holder })
		for _, d := range deltas {
			if _, err := adjustHoldingPG(ctx, tx, c.AssetID, d.Holder, d.Delta); err != nil {
				return err
			}
		}

		if !c.SupplyDelta.IsZero() {
			if err := adjustSupplyPG(ctx, tx, c.AssetID, c.SupplyDelta); err != nil {
				return err
			}
		}

		if c.Usage != nil && c.Usage.Amount.IsPositive() {
			if _, err := tx.Exec(ctx, `INSERT INTO daily_usage (user_id, category, day, total)
				VALUES ($1, $2, $3::date, $4::numeric)
				ON CONFLICT (user_id, category, day) DO UPDATE SET total = daily_usage.total + EXCLUDED.total`,
				c.Usage.UserID, c.Usage.Category, DayKey(at), c.Usage.Amount.String()); err != nil {
				return err
			}
		}
		return nil
	})
}
