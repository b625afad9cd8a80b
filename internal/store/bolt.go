package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	bolt "go.etcd.io/bbolt"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

var (
	bucketAssets   = []byte("assets")
	bucketHoldings = []byte("holdings")
	bucketKYC      = []byte("kyc")
	bucketUsage    = []byte("usage")
	bucketApplied  = []byte("applied")
)

// BoltStore is a single-file Store. bbolt allows one writer at a time, so
// every Commit is serialized.
type BoltStore struct {
	db *bolt.DB
}

// DefaultPath returns the default database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ledgerwatch", "ledgerwatch.db")
	}
	return filepath.Join(home, ".ledgerwatch", "ledgerwatch.db")
}

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAssets, bucketHoldings, bucketKYC, bucketUsage, bucketApplied} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// DB exposes the underlying database for components sharing the file.
func (s *BoltStore) DB() *bolt.DB { return s.db }

// Close closes the database.
func (s *BoltStore) Close() error { return s.db.Close() }

func holdingKey(assetID, holder string) []byte {
	return []byte(assetID + "\x00" + holder)
}

func usageKey(userID, category string, day time.Time) []byte {
	return []byte(userID + "\x00" + category + "\x00" + DayKey(day))
}

func (s *BoltStore) GetAsset(_ context.Context, id string) (model.Asset, error) {
	var a model.Asset
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		a, err = readAsset(tx, id)
		return err
	})
	return a, err
}

func readAsset(tx *bolt.Tx, id string) (model.Asset, error) {
	v := tx.Bucket(bucketAssets).Get([]byte(id))
	if v == nil {
		return model.Asset{}, fmt.Errorf("asset %q: %w", id, ErrNotFound)
	}
	var a model.Asset
	if err := json.Unmarshal(v, &a); err != nil {
		return model.Asset{}, fmt.Errorf("asset %q: decode: %w", id, err)
	}
	return a, nil
}

func writeAsset(tx *bolt.Tx, a model.Asset) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketAssets).Put([]byte(a.ID), data)
}

// PutAsset creates or replaces an asset record.
func (s *BoltStore) PutAsset(_ context.Context, a model.Asset) error {
	if a.ID == "" {
		return fmt.Errorf("asset id must not be empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if prev, err := readAsset(tx, a.ID); err == nil {
			a.Version = prev.Version + 1
		}
		return writeAsset(tx, a)
	})
}

func (s *BoltStore) ListAssets(_ context.Context) ([]model.Asset, error) {
	var out []model.Asset
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).ForEach(func(_, v []byte) error {
			var a model.Asset
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	return out, err
}

type holdingRecord struct {
	Balance decimal.Decimal `json:"balance"`
	Version int64           `json:"version"`
}

func readHolding(tx *bolt.Tx, assetID, holder string) (Holding, error) {
	h := Holding{AssetID: assetID, Holder: holder, Balance: decimal.Zero}
	v := tx.Bucket(bucketHoldings).Get(holdingKey(assetID, holder))
	if v == nil {
		return h, nil
	}
	var rec holdingRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return h, fmt.Errorf("holding %s/%s: decode: %w", assetID, holder, err)
	}
	h.Balance = rec.Balance
	h.Version = rec.Version
	return h, nil
}

// casHolding writes balance only if the stored version still equals
// expectedVersion.
func casHolding(tx *bolt.Tx, assetID, holder string, expectedVersion int64, balance decimal.Decimal) (Holding, error) {
	cur, err := readHolding(tx, assetID, holder)
	if err != nil {
		return Holding{}, err
	}
	if cur.Version != expectedVersion {
		return Holding{}, fmt.Errorf("%w: holding %s/%s at version %d, expected %d", ErrConflict, assetID, holder, cur.Version, expectedVersion)
	}
	data, err := json.Marshal(holdingRecord{Balance: balance, Version: expectedVersion + 1})
	if err != nil {
		return Holding{}, err
	}
	if err := tx.Bucket(bucketHoldings).Put(holdingKey(assetID, holder), data); err != nil {
		return Holding{}, err
	}
	return Holding{AssetID: assetID, Holder: holder, Balance: balance, Version: expectedVersion + 1}, nil
}

func adjustHolding(tx *bolt.Tx, assetID, holder string, delta decimal.Decimal) (Holding, error) {
	cur, err := readHolding(tx, assetID, holder)
	if err != nil {
		return Holding{}, err
	}
	next := cur.Balance.Add(delta)
	if next.IsNegative() {
		return Holding{}, fmt.Errorf("%w: %s holds %s of %s, change %s", ErrInsufficientBalance, holder, cur.Balance, assetID, delta)
	}
	return casHolding(tx, assetID, holder, cur.Version, next)
}

func (s *BoltStore) Holding(_ context.Context, assetID, holder string) (Holding, error) {
	var h Holding
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		h, err = readHolding(tx, assetID, holder)
		return err
	})
	return h, err
}

func (s *BoltStore) AdjustBalance(_ context.Context, assetID, holder string, delta decimal.Decimal) (Holding, error) {
	var h Holding
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		h, err = adjustHolding(tx, assetID, holder, delta)
		return err
	})
	return h, err
}

func (s *BoltStore) KYCStatus(_ context.Context, userID string) (model.KYCStatus, error) {
	status := model.KYCNone
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketKYC).Get([]byte(userID)); v != nil {
			status = model.ParseKYCStatus(string(v))
		}
		return nil
	})
	return status, err
}

func (s *BoltStore) SetKYCStatus(_ context.Context, userID string, status model.KYCStatus) error {
	if userID == "" {
		return fmt.Errorf("user id must not be empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKYC).Put([]byte(userID), []byte(status))
	})
}

func (s *BoltStore) DailyUsage(_ context.Context, userID, category string, day time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUsage).Get(usageKey(userID, category, day))
		if v == nil {
			return nil
		}
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("usage %s/%s: decode: %w", userID, category, err)
		}
		total = d
		return nil
	})
	return total, err
}

func (s *BoltStore) Applied(_ context.Context, requestID string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketApplied).Get([]byte(requestID)) != nil
		return nil
	})
	return ok, err
}

// Commit applies c in a single write transaction. Any failure rolls back
// every change in c.
func (s *BoltStore) Commit(_ context.Context, c Commit) error {
	if err := validateCommit(c); err != nil {
		return err
	}
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		applied := tx.Bucket(bucketApplied)
		if applied.Get([]byte(c.RequestID)) != nil {
			return fmt.Errorf("%s: %w", c.RequestID, ErrAlreadyApplied)
		}

		deltas := append([]BalanceDelta(nil), c.Deltas...)
		sort.Slice(deltas, func(i, j int) bool { return deltas[i].Holder < deltas[j].Holder })
		for _, d := range deltas {
			if _, err := adjustHolding(tx, c.AssetID, d.Holder, d.Delta); err != nil {
				return err
			}
		}

		if !c.SupplyDelta.IsZero() {
			a, err := readAsset(tx, c.AssetID)
			if err != nil {
				return err
			}
			next, err := applySupply(a, c.SupplyDelta)
			if err != nil {
				return err
			}
			a.CirculatingSupply = next
			a.Version++
			if err := writeAsset(tx, a); err != nil {
				return err
			}
		}

		if c.Usage != nil && c.Usage.Amount.IsPositive() {
			key := usageKey(c.Usage.UserID, c.Usage.Category, at)
			total := decimal.Zero
			if v := tx.Bucket(bucketUsage).Get(key); v != nil {
				prev, err := decimal.NewFromString(string(v))
				if err != nil {
					return fmt.Errorf("usage: decode: %w", err)
				}
				total = prev
			}
			if err := tx.Bucket(bucketUsage).Put(key, []byte(total.Add(c.Usage.Amount).String())); err != nil {
				return err
			}
		}

		return applied.Put([]byte(c.RequestID), []byte(at.Format(time.RFC3339Nano)))
	})
}
