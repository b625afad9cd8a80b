// Package holdings applies settled transactions to asset supply and holder
// balances. Each request id is applied at most once.
package holdings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/store"
	"github.com/ppiankov/ledgerwatch/internal/telemetry"
	"github.com/ppiankov/ledgerwatch/internal/txerr"
)

// Updater is the only writer of supply and balances in the pipeline.
type Updater struct {
	store   store.Store
	locks   *keyLocks
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets the updater's logger.
func WithLogger(l *zap.Logger) Option {
	return func(u *Updater) { u.logger = l }
}

// WithMetrics sets the divergence counter.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(u *Updater) { u.metrics = m }
}

// New creates an updater over st.
func New(st store.Store, opts ...Option) *Updater {
	u := &Updater{store: st, locks: newKeyLocks(), logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Input is everything Apply needs to know about one settled request.
type Input struct {
	RequestID       string
	Request         model.ActionRequest
	Asset           model.Asset
	Result          model.TransactionResult
	AcceptSimulated bool
}

// Reserve holds the balances and supply req can debit, then runs Check
// against fresh state. Requests touching the same holder or the same
// supply wait for each other here, so a debit that passed Check cannot be
// spent twice before Apply. The caller must call release once Apply has
// run or the request was abandoned.
func (u *Updater) Reserve(ctx context.Context, req model.ActionRequest, asset model.Asset) (release func(), err error) {
	keys := reservedKeys(req, asset.ID)
	release, err = u.locks.acquire(ctx, keys)
	if err != nil {
		return nil, txerr.Wrap(txerr.KindInternal, txerr.CodeCancelled, err, "request cancelled while waiting for "+strings.Join(keys, ", "))
	}
	if req.TransactionType == model.Mint || req.TransactionType == model.Burn {
		fresh, err := u.store.GetAsset(ctx, asset.ID)
		if err != nil {
			release()
			return nil, txerr.Wrap(txerr.KindInternal, txerr.CodeInternal, err, "read asset")
		}
		asset = fresh
	}
	if err := u.Check(ctx, req, asset); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// reservedKeys names what req can run short of: the requester's balance
// for debits and the asset's supply for mint and burn.
func reservedKeys(req model.ActionRequest, assetID string) []string {
	balance := "balance/" + assetID + "/" + req.RequesterID
	supply := "supply/" + assetID
	switch req.TransactionType {
	case model.Transfer:
		return []string{balance}
	case model.Burn:
		return []string{balance, supply}
	case model.Mint:
		return []string{supply}
	}
	return nil
}

// Check runs the permission and balance checks that Apply would fail on,
// before anything is sent to a network.
func (u *Updater) Check(ctx context.Context, req model.ActionRequest, asset model.Asset) error {
	switch req.TransactionType {
	case model.Mint:
		if req.RequesterID != asset.CreatorID {
			return txerr.Permission("only the creator of %s may mint", asset.ID)
		}
		next := asset.CirculatingSupply.Add(req.Amount)
		if asset.TotalSupply.IsPositive() && next.GreaterThan(asset.TotalSupply) {
			return txerr.Validation(txerr.CodeSupplyExceeded,
				"minting %s would bring %s to %s, above total supply %s",
				req.Amount, asset.ID, next, asset.TotalSupply)
		}
	case model.Burn, model.Transfer:
		h, err := u.store.Holding(ctx, asset.ID, req.RequesterID)
		if err != nil {
			return txerr.Wrap(txerr.KindInternal, txerr.CodeInternal, err, "read holding")
		}
		if h.Balance.LessThan(req.Amount) {
			return txerr.Validation(txerr.CodeInsufficientBalance,
				"%s holds %s of %s, needs %s", req.RequesterID, h.Balance, asset.ID, req.Amount)
		}
		if req.TransactionType == model.Burn && asset.CirculatingSupply.LessThan(req.Amount) {
			return txerr.Validation(txerr.CodeInsufficientBalance,
				"burning %s exceeds circulating supply %s", req.Amount, asset.CirculatingSupply)
		}
	}
	return nil
}

// Commit derives the storage unit of work for in.
func Commit(in Input, at time.Time) store.Commit {
	req := in.Request
	c := store.Commit{
		RequestID: in.RequestID,
		AssetID:   in.Asset.ID,
		At:        at,
		Usage:     &store.Usage{UserID: req.RequesterID, Category: req.TransactionType.Category(), Amount: req.Amount},
	}
	switch req.TransactionType {
	case model.Transfer:
		if req.Destination == req.RequesterID {
			break
		}
		c.Deltas = []store.BalanceDelta{
			{Holder: req.RequesterID, Delta: req.Amount.Neg()},
			{Holder: req.Destination, Delta: req.Amount},
		}
	case model.Mint:
		c.Deltas = []store.BalanceDelta{{Holder: req.RequesterID, Delta: req.Amount}}
		c.SupplyDelta = req.Amount
	case model.Burn:
		c.Deltas = []store.BalanceDelta{{Holder: req.RequesterID, Delta: req.Amount.Neg()}}
		c.SupplyDelta = req.Amount.Neg()
	}
	return c
}

// Apply commits the effect of a settled result. A request id that was
// already applied is a no-op. Any other failure means the ledger settled but
// local state did not follow, and is returned as STATE_DIVERGED.
func (u *Updater) Apply(ctx context.Context, in Input) error {
	if !in.Result.Success && !(in.Result.Simulated && in.AcceptSimulated) {
		return txerr.New(txerr.KindInternal, txerr.CodeInternal, "refusing to apply unsettled result for %s", in.RequestID)
	}
	err := u.store.Commit(ctx, Commit(in, u.now().UTC()))
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrAlreadyApplied) {
		u.logger.Info("request already applied", zap.String("request_id", in.RequestID))
		return nil
	}

	u.logger.Error("state diverged from ledger",
		zap.String("request_id", in.RequestID),
		zap.String("asset_id", in.Asset.ID),
		zap.String("type", string(in.Request.TransactionType)),
		zap.String("hash", in.Result.TransactionHash),
		zap.Error(err),
	)
	u.metrics.RecordDivergence(ctx, in.Asset.ID)
	e := txerr.Wrap(txerr.KindApply, txerr.CodeStateDiverged, err,
		fmt.Sprintf("settled as %s but holdings were not updated", in.Result.TransactionHash))
	e.Details = map[string]string{"request_id": in.RequestID, "asset_id": in.Asset.ID}
	return e
}
