// Package policy validates inbound action requests. It checks the field
// whitelist and request shape, then the compliance rules of the target asset.
package policy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/denylist"
	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/ratelimit"
	"github.com/ppiankov/ledgerwatch/internal/store"
	"github.com/ppiankov/ledgerwatch/internal/txerr"
)

// AssetStore is the state the validator reads.
type AssetStore interface {
	ComplianceStore
	GetAsset(ctx context.Context, id string) (model.Asset, error)
}

type snapshot struct {
	cfg  *PolicyConfig
	hash string
	dl   *denylist.Denylist
}

// Validator holds the active policy. The policy can be swapped at runtime;
// each call sees one consistent snapshot.
type Validator struct {
	current   atomic.Pointer[snapshot]
	writeMu   sync.Mutex
	store     AssetStore
	limiter   *ratelimit.Tracker
	approvals *approval.Store
	now       func() time.Time
}

// NewValidator creates a validator over st. dl and approvals may be nil.
func NewValidator(cfg *PolicyConfig, hash string, st AssetStore, dl *denylist.Denylist, approvals *approval.Store) *Validator {
	v := &Validator{
		store:     st,
		limiter:   ratelimit.NewTracker(),
		approvals: approvals,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	v.current.Store(&snapshot{cfg: cfg, hash: hash, dl: dl})
	return v
}

// Reload swaps the active policy.
func (v *Validator) Reload(cfg *PolicyConfig, hash string) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	v.current.Store(&snapshot{cfg: cfg, hash: hash, dl: v.current.Load().dl})
}

// SetDenylist swaps the active denylist.
func (v *Validator) SetDenylist(dl *denylist.Denylist) {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	cur := v.current.Load()
	v.current.Store(&snapshot{cfg: cur.cfg, hash: cur.hash, dl: dl})
}

// Policy returns the active policy and its hash.
func (v *Validator) Policy() (*PolicyConfig, string) {
	s := v.current.Load()
	return s.cfg, s.hash
}

// Validate runs Parse then Evaluate.
func (v *Validator) Validate(ctx context.Context, raw map[string]any, principal model.Principal) (model.ActionRequest, model.ComplianceDecision, error) {
	req, err := v.Parse(raw, principal)
	if err != nil {
		return req, model.ComplianceDecision{}, err
	}
	d, err := v.Evaluate(ctx, req, principal)
	return req, d, err
}

// Parse checks that principal may execute at all and decodes raw against
// the field whitelist. It reads no ledger state.
func (v *Validator) Parse(raw map[string]any, principal model.Principal) (model.ActionRequest, error) {
	snap := v.current.Load()
	if snap.cfg.AdminOnly && !principal.IsAdmin() {
		return model.ActionRequest{}, txerr.New(txerr.KindAuth, txerr.CodeForbidden,
			"role %q may not execute transactions", principal.Role)
	}
	return Parse(raw, principal, snap.cfg)
}

// Evaluate runs the compliance checks for a parsed request. It counts
// against the rate limit and may queue an approval, but never consumes
// one; see ConsumeApproval. The returned decision is meaningful whenever
// the asset exists, including on a compliance rejection.
func (v *Validator) Evaluate(ctx context.Context, req model.ActionRequest, principal model.Principal) (model.ComplianceDecision, error) {
	snap := v.current.Load()
	asset, err := v.store.GetAsset(ctx, req.AssetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.ComplianceDecision{}, txerr.Validation(txerr.CodeAssetNotFound, "asset %q does not exist", req.AssetID)
		}
		return model.ComplianceDecision{}, txerr.Wrap(txerr.KindInternal, txerr.CodeInternal, err, "read asset")
	}

	decision := Evaluate(ctx, req, asset, principal, snap.cfg, Inputs{
		Store:     v.store,
		Denylist:  snap.dl,
		Limiter:   v.limiter,
		Approvals: v.approvals,
		Now:       v.now(),
	})
	return decision, txerr.FromDecision(decision)
}

// ConsumeApproval marks the operator approval a passing decision relied on
// as used. It is a no-op for decisions that needed none. Call it once the
// request is about to be submitted.
func (v *Validator) ConsumeApproval(d model.ComplianceDecision) error {
	key := d.Details["approval"]
	if !d.Passed || key == "" || key == approvalAdmin {
		return nil
	}
	if v.approvals == nil {
		return txerr.New(txerr.KindCompliance, txerr.CodeApprovalRequired, "no approval queue is configured")
	}
	if err := v.approvals.Consume(key); err != nil {
		e := txerr.New(txerr.KindCompliance, txerr.CodeApprovalRequired, "%v", err)
		e.Details = map[string]string{"approval_key": key}
		return e
	}
	return nil
}
