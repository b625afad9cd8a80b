// Package pipeline runs one raw action request through validation,
// transaction building, multi-network submission, reconciliation and the
// local holdings update, and records it in the audit log.
//
// Every request gets exactly one audit open entry and one close entry,
// whatever path it takes. Cancellation of the caller's context is honoured
// only up to submission; once a signed transaction may have left the
// process, the request runs to completion.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/alert"
	"github.com/ppiankov/ledgerwatch/internal/audit"
	"github.com/ppiankov/ledgerwatch/internal/holdings"
	"github.com/ppiankov/ledgerwatch/internal/identity"
	"github.com/ppiankov/ledgerwatch/internal/idempotency"
	"github.com/ppiankov/ledgerwatch/internal/ledger"
	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/network"
	"github.com/ppiankov/ledgerwatch/internal/policy"
	"github.com/ppiankov/ledgerwatch/internal/reconcile"
	"github.com/ppiankov/ledgerwatch/internal/signer"
	"github.com/ppiankov/ledgerwatch/internal/submit"
	"github.com/ppiankov/ledgerwatch/internal/telemetry"
	"github.com/ppiankov/ledgerwatch/internal/txerr"
)

// Request outcomes reported to metrics and logs.
const (
	OutcomeSettled   = "settled"
	OutcomeSimulated = "simulated"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeDiverged  = "diverged"
	OutcomeReplayed  = "replayed"
)

// Config is fixed for the life of a Pipeline.
type Config struct {
	// Networks are tried in parallel; their order decides which success is
	// authoritative.
	Networks []network.Endpoint
	// AcceptSimulated applies holdings for a simulated result when every
	// network failed. Development use only.
	AcceptSimulated bool
}

// Deps are the stages a Pipeline drives.
type Deps struct {
	Validator *policy.Validator
	Assets    AssetReader
	Submitter *submit.Submitter
	Holdings  *holdings.Updater
	Signer    signer.Signer
	Recorder  *audit.Recorder
}

// AssetReader loads the asset a validated request refers to.
type AssetReader interface {
	GetAsset(ctx context.Context, id string) (model.Asset, error)
}

// Pipeline executes action requests.
type Pipeline struct {
	cfg     Config
	order   []string
	deps    Deps
	guard   idempotency.Guard
	alerts  *alert.Dispatcher
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithIdempotency enables idempotency keys.
func WithIdempotency(g idempotency.Guard) Option {
	return func(p *Pipeline) { p.guard = g }
}

// WithAlerts sets the alert dispatcher.
func WithAlerts(d *alert.Dispatcher) Option {
	return func(p *Pipeline) { p.alerts = d }
}

// WithMetrics sets the request counter.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New checks deps and builds a Pipeline.
func New(cfg Config, deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Validator == nil:
		return nil, errors.New("pipeline: validator is required")
	case deps.Assets == nil:
		return nil, errors.New("pipeline: asset reader is required")
	case deps.Submitter == nil:
		return nil, errors.New("pipeline: submitter is required")
	case deps.Holdings == nil:
		return nil, errors.New("pipeline: holdings updater is required")
	case deps.Signer == nil:
		return nil, errors.New("pipeline: signer is required")
	case deps.Recorder == nil:
		return nil, errors.New("pipeline: audit recorder is required")
	}
	seen := make(map[string]bool, len(cfg.Networks))
	order := make([]string, 0, len(cfg.Networks))
	for _, ep := range cfg.Networks {
		if seen[ep.Name] {
			return nil, fmt.Errorf("pipeline: duplicate network %q", ep.Name)
		}
		seen[ep.Name] = true
		order = append(order, ep.Name)
	}

	p := &Pipeline{
		cfg:    Config{Networks: append([]network.Endpoint(nil), cfg.Networks...), AcceptSimulated: cfg.AcceptSimulated},
		order:  order,
		deps:   deps,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Response is the outcome of one Execute call. Transaction is set whenever
// something reached a network, including failures.
type Response struct {
	RequestID   string                    `json:"requestId"`
	Success     bool                      `json:"success"`
	Transaction *model.Receipt            `json:"transaction,omitempty"`
	Decision    *model.ComplianceDecision `json:"decision,omitempty"`
	Replayed    bool                      `json:"replayed,omitempty"`
	Error       *ErrorBody                `json:"error,omitempty"`
}

// ErrorBody is the caller-facing form of a classified error.
type ErrorBody struct {
	Code    string            `json:"code"`
	Kind    txerr.Kind        `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// BodyOf converts err for callers. Unclassified errors are reported as
// internal without their text.
func BodyOf(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	e := txerr.As(err)
	msg := e.Message
	if e.Kind == txerr.KindInternal && e.Code == txerr.CodeInternal {
		msg = "internal error"
	}
	return &ErrorBody{Code: e.Code, Kind: e.Kind, Message: msg, Details: e.Details}
}

// Status returns the transport status for resp.
func (r Response) Status() int {
	if r.Error == nil {
		return txerr.HTTPStatus(nil)
	}
	return txerr.HTTPStatus(&txerr.Error{Kind: r.Error.Kind, Code: r.Error.Code})
}

// Err rebuilds the classified error carried by r.
func (r Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return &txerr.Error{Kind: r.Error.Kind, Code: r.Error.Code, Message: r.Error.Message, Details: r.Error.Details}
}

// Policy returns the active policy hash.
func (p *Pipeline) Policy() string {
	_, hash := p.deps.Validator.Policy()
	return hash
}

// Execute runs raw through the pipeline on behalf of principal. The returned
// Response is always populated; err is the classified failure, if any.
func (p *Pipeline) Execute(ctx context.Context, raw map[string]any, principal model.Principal) (Response, error) {
	requestID := identity.NewRequestID()
	_, policyHash := p.deps.Validator.Policy()
	log := p.logger.With(zap.String("request_id", requestID), zap.String("principal", principal.UserID))

	p.deps.Recorder.Open(ctx, requestID, principal, raw, policyHash)
	st := &run{requestID: requestID, policyHash: policyHash}
	resp, err := p.execute(ctx, st, raw, principal, log)
	if resp.RequestID == "" {
		resp.RequestID = requestID
	}
	resp.Success = err == nil
	resp.Error = BodyOf(err)

	closeCtx := context.WithoutCancel(ctx)
	out := audit.Outcome{Request: st.req, Decision: resp.Decision, Result: st.result, PolicyHash: policyHash}
	if resp.Error != nil {
		out.ErrorCode = resp.Error.Code
	}
	p.deps.Recorder.Close(closeCtx, requestID, out)

	outcome := st.outcome(err)
	p.metrics.RecordRequest(closeCtx, outcome)
	if err != nil {
		log.Info("request finished", zap.String("outcome", outcome), zap.Error(err))
	} else {
		log.Info("request finished", zap.String("outcome", outcome), zap.String("hash", resp.Transaction.Hash))
	}
	return resp, err
}

// run carries per-request state between stages.
type run struct {
	requestID  string
	policyHash string
	req        model.ActionRequest
	result     *model.TransactionResult
	submitted  bool
	replayed   bool
}

func (r *run) outcome(err error) string {
	switch {
	case r.replayed:
		return OutcomeReplayed
	case err == nil && r.result != nil && r.result.Simulated:
		return OutcomeSimulated
	case err == nil:
		return OutcomeSettled
	case txerr.Is(err, txerr.KindApply):
		return OutcomeDiverged
	case r.submitted:
		return OutcomeFailed
	default:
		return OutcomeRejected
	}
}

func (p *Pipeline) execute(ctx context.Context, r *run, raw map[string]any, principal model.Principal, log *zap.Logger) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, cancelled(err)
	}

	req, err := p.deps.Validator.Parse(raw, principal)
	r.req = req
	if err != nil {
		return Response{}, err
	}

	// Completed keys replay without running compliance again.
	key, claimed, replay, err := p.claim(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if replay != nil {
		r.replayed = true
		replay.Replayed = true
		log.Info("idempotent replay", zap.String("original_request_id", replay.RequestID))
		return *replay, replay.Err()
	}
	if claimed {
		defer func() {
			if !r.submitted {
				if err := p.guard.Release(context.WithoutCancel(ctx), key); err != nil {
					log.Warn("release idempotency claim", zap.Error(err))
				}
			}
		}()
	}

	decision, err := p.deps.Validator.Evaluate(ctx, req, principal)
	var resp Response
	if decision.Decision != "" {
		resp.Decision = &decision
	}
	if err != nil {
		return resp, err
	}

	asset, err := p.deps.Assets.GetAsset(ctx, req.AssetID)
	if err != nil {
		return resp, txerr.Wrap(txerr.KindValidation, txerr.CodeAssetNotFound, err, "asset "+req.AssetID)
	}
	release, err := p.deps.Holdings.Reserve(ctx, req, asset)
	if err != nil {
		return resp, err
	}
	defer release()

	tx, err := ledger.Build(req, asset, p.deps.Signer.Address())
	if err != nil {
		return resp, err
	}
	if len(p.cfg.Networks) == 0 && !p.cfg.AcceptSimulated {
		return resp, txerr.New(txerr.KindNetwork, txerr.CodeAllNetworksFailed, "no ledger networks configured")
	}
	if err := ctx.Err(); err != nil {
		return resp, cancelled(err)
	}
	if err := p.deps.Validator.ConsumeApproval(decision); err != nil {
		return resp, err
	}

	// Past this point the transaction may reach a ledger.
	r.submitted = true
	sctx := context.WithoutCancel(ctx)
	outcomes := p.deps.Submitter.Submit(sctx, tx, p.deps.Signer, p.cfg.Networks)
	result := reconcile.Reconcile(p.order, outcomes, r.requestID, tx)
	r.result = &result
	resp.Transaction = p.receipt(req, asset, result)

	err = p.settle(sctx, r, req, asset, result, log)
	if claimed {
		resp.RequestID = r.requestID
		p.complete(sctx, key, resp, err, log)
	}
	return resp, err
}

// settle decides what a reconciled result means for local state.
func (p *Pipeline) settle(ctx context.Context, r *run, req model.ActionRequest, asset model.Asset, result model.TransactionResult, log *zap.Logger) error {
	if !result.Success {
		p.alerts.Dispatch(alert.AlertEvent{
			Type:      alert.EventAllNetworksFailed,
			RequestID: r.requestID,
			AssetID:   asset.ID,
			Message:   result.ErrorMessage,
			Details:   map[string]string{"type": string(req.TransactionType), "networks": strings.Join(p.order, ",")},
		})
		if !p.cfg.AcceptSimulated {
			return txerr.New(txerr.KindNetwork, txerr.CodeAllNetworksFailed, "%s", result.ErrorMessage)
		}
		log.Warn("applying simulated result", zap.String("hash", result.TransactionHash))
	}

	err := p.deps.Holdings.Apply(ctx, holdings.Input{
		RequestID:       r.requestID,
		Request:         req,
		Asset:           asset,
		Result:          result,
		AcceptSimulated: p.cfg.AcceptSimulated,
	})
	if err != nil && txerr.Is(err, txerr.KindApply) {
		p.alerts.Dispatch(alert.AlertEvent{
			Type:      alert.EventStateDiverged,
			RequestID: r.requestID,
			AssetID:   asset.ID,
			Message:   err.Error(),
			Details:   map[string]string{"hash": result.TransactionHash, "network": result.Network},
		})
	}
	return err
}

func (p *Pipeline) receipt(req model.ActionRequest, asset model.Asset, result model.TransactionResult) *model.Receipt {
	amount := ""
	if !req.Amount.IsZero() {
		amount = req.Amount.String()
	}
	return &model.Receipt{
		Hash:           result.TransactionHash,
		LedgerIndex:    result.LedgerIndex,
		Type:           req.TransactionType,
		AssetSymbol:    asset.Symbol,
		Amount:         amount,
		Timestamp:      p.now().UTC(),
		Simulated:      result.Simulated,
		NetworkResults: result.NetworkResults,
	}
}

// claim takes the idempotency key for req. A non-nil replay is the stored
// response of a completed earlier request.
func (p *Pipeline) claim(ctx context.Context, req model.ActionRequest) (key string, claimed bool, replay *Response, err error) {
	if req.IdempotencyKey == "" || p.guard == nil {
		return "", false, nil, nil
	}
	key = idempotency.Key(req.RequesterID, req.AssetID, req.Amount, req.IdempotencyKey)
	stored, err := p.guard.Claim(ctx, key)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		return key, false, nil, txerr.New(txerr.KindConflict, txerr.CodeInFlight, "a request with this idempotency key is in flight")
	case err != nil:
		return key, false, nil, txerr.Wrap(txerr.KindInternal, txerr.CodeInternal, err, "claim idempotency key")
	case stored != nil:
		var prev Response
		if err := json.Unmarshal(stored, &prev); err != nil {
			return key, false, nil, txerr.Wrap(txerr.KindInternal, txerr.CodeInternal, err, "decode stored response")
		}
		return key, false, &prev, nil
	}
	return key, true, nil, nil
}

func (p *Pipeline) complete(ctx context.Context, key string, resp Response, err error, log *zap.Logger) {
	resp.Success = err == nil
	resp.Error = BodyOf(err)
	data, mErr := json.Marshal(resp)
	if mErr == nil {
		mErr = p.guard.Complete(ctx, key, data)
	}
	if mErr != nil {
		log.Error("store idempotent response", zap.Error(mErr))
	}
}

func cancelled(err error) error {
	return txerr.Wrap(txerr.KindInternal, txerr.CodeCancelled, err, "request cancelled before submission")
}
