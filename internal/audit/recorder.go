package audit

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/alert"
	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/telemetry"
)

// maxSnapshotBytes caps the raw input kept in an open entry.
const maxSnapshotBytes = 64 << 10

// Writer persists entries. *Log is the production implementation.
type Writer interface {
	Record(entry Entry) error
}

// Recorder writes the open/close lifecycle of pipeline requests. Its methods
// never return errors: a lost entry is reported on the operational channel
// (logger, failure counter, alert) and the request carries on.
type Recorder struct {
	w       Writer
	logger  *zap.Logger
	metrics *telemetry.Metrics
	alerts  *alert.Dispatcher

	mu   sync.Mutex
	open map[string]bool
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithMetrics sets the failure counter.
func WithMetrics(m *telemetry.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithAlerts sets the alert dispatcher.
func WithAlerts(d *alert.Dispatcher) RecorderOption {
	return func(r *Recorder) { r.alerts = d }
}

// NewRecorder creates a recorder over w.
func NewRecorder(w Writer, opts ...RecorderOption) *Recorder {
	r := &Recorder{w: w, logger: zap.NewNop(), open: make(map[string]bool)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Outcome is what a request closes with.
type Outcome struct {
	Request    model.ActionRequest
	Decision   *model.ComplianceDecision
	Result     *model.TransactionResult
	ErrorCode  string
	PolicyHash string
}

// Open writes the open entry for requestID.
func (r *Recorder) Open(ctx context.Context, requestID string, principal model.Principal, raw map[string]any, policyHash string) {
	requester := principal.UserID
	if requester == "" {
		requester, _ = raw["requesterId"].(string)
	}
	r.mu.Lock()
	r.open[requestID] = true
	r.mu.Unlock()

	r.write(ctx, Entry{
		RequestID:     requestID,
		Phase:         PhaseOpen,
		RequesterID:   requester,
		Action:        rawAction(raw),
		InputSnapshot: snapshot(raw),
		PolicyHash:    policyHash,
	})
}

// Close writes the close entry for requestID. A second Close for the same
// request is dropped.
func (r *Recorder) Close(ctx context.Context, requestID string, out Outcome) {
	r.mu.Lock()
	opened := r.open[requestID]
	delete(r.open, requestID)
	r.mu.Unlock()
	if !opened {
		r.logger.Warn("audit close without open", zap.String("request_id", requestID))
		return
	}

	r.write(ctx, Entry{
		RequestID:          requestID,
		Phase:              PhaseClose,
		RequesterID:        out.Request.RequesterID,
		Action:             actionOf(out.Request),
		ComplianceDecision: out.Decision,
		TransactionResult:  out.Result,
		ErrorCode:          out.ErrorCode,
		PolicyHash:         out.PolicyHash,
	})
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	if r.w == nil {
		return
	}
	err := r.w.Record(e)
	if err == nil {
		return
	}
	r.logger.Error("audit write failed",
		zap.String("request_id", e.RequestID),
		zap.String("phase", string(e.Phase)),
		zap.Error(err))
	r.metrics.RecordAuditFailure(ctx, string(e.Phase))
	r.alerts.Dispatch(alert.AlertEvent{
		Type:      alert.EventAuditFailure,
		RequestID: e.RequestID,
		AssetID:   e.Action.AssetID,
		Message:   err.Error(),
		Details:   map[string]string{"phase": string(e.Phase)},
	})
}

func snapshot(raw map[string]any) json.RawMessage {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage(`{"unserializable":true}`)
	}
	if len(data) > maxSnapshotBytes {
		return json.RawMessage(`{"truncated":true}`)
	}
	return data
}
