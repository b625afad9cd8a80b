package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/audit"
	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/pipeline"
	"github.com/ppiankov/ledgerwatch/internal/policy"
)

// ExecuteInput defines parameters for the ledger_execute tool.
type ExecuteInput struct {
	TransactionType string  `json:"transactionType" jsonschema:"transfer, mint, burn, trustSet, offerCreate or accountFreeze"`
	AssetID         string  `json:"assetId" jsonschema:"asset identifier"`
	Amount          string  `json:"amount,omitempty" jsonschema:"decimal amount"`
	Destination     string  `json:"destination,omitempty" jsonschema:"destination ledger address"`
	Memo            string  `json:"memo,omitempty" jsonschema:"memo, at most 1024 characters"`
	IdempotencyKey  string  `json:"idempotencyKey,omitempty" jsonschema:"client nonce; retries with the same key replay the first result"`
	CounterAmount   string  `json:"counterAmount,omitempty" jsonschema:"offerCreate: amount asked in return"`
	CounterCurrency string  `json:"counterCurrency,omitempty" jsonschema:"offerCreate: currency asked in return"`
	CounterIssuer   string  `json:"counterIssuer,omitempty" jsonschema:"offerCreate: issuer of the counter currency"`
	Expiration      *uint32 `json:"expiration,omitempty" jsonschema:"offerCreate: ledger time in seconds"`
	Freeze          *bool   `json:"freeze,omitempty" jsonschema:"accountFreeze: true to freeze, false to unfreeze"`
}

// ExecuteOutput is the flattened pipeline response.
type ExecuteOutput struct {
	RequestID   string                   `json:"request_id"`
	Success     bool                     `json:"success"`
	Status      int                      `json:"status"`
	Replayed    bool                     `json:"replayed,omitempty"`
	Hash        string                   `json:"hash,omitempty"`
	LedgerIndex uint32                   `json:"ledger_index,omitempty"`
	Simulated   bool                     `json:"simulated,omitempty"`
	Networks    map[string]NetworkResult `json:"networks,omitempty"`
	ErrorCode   string                   `json:"error_code,omitempty"`
	ErrorKind   string                   `json:"error_kind,omitempty"`
	Message     string                   `json:"message,omitempty"`
	ApprovalKey string                   `json:"approval_key,omitempty"`
}

// NetworkResult is one network's outcome.
type NetworkResult struct {
	Success      bool   `json:"success"`
	EngineResult string `json:"engine_result,omitempty"`
	Error        string `json:"error,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// PendingInput takes no parameters.
type PendingInput struct{}

// PendingOutput lists pending approvals.
type PendingOutput struct {
	Approvals []PendingItem `json:"approvals"`
}

// PendingItem describes one approval request.
type PendingItem struct {
	Key         string `json:"key"`
	Reason      string `json:"reason"`
	PolicyID    string `json:"policy_id,omitempty"`
	RequesterID string `json:"requester_id"`
	AssetID     string `json:"asset_id"`
	Type        string `json:"transaction_type"`
	Amount      string `json:"amount"`
	Destination string `json:"destination,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ApproveInput defines parameters for the ledger_approve tool.
type ApproveInput struct {
	Key      string `json:"key" jsonschema:"approval key returned by ledger_execute"`
	Deny     bool   `json:"deny,omitempty" jsonschema:"deny instead of approve"`
	Duration string `json:"duration,omitempty" jsonschema:"how long the approval stays valid (e.g. 30m); omit for no expiry"`
}

// ApproveOutput confirms the resolution.
type ApproveOutput struct {
	Key      string `json:"key"`
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
}

// VerifyInput takes no parameters.
type VerifyInput struct{}

func (s *Server) handleExecute(ctx context.Context, req *mcpsdk.CallToolRequest, input ExecuteInput) (*mcpsdk.CallToolResult, ExecuteOutput, error) {
	resp, err := s.app.Pipeline.Execute(ctx, input.raw(), s.principal)
	out := flatten(resp)
	if err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

// raw builds the request map the validator expects. Unset fields are left
// out so the whitelist sees only what the caller supplied.
func (in ExecuteInput) raw() map[string]any {
	raw := map[string]any{policy.FieldTransactionType: in.TransactionType}
	set := func(name, v string) {
		if v != "" {
			raw[name] = v
		}
	}
	set(policy.FieldAssetID, in.AssetID)
	set(policy.FieldAmount, in.Amount)
	set(policy.FieldDestination, in.Destination)
	set(policy.FieldMemo, in.Memo)
	set(policy.FieldIdempotencyKey, in.IdempotencyKey)
	set(policy.FieldCounterAmount, in.CounterAmount)
	set(policy.FieldCounterCurrency, in.CounterCurrency)
	set(policy.FieldCounterIssuer, in.CounterIssuer)
	if in.Expiration != nil {
		raw[policy.FieldExpiration] = json.Number(strconv.FormatUint(uint64(*in.Expiration), 10))
	}
	if in.Freeze != nil {
		raw[policy.FieldFreeze] = *in.Freeze
	}
	return raw
}

func flatten(resp pipeline.Response) ExecuteOutput {
	out := ExecuteOutput{
		RequestID: resp.RequestID,
		Success:   resp.Success,
		Status:    resp.Status(),
		Replayed:  resp.Replayed,
	}
	if tx := resp.Transaction; tx != nil {
		out.Hash = tx.Hash
		out.LedgerIndex = tx.LedgerIndex
		out.Simulated = tx.Simulated
		out.Networks = make(map[string]NetworkResult, len(tx.NetworkResults))
		for name, o := range tx.NetworkResults {
			out.Networks[name] = NetworkResult{
				Success:      o.Success,
				EngineResult: o.EngineResult,
				Error:        o.Error,
				DurationMs:   o.DurationMs,
			}
		}
	}
	if e := resp.Error; e != nil {
		out.ErrorCode = e.Code
		out.ErrorKind = string(e.Kind)
		out.Message = e.Message
		out.ApprovalKey = e.Details["approval_key"]
	}
	return out
}

func (s *Server) requireOperator() error {
	if s.principal.Role != model.RoleAdmin && s.principal.Role != model.RoleOperator {
		return fmt.Errorf("role %q may not manage approvals", s.principal.Role)
	}
	return nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	if err := s.requireOperator(); err != nil {
		return nil, PendingOutput{}, err
	}
	list, err := s.app.Approvals.List(approval.StatusPending)
	if err != nil {
		return nil, PendingOutput{}, err
	}

	items := make([]PendingItem, len(list))
	for i, a := range list {
		items[i] = PendingItem{
			Key:         a.Key,
			Reason:      a.Reason,
			PolicyID:    a.PolicyID,
			RequesterID: a.Subject.RequesterID,
			AssetID:     a.Subject.AssetID,
			Type:        string(a.Subject.TransactionType),
			Amount:      a.Subject.Amount,
			Destination: a.Subject.Destination,
			CreatedAt:   a.CreatedAt.Format(time.RFC3339),
		}
	}
	return nil, PendingOutput{Approvals: items}, nil
}

func (s *Server) handleApprove(ctx context.Context, req *mcpsdk.CallToolRequest, input ApproveInput) (*mcpsdk.CallToolResult, ApproveOutput, error) {
	if err := s.requireOperator(); err != nil {
		return nil, ApproveOutput{}, err
	}
	if input.Deny {
		if err := s.app.Approvals.Deny(input.Key, s.principal.UserID); err != nil {
			return nil, ApproveOutput{}, err
		}
		s.logger.Info("approval denied", zap.String("key", input.Key))
		return nil, ApproveOutput{Key: input.Key, Status: string(approval.StatusDenied)}, nil
	}

	var duration time.Duration
	if input.Duration != "" {
		var err error
		duration, err = time.ParseDuration(input.Duration)
		if err != nil {
			return nil, ApproveOutput{}, fmt.Errorf("invalid duration %q: %w", input.Duration, err)
		}
	}
	if err := s.app.Approvals.Approve(input.Key, s.principal.UserID, duration); err != nil {
		return nil, ApproveOutput{}, err
	}
	s.logger.Info("approval granted", zap.String("key", input.Key), zap.Duration("duration", duration))

	out := ApproveOutput{Key: input.Key, Status: string(approval.StatusApproved)}
	if duration > 0 {
		out.Duration = duration.String()
	}
	return nil, out, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifyInput) (*mcpsdk.CallToolResult, audit.VerifyResult, error) {
	result := audit.Verify(s.app.AuditPath())
	if !result.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, result, nil
	}
	return nil, result, nil
}
