package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/budget"
	"github.com/ppiankov/ledgerwatch/internal/denylist"
	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/ratelimit"
)

// ComplianceStore is the read-only state compliance rules consult.
type ComplianceStore interface {
	budget.UsageSource
	KYCStatus(ctx context.Context, userID string) (model.KYCStatus, error)
}

// Inputs carries the collaborators of one evaluation. Nil collaborators skip
// their step, except Approvals: an approval rule with no queue denies.
type Inputs struct {
	Store     ComplianceStore
	Denylist  *denylist.Denylist
	Limiter   *ratelimit.Tracker
	Approvals *approval.Store
	Now       time.Time
}

// Evaluate runs the compliance rules for a well-formed request.
//
// Evaluation order (must not be changed):
//  1. Sanctions denylist: requester, destination, counter issuer, asset
//  2. Rate limit: sliding window per requester and category
//  3. KYC: asset rule kyc_required
//  4. Daily limit: asset rule daily_limit against today's usage
//  5. Admin approval: asset rule admin_approval_required
//  6. Operator rules: first match wins
//
// The first failing step is terminal.
func Evaluate(ctx context.Context, req model.ActionRequest, asset model.Asset, principal model.Principal, cfg *PolicyConfig, in Inputs) model.ComplianceDecision {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	details := map[string]string{"category": req.TransactionType.Category()}

	// Step 1: Denylist (hard block, no override)
	if in.Denylist != nil {
		for _, dest := range []string{req.Destination, req.CounterIssuer} {
			if blocked, reason := in.Denylist.IsBlocked(req.RequesterID, dest, asset.ID); blocked {
				return deny("denylisted: "+reason, "denylist.block", details)
			}
		}
	}

	// Step 2: Rate limit
	if d, denied := ratelimit.Evaluate(in.Limiter, req.RequesterID, req.TransactionType.Category(), cfg.RateLimits, in.Now); denied {
		d.Details = details
		return d
	}

	// Step 3: KYC
	if asset.Rules.KYCRequired {
		if in.Store == nil {
			return deny("kyc required but no verification records are available", "asset.kyc_required", details)
		}
		status, err := in.Store.KYCStatus(ctx, req.RequesterID)
		if err != nil {
			return deny(fmt.Sprintf("kyc status unavailable: %v", err), "asset.kyc_required", details)
		}
		details["kyc_status"] = string(status)
		if status != model.KYCApproved {
			return deny(fmt.Sprintf("asset %s requires an approved verification, %s is %s", asset.ID, req.RequesterID, status),
				"asset.kyc_required", details)
		}
	}

	// Step 4: Daily limit
	if asset.Rules.DailyLimit.IsPositive() {
		if in.Store == nil {
			return deny("daily limit configured but usage is unavailable", "asset.daily_limit", details)
		}
		if d, denied := budget.Evaluate(ctx, in.Store, req, budget.Limit{Max: asset.Rules.DailyLimit}, in.Now); denied {
			for k, v := range d.Details {
				details[k] = v
			}
			d.Details = details
			d.PolicyID = "asset.daily_limit"
			return d
		}
		details["daily_limit"] = asset.Rules.DailyLimit.String()
	}

	// Step 5: Admin approval
	if asset.Rules.AdminApprovalRequired {
		reason := fmt.Sprintf("asset %s requires admin approval", asset.ID)
		if d, stop := approvalGate(req, principal, in.Approvals, reason, "asset.admin_approval", details); stop {
			return d
		}
	}

	// Step 6: Operator rules (first match wins)
	for _, rule := range cfg.Rules {
		if !matchRule(rule, req.TransactionType, asset.ID) {
			continue
		}
		id := rulePolicyID(rule)
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s on %s requires %s", rule.Type, rule.AssetPattern, rule.Decision)
		}
		switch parseDecision(rule.Decision) {
		case model.Allow:
			return allow(id, details)
		case model.RequireApproval:
			if d, stop := approvalGate(req, principal, in.Approvals, reason, id, details); stop {
				return d
			}
			return allow(id, details)
		default:
			return deny(reason, id, details)
		}
	}

	return allow("default.allow", details)
}

// approvalAdmin marks a decision that needed no queued approval.
const approvalAdmin = "auto:admin"

// approvalGate lets admins through and everyone else with an approved entry,
// recording the key in details for ConsumeApproval. Otherwise it queues a
// new request. stop is true when the request
// must not proceed.
func approvalGate(req model.ActionRequest, principal model.Principal, store *approval.Store, reason, policyID string, details map[string]string) (model.ComplianceDecision, bool) {
	if principal.IsAdmin() {
		details["approval"] = approvalAdmin
		return model.ComplianceDecision{}, false
	}
	key := approval.Key(req)
	if details["approval"] == key {
		return model.ComplianceDecision{}, false
	}
	if store == nil {
		return deny("approval required but no approval queue is configured", policyID, details), true
	}

	status, err := store.Check(key)
	if err != nil && !errors.Is(err, approval.ErrNotFound) {
		return deny(fmt.Sprintf("approval queue unavailable: %v", err), policyID, details), true
	}

	switch status {
	case approval.StatusApproved:
		details["approval"] = key
		return model.ComplianceDecision{}, false
	case approval.StatusDenied:
		return deny("approval denied by operator", policyID, details), true
	case approval.StatusPending:
		return pending(reason, policyID, key, details), true
	}

	// Not found, consumed or expired: queue a fresh request.
	if err := store.Request(key, reason, policyID, approval.SubjectOf(req)); err != nil {
		return deny(fmt.Sprintf("cannot queue approval: %v", err), policyID, details), true
	}
	return pending(reason, policyID, key, details), true
}

func allow(policyID string, details map[string]string) model.ComplianceDecision {
	return model.ComplianceDecision{Passed: true, Decision: model.Allow, PolicyID: policyID, Details: details}
}

func deny(reason, policyID string, details map[string]string) model.ComplianceDecision {
	return model.ComplianceDecision{Decision: model.Deny, Reason: reason, PolicyID: policyID, Details: details}
}

func pending(reason, policyID, key string, details map[string]string) model.ComplianceDecision {
	return model.ComplianceDecision{
		Decision:    model.RequireApproval,
		Reason:      reason,
		PolicyID:    policyID,
		ApprovalKey: key,
		Details:     details,
	}
}
