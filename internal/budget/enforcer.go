// Package budget enforces daily per-requester limits. Usage is counted per
// UTC calendar day and per transaction category.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

// UsageSource reports completed usage for one day.
type UsageSource interface {
	DailyUsage(ctx context.Context, userID, category string, day time.Time) (decimal.Decimal, error)
}

// CheckResult is the outcome of a budget check.
type CheckResult struct {
	Exceeded bool
	Category string
	Current  decimal.Decimal
	Amount   decimal.Decimal
	Limit    decimal.Decimal
	Reason   string
}

// Check reports whether current plus amount goes over the limit.
func Check(category string, current, amount decimal.Decimal, limit Limit) CheckResult {
	r := CheckResult{Category: category, Current: current, Amount: amount, Limit: limit.Max}
	if !limit.HasLimit() {
		return r
	}
	if current.Add(amount).GreaterThan(limit.Max) {
		r.Exceeded = true
		r.Reason = fmt.Sprintf("daily limit exceeded: %s used + %s requested > %s %s limit",
			current, amount, limit.Max, category)
	}
	return r
}

// Evaluate checks req against the asset's daily limit.
// Returns (decision, true) if the limit is exceeded (terminal deny).
// Returns (zero, false) if within the limit or no limit is configured.
// A usage source error denies.
func Evaluate(ctx context.Context, src UsageSource, req model.ActionRequest, limit Limit, now time.Time) (model.ComplianceDecision, bool) {
	if !limit.HasLimit() {
		return model.ComplianceDecision{}, false
	}
	category := req.TransactionType.Category()
	policyID := fmt.Sprintf("budget.%s.daily_limit", category)

	current, err := src.DailyUsage(ctx, req.RequesterID, category, now)
	if err != nil {
		return model.ComplianceDecision{
			Decision: model.Deny,
			Reason:   fmt.Sprintf("daily usage unavailable: %v", err),
			PolicyID: policyID,
		}, true
	}

	result := Check(category, current, req.Amount, limit)
	if !result.Exceeded {
		return model.ComplianceDecision{}, false
	}
	return model.ComplianceDecision{
		Decision: model.Deny,
		Reason:   result.Reason,
		PolicyID: policyID,
		Details: map[string]string{
			"daily_usage": current.String(),
			"daily_limit": limit.Max.String(),
			"category":    category,
		},
	}, true
}
