// Package ratelimit enforces per-requester request rates with a sliding
// window.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Category string
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against the rate limit.
func Check(count int, limit *CategoryLimit) CheckResult {
	if !limit.active() {
		return CheckResult{}
	}
	if count >= limit.MaxRequests {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
				count, limit.MaxRequests, limit.Window),
		}
	}
	return CheckResult{}
}

// Evaluate checks requester against the configured limits for category.
// Returns (decision, true) if a limit is exceeded (terminal deny).
// Returns (zero, false) if within limits or none are configured.
//
// Lookup order: rateLimits[requester] → rateLimits["*"] → skip. Within the
// chosen config both the category limit and the "*" limit apply. A request
// that passes is counted.
func Evaluate(t *Tracker, requester, category string, rateLimits map[string]RateLimitConfig, now time.Time) (model.ComplianceDecision, bool) {
	if t == nil || len(rateLimits) == 0 {
		return model.ComplianceDecision{}, false
	}

	cfg := rateLimits[requester]
	if cfg == nil {
		cfg = rateLimits["*"]
	}
	if !cfg.HasLimits() {
		return model.ComplianceDecision{}, false
	}

	policyRequester := requester
	if _, own := rateLimits[requester]; !own {
		policyRequester = "global"
	}

	var order []string
	for _, c := range []string{category, "*"} {
		if cfg[c].active() {
			order = append(order, c)
		}
	}
	if len(order) == 0 {
		return model.ComplianceDecision{}, false
	}

	c, count, ok := t.allow(requester, cfg, order, now)
	if ok {
		return model.ComplianceDecision{}, false
	}
	result := Check(count, cfg[c])
	return model.ComplianceDecision{
		Decision: model.Deny,
		Reason:   result.Reason,
		PolicyID: fmt.Sprintf("ratelimit.%s.%s_exceeded", policyRequester, c),
	}, true
}
