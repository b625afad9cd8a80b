package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type usageMap map[string]decimal.Decimal

func (u usageMap) DailyUsage(_ context.Context, userID, category string, _ time.Time) (decimal.Decimal, error) {
	return u[userID+"/"+category], nil
}

type brokenSource struct{}

func (brokenSource) DailyUsage(context.Context, string, string, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("store offline")
}

func TestHasLimit(t *testing.T) {
	if (Limit{}).HasLimit() {
		t.Error("expected zero limit to mean unlimited")
	}
	if !(Limit{Max: d("1")}).HasLimit() {
		t.Error("expected positive limit")
	}
}

func TestCheckAtLimitPasses(t *testing.T) {
	r := Check("payments", d("900"), d("100"), Limit{Max: d("1000")})
	if r.Exceeded {
		t.Error("reaching the limit exactly is allowed")
	}
}

func TestCheckOverLimit(t *testing.T) {
	r := Check("payments", d("900"), d("100.01"), Limit{Max: d("1000")})
	if !r.Exceeded {
		t.Fatal("expected exceeded")
	}
	if r.Reason == "" {
		t.Error("expected reason")
	}
}

func TestEvaluateNoLimit(t *testing.T) {
	req := model.ActionRequest{TransactionType: model.Transfer, Amount: d("1e9"), RequesterID: "alice"}
	if _, handled := Evaluate(context.Background(), usageMap{}, req, Limit{}, time.Now()); handled {
		t.Error("expected skip without a limit")
	}
}

func TestEvaluateUsesCategory(t *testing.T) {
	src := usageMap{"alice/payments": d("950"), "alice/issuance": d("0")}
	limit := Limit{Max: d("1000")}

	transfer := model.ActionRequest{TransactionType: model.Transfer, Amount: d("100"), RequesterID: "alice"}
	result, handled := Evaluate(context.Background(), src, transfer, limit, time.Now())
	if !handled {
		t.Fatal("expected payments limit to trigger")
	}
	if result.Decision != model.Deny {
		t.Errorf("expected deny, got %s", result.Decision)
	}
	if result.PolicyID != "budget.payments.daily_limit" {
		t.Errorf("unexpected policy id %s", result.PolicyID)
	}
	if result.Details["daily_usage"] != "950" {
		t.Errorf("expected usage in details, got %v", result.Details)
	}

	mint := model.ActionRequest{TransactionType: model.Mint, Amount: d("100"), RequesterID: "alice"}
	if _, handled := Evaluate(context.Background(), src, mint, limit, time.Now()); handled {
		t.Error("issuance usage is counted separately from payments")
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	req := model.ActionRequest{TransactionType: model.Burn, Amount: d("1"), RequesterID: "alice"}
	result, handled := Evaluate(context.Background(), brokenSource{}, req, Limit{Max: d("10")}, time.Now())
	if !handled || result.Decision != model.Deny {
		t.Error("expected deny when usage cannot be read")
	}
}
