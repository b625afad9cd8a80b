package txerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

func TestPassedDecisionIsNotAnError(t *testing.T) {
	if err := FromDecision(model.ComplianceDecision{Passed: true, Decision: model.Allow}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestDenyDecisionBecomesComplianceError(t *testing.T) {
	err := FromDecision(model.ComplianceDecision{Decision: model.Deny, Reason: "kyc not approved", PolicyID: "asset.kyc"})
	if err == nil {
		t.Fatal("expected error for deny")
	}
	e := As(err)
	if e.Kind != KindCompliance {
		t.Errorf("expected compliance kind, got %s", e.Kind)
	}
	if e.Code != CodeComplianceDenied {
		t.Errorf("expected %s, got %s", CodeComplianceDenied, e.Code)
	}
	if e.Message != "kyc not approved" {
		t.Errorf("expected reason to be preserved, got %q", e.Message)
	}
	if e.Details["policy_id"] != "asset.kyc" {
		t.Errorf("expected policy_id detail, got %v", e.Details)
	}
}

func TestApprovalDecisionCarriesKey(t *testing.T) {
	err := FromDecision(model.ComplianceDecision{
		Decision:    model.RequireApproval,
		Reason:      "admin approval required",
		ApprovalKey: "txn-abc",
	})
	e := As(err)
	if e.Code != CodeApprovalRequired {
		t.Errorf("expected %s, got %s", CodeApprovalRequired, e.Code)
	}
	if e.Details["approval_key"] != "txn-abc" {
		t.Errorf("expected approval key detail, got %v", e.Details)
	}
}

func TestAsWrapsUnclassified(t *testing.T) {
	e := As(errors.New("boom"))
	if e.Kind != KindInternal {
		t.Errorf("expected internal kind, got %s", e.Kind)
	}
	if HTTPStatus(e) != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", HTTPStatus(e))
	}
}

func TestAsFindsWrappedError(t *testing.T) {
	inner := Validation(CodeMemoTooLong, "memo is %d characters", 1025)
	err := fmt.Errorf("pipeline: %w", inner)
	if !Is(err, KindValidation) {
		t.Fatal("expected wrapped validation error to be found")
	}
	if As(err) != inner {
		t.Error("expected As to return the inner error")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Validation(CodeInvalidAmount, "bad"), http.StatusBadRequest},
		{Build(CodeUnsupportedType, "bad"), http.StatusBadRequest},
		{Permission("not creator"), http.StatusForbidden},
		{New(KindCompliance, CodeComplianceDenied, "no"), http.StatusForbidden},
		{New(KindAuth, CodeUnauthenticated, "no token"), http.StatusUnauthorized},
		{New(KindAuth, CodeForbidden, "not admin"), http.StatusForbidden},
		{New(KindConflict, CodeInFlight, "busy"), http.StatusConflict},
		{New(KindNetwork, CodeAllNetworksFailed, "down"), http.StatusBadGateway},
		{New(KindApply, CodeStateDiverged, "diverged"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("%s/%s: expected %d, got %d", c.err.Kind, c.err.Code, c.want, got)
		}
	}
}
