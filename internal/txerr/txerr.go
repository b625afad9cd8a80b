// Package txerr classifies pipeline failures so every surface can map them
// to a stable code, kind and transport status.
package txerr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

// Kind is the failure class of a pipeline error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindCompliance Kind = "compliance"
	KindBuild      Kind = "build"
	KindNetwork    Kind = "network"
	KindPermission Kind = "permission"
	KindApply      Kind = "apply"
	KindAuth       Kind = "auth"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Stable error codes returned to callers.
const (
	CodeUnauthorizedField   = "UNAUTHORIZED_FIELD"
	CodeMissingField        = "MISSING_FIELD"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeAmountCeiling       = "AMOUNT_CEILING"
	CodeMemoTooLong         = "MEMO_TOO_LONG"
	CodeInvalidDestination  = "INVALID_DESTINATION"
	CodeInvalidAssetID      = "INVALID_ASSET_ID"
	CodeInvalidField        = "INVALID_FIELD"
	CodeUnsupportedType     = "UNSUPPORTED_TRANSACTION_TYPE"
	CodeAssetNotFound       = "ASSET_NOT_FOUND"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeSupplyExceeded      = "SUPPLY_EXCEEDED"
	CodeComplianceDenied    = "COMPLIANCE_DENIED"
	CodeApprovalRequired    = "APPROVAL_REQUIRED"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeAllNetworksFailed   = "ALL_NETWORKS_FAILED"
	CodeStateDiverged       = "STATE_DIVERGED"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeForbidden           = "FORBIDDEN"
	CodeInFlight            = "REQUEST_IN_FLIGHT"
	CodeCancelled           = "CANCELLED"
	CodeInternal            = "INTERNAL"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error.
func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, code string, err error, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation returns a validation error with the given code.
func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, format, args...)
}

// Permission returns a permission error.
func Permission(format string, args ...any) *Error {
	return New(KindPermission, CodePermissionDenied, format, args...)
}

// Build returns a build error.
func Build(code, format string, args ...any) *Error {
	return New(KindBuild, code, format, args...)
}

// FromDecision converts a blocking compliance decision into an error.
// Returns nil when the decision lets the request proceed.
func FromDecision(d model.ComplianceDecision) error {
	if d.Passed {
		return nil
	}
	switch d.Decision {
	case model.RequireApproval:
		details := map[string]string{"approval_key": d.ApprovalKey}
		if d.PolicyID != "" {
			details["policy_id"] = d.PolicyID
		}
		return &Error{
			Kind:    KindCompliance,
			Code:    CodeApprovalRequired,
			Message: d.Reason,
			Details: details,
		}
	default:
		var details map[string]string
		if d.PolicyID != "" {
			details = map[string]string{"policy_id": d.PolicyID}
		}
		return &Error{
			Kind:    KindCompliance,
			Code:    CodeComplianceDenied,
			Message: d.Reason,
			Details: details,
		}
	}
}

// As extracts a classified error. Unclassified errors become KindInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: err.Error(), Err: err}
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps a classified error to the status returned to callers.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusOK
	}
	switch e.Kind {
	case KindValidation, KindBuild:
		return http.StatusBadRequest
	case KindCompliance, KindPermission:
		return http.StatusForbidden
	case KindAuth:
		if e.Code == CodeForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
