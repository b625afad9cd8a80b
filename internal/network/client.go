// Package network talks to independently operated ledger networks.
package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/ledgerwatch/internal/ledger"
	"github.com/ppiankov/ledgerwatch/internal/signer"
)

// Endpoint is one configured ledger network.
type Endpoint struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Settlement is a validated transaction result reported by a network.
type Settlement struct {
	Hash         string
	LedgerIndex  uint32
	EngineResult string
}

// LedgerClient is the submission protocol every network speaks.
// A client is used by a single goroutine for one attempt.
type LedgerClient interface {
	Connect(ctx context.Context) error
	Autofill(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	Sign(tx ledger.Transaction, s signer.Signer) (ledger.SignedTransaction, error)
	SubmitAndWait(ctx context.Context, signed ledger.SignedTransaction) (Settlement, error)
	Disconnect() error
}

// Dialer returns a fresh, unconnected client for an endpoint.
type Dialer func(ep Endpoint) LedgerClient

// Final result codes.
const (
	ResultSuccess = "tesSUCCESS"
)

var (
	// ErrNotConnected is returned when a client is used before Connect.
	ErrNotConnected = errors.New("not connected")
	// ErrExpired is returned when the last ledger sequence passes without validation.
	ErrExpired = errors.New("transaction expired before validation")
)

// RejectedError reports a non-success protocol result code.
type RejectedError struct {
	EngineResult string
	Message      string
	Final        bool
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rejected with %s: %s", e.EngineResult, e.Message)
	}
	return fmt.Sprintf("rejected with %s", e.EngineResult)
}

// RPCError is an error response to a websocket command.
type RPCError struct {
	Command string
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Command, e.Code)
}

// IsPreliminaryFailure reports whether a preliminary submit result can never
// succeed once validated (malformed, failed or local-only rejection).
func IsPreliminaryFailure(engineResult string) bool {
	if len(engineResult) < 3 {
		return true
	}
	switch engineResult[:3] {
	case "tem", "tef", "tel":
		return true
	default:
		return false
	}
}
