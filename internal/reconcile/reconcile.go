// Package reconcile turns per-network outcomes into one authoritative result.
//
// The first successful network in configuration order wins. Networks that
// failed keep whatever state they have; a later divergence between networks
// for the same logical action is accepted and is not repaired here.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ppiankov/ledgerwatch/internal/ledger"
	"github.com/ppiankov/ledgerwatch/internal/model"
)

// SimulatedPrefix marks hashes that never settled on any network.
const SimulatedPrefix = "SIMULATED-"

// IsSimulated reports whether hash is a simulated placeholder.
func IsSimulated(hash string) bool {
	return strings.HasPrefix(hash, SimulatedPrefix)
}

// Reconcile picks the authoritative result from outcomes. order is the
// configured network order; requestID and tx seed the simulated hash when
// every network failed.
func Reconcile(order []string, outcomes map[string]model.NetworkOutcome, requestID string, tx ledger.Transaction) model.TransactionResult {
	result := model.TransactionResult{NetworkResults: copyOutcomes(outcomes)}

	for _, name := range order {
		o, ok := outcomes[name]
		if ok && o.Success {
			result.Success = true
			result.Network = name
			result.TransactionHash = o.TransactionHash
			result.LedgerIndex = o.LedgerIndex
			return result
		}
	}

	result.Simulated = true
	result.TransactionHash = simulatedHash(requestID, tx)
	result.ErrorMessage = aggregate(order, outcomes)
	return result
}

func simulatedHash(requestID string, tx ledger.Transaction) string {
	h := sha256.New()
	h.Write([]byte(requestID))
	h.Write([]byte{0})
	if body, err := ledger.Encode(tx); err == nil {
		h.Write(body)
	}
	return SimulatedPrefix + strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

func aggregate(order []string, outcomes map[string]model.NetworkOutcome) string {
	if len(order) == 0 {
		return "no ledger networks configured"
	}
	parts := make([]string, 0, len(order))
	for _, name := range order {
		o, ok := outcomes[name]
		switch {
		case !ok:
			parts = append(parts, fmt.Sprintf("%s: no outcome", name))
		case o.Error != "":
			parts = append(parts, fmt.Sprintf("%s: %s", name, o.Error))
		default:
			parts = append(parts, fmt.Sprintf("%s: failed", name))
		}
	}
	return fmt.Sprintf("all %d networks failed: %s", len(order), strings.Join(parts, "; "))
}

func copyOutcomes(in map[string]model.NetworkOutcome) map[string]model.NetworkOutcome {
	out := make(map[string]model.NetworkOutcome, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
