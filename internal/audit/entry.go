package audit

import (
	"encoding/json"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

// Phase marks where in a request's lifecycle an entry was written.
type Phase string

const (
	PhaseOpen  Phase = "open"
	PhaseClose Phase = "close"
)

// Action is the flattened action recorded in each entry.
type Action struct {
	Type        string `json:"type"`
	AssetID     string `json:"asset_id"`
	Amount      string `json:"amount,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// Entry is one line in the hash-chained JSONL audit log. A request writes
// one open entry then one close entry with the same RequestID.
type Entry struct {
	Timestamp          string                    `json:"ts"`
	RequestID          string                    `json:"request_id"`
	Phase              Phase                     `json:"phase"`
	RequesterID        string                    `json:"requester_id"`
	Action             Action                    `json:"action"`
	InputSnapshot      json.RawMessage           `json:"input_snapshot,omitempty"`
	ComplianceDecision *model.ComplianceDecision `json:"compliance_decision,omitempty"`
	TransactionResult  *model.TransactionResult  `json:"transaction_result,omitempty"`
	ErrorCode          string                    `json:"error_code,omitempty"`
	PolicyHash         string                    `json:"policy_hash"`
	PrevHash           string                    `json:"prev_hash"`
}

// Succeeded reports whether a close entry carries a settled result.
func (e Entry) Succeeded() bool {
	return e.Phase == PhaseClose && e.ErrorCode == "" && e.TransactionResult != nil && e.TransactionResult.Success
}

func actionOf(req model.ActionRequest) Action {
	a := Action{
		Type:        string(req.TransactionType),
		AssetID:     req.AssetID,
		Destination: req.Destination,
	}
	if !req.Amount.IsZero() {
		a.Amount = req.Amount.String()
	}
	return a
}

// rawAction reads the action out of an unvalidated request body.
func rawAction(raw map[string]any) Action {
	str := func(k string) string {
		switch v := raw[k].(type) {
		case string:
			return v
		case nil:
			return ""
		default:
			b, _ := json.Marshal(v)
			return string(b)
		}
	}
	return Action{
		Type:        str("transactionType"),
		AssetID:     str("assetId"),
		Amount:      str("amount"),
		Destination: str("destination"),
	}
}
