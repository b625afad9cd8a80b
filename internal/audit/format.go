package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.RequestID
	if label == "" {
		label = "all requests"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Request: %s | No entries found.\n", label)
	}

	var b strings.Builder

	firstTime := formatDateRange(result.Summary.FirstTimestamp)
	lastTime := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Request: %s | %s to %s UTC\n", label, firstTime, lastTime))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		b.WriteString(fmt.Sprintf("%-10s %-6s %-10s %-14s %-16s %-14s %s\n",
			formatTimeOnly(e.Timestamp),
			strings.ToUpper(string(e.Phase)),
			outcome(e),
			truncate(e.Action.Type, 14),
			truncate(e.Action.AssetID, 16),
			truncate(e.Action.Amount, 14),
			e.RequestID))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func outcome(e Entry) string {
	if e.Phase == PhaseOpen {
		return "-"
	}
	switch {
	case e.Succeeded():
		if e.TransactionResult.Simulated {
			return "SIMULATED"
		}
		return "SETTLED"
	case e.ErrorCode != "":
		return e.ErrorCode
	default:
		return "FAILED"
	}
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.Settled > 0 {
		parts = append(parts, fmt.Sprintf("%d settled", s.Settled))
	}
	if s.Denied > 0 {
		parts = append(parts, fmt.Sprintf("%d denied", s.Denied))
	}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	if len(parts) == 0 {
		parts = append(parts, "no closed requests")
	}
	return fmt.Sprintf("Summary: %s | %d opened, %d closed\n",
		strings.Join(parts, ", "), s.Opened, s.Closed)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
