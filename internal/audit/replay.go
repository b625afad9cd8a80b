package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ReplayFilter holds filtering criteria for replay. An empty RequestID
// matches every request.
type ReplayFilter struct {
	RequestID   string
	RequesterID string
	From        time.Time // zero value = no lower bound
	To          time.Time // zero value = no upper bound
}

// ReplaySummary holds outcome counts for the replayed entries.
type ReplaySummary struct {
	Total          int    `json:"total"`
	Opened         int    `json:"opened"`
	Closed         int    `json:"closed"`
	Settled        int    `json:"settled"`
	Denied         int    `json:"denied"`
	Failed         int    `json:"failed"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	RequestID string        `json:"request_id,omitempty"`
	Entries   []Entry       `json:"entries"`
	Summary   ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{RequestID: filter.RequestID}

	scanner := newScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.matches(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

// Tail returns the last n entries of the log.
func Tail(path string, n int) ([]Entry, error) {
	res, err := Replay(path, ReplayFilter{})
	if err != nil {
		return nil, err
	}
	if n > 0 && len(res.Entries) > n {
		return res.Entries[len(res.Entries)-n:], nil
	}
	return res.Entries, nil
}

func (f ReplayFilter) matches(e Entry) bool {
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.RequesterID != "" && e.RequesterID != f.RequesterID {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func updateSummary(s *ReplaySummary, entry Entry) {
	s.Total++

	switch entry.Phase {
	case PhaseOpen:
		s.Opened++
	case PhaseClose:
		s.Closed++
		switch {
		case entry.Succeeded():
			s.Settled++
		case entry.ComplianceDecision != nil && !entry.ComplianceDecision.Passed && entry.ComplianceDecision.Decision != "":
			s.Denied++
		default:
			s.Failed++
		}
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
