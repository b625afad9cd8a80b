package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

var replayBase = time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC)

func at(sec int) string {
	return replayBase.Add(time.Duration(sec) * time.Second).Format(TimestampFormat)
}

// writeTestLog creates a temp audit log with three request lifecycles:
// req-aaa settles, req-bbb is denied, req-ccc fails on every network.
func writeTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	transfer := Action{Type: "transfer", AssetID: "gold-1", Amount: "10", Destination: "rDest"}
	mint := Action{Type: "mint", AssetID: "gold-1", Amount: "500"}

	entries := []Entry{
		{Timestamp: at(0), RequestID: "req-aaa", Phase: PhaseOpen, RequesterID: "alice", Action: transfer},
		{Timestamp: at(2), RequestID: "req-aaa", Phase: PhaseClose, RequesterID: "alice", Action: transfer,
			ComplianceDecision: &model.ComplianceDecision{Passed: true, Decision: model.Allow},
			TransactionResult:  &model.TransactionResult{Success: true, TransactionHash: "AB12", Network: "mainnet"}},
		{Timestamp: at(4), RequestID: "req-bbb", Phase: PhaseOpen, RequesterID: "bob", Action: mint},
		{Timestamp: at(6), RequestID: "req-bbb", Phase: PhaseClose, RequesterID: "bob", Action: mint,
			ComplianceDecision: &model.ComplianceDecision{Decision: model.Deny, Reason: "kyc"},
			ErrorCode:          "COMPLIANCE_DENIED"},
		{Timestamp: at(8), RequestID: "req-ccc", Phase: PhaseOpen, RequesterID: "alice", Action: transfer},
		{Timestamp: at(10), RequestID: "req-ccc", Phase: PhaseClose, RequesterID: "alice", Action: transfer,
			ComplianceDecision: &model.ComplianceDecision{Passed: true, Decision: model.Allow},
			TransactionResult:  &model.TransactionResult{Success: false, ErrorMessage: "all networks failed"},
			ErrorCode:          "ALL_NETWORKS_FAILED"},
	}

	for _, e := range entries {
		if err := log.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestReplayFiltersByRequestID(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{RequestID: "req-aaa"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries for req-aaa, got %d", len(result.Entries))
	}
	if result.Entries[0].Phase != PhaseOpen || result.Entries[1].Phase != PhaseClose {
		t.Errorf("expected open then close, got %s then %s", result.Entries[0].Phase, result.Entries[1].Phase)
	}
	if result.Entries[1].TransactionResult.TransactionHash != "AB12" {
		t.Errorf("expected transaction result to round trip, got %+v", result.Entries[1].TransactionResult)
	}
}

func TestReplayFiltersByRequester(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{RequesterID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 4 {
		t.Errorf("expected 4 entries for alice, got %d", len(result.Entries))
	}
}

func TestReplayTimeRange(t *testing.T) {
	path := writeTestLog(t)

	tests := []struct {
		name     string
		from, to time.Time
		want     int
	}{
		{"from", replayBase.Add(5 * time.Second), time.Time{}, 3},
		{"to", time.Time{}, replayBase.Add(3 * time.Second), 2},
		{"both", replayBase.Add(1 * time.Second), replayBase.Add(7 * time.Second), 3},
	}
	for _, tt := range tests {
		result, err := Replay(path, ReplayFilter{From: tt.from, To: tt.to})
		if err != nil {
			t.Fatal(err)
		}
		if len(result.Entries) != tt.want {
			t.Errorf("%s: expected %d entries, got %d", tt.name, tt.want, len(result.Entries))
		}
	}
}

func TestReplayEmptyResult(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{RequestID: "req-nonexistent"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 0 {
		t.Errorf("expected 0 entries for unknown request, got %d", len(result.Entries))
	}
	if result.Summary.Total != 0 {
		t.Errorf("expected 0 total, got %d", result.Summary.Total)
	}
}

func TestReplaySummaryCountsCorrect(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}

	s := result.Summary
	if s.Total != 6 || s.Opened != 3 || s.Closed != 3 {
		t.Errorf("unexpected totals %+v", s)
	}
	if s.Settled != 1 {
		t.Errorf("settled: expected 1, got %d", s.Settled)
	}
	if s.Denied != 1 {
		t.Errorf("denied: expected 1, got %d", s.Denied)
	}
	if s.Failed != 1 {
		t.Errorf("failed: expected 1, got %d", s.Failed)
	}
	if s.FirstTimestamp != at(0) || s.LastTimestamp != at(10) {
		t.Errorf("unexpected time range %s to %s", s.FirstTimestamp, s.LastTimestamp)
	}
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	path := writeTestLog(t)
	appendLine(t, path, "not json")

	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary.Total != 6 {
		t.Errorf("expected malformed line to be skipped, got %d entries", result.Summary.Total)
	}
}

func TestTail(t *testing.T) {
	path := writeTestLog(t)

	entries, err := Tail(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].RequestID != "req-ccc" || entries[1].Phase != PhaseClose {
		t.Errorf("unexpected tail %+v", entries)
	}

	all, _ := Tail(path, 0)
	if len(all) != 6 {
		t.Errorf("n=0 should return everything, got %d", len(all))
	}
}
