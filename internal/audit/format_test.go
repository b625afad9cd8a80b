package audit

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatal(err)
	}
}

func TestFormatTimelineHeaderAndSummary(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)

	if !strings.Contains(out, "Request: all requests") {
		t.Errorf("expected header, got:\n%s", out)
	}
	if !strings.Contains(out, "Summary: 1 settled, 1 denied, 1 failed | 3 opened, 3 closed") {
		t.Errorf("unexpected summary, got:\n%s", out)
	}
}

func TestFormatTimelineEntryColumns(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)
	for _, want := range []string{"OPEN", "CLOSE", "SETTLED", "COMPLIANCE_DENIED", "ALL_NETWORKS_FAILED", "mint", "req-bbb"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in timeline, got:\n%s", want, out)
		}
	}
}

func TestFormatTimelineSingleRequest(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{RequestID: "req-aaa"})
	if err != nil {
		t.Fatal(err)
	}
	out := FormatTimeline(result)
	if !strings.Contains(out, "Request: req-aaa") {
		t.Errorf("expected request id in header, got:\n%s", out)
	}
	if strings.Contains(out, "req-bbb") {
		t.Errorf("timeline leaked another request:\n%s", out)
	}
}

func TestFormatJSONValid(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{RequestID: "req-bbb"})
	if err != nil {
		t.Fatal(err)
	}

	jsonStr, err := FormatJSON(result)
	if err != nil {
		t.Fatal(err)
	}

	var parsed ReplayResult
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		t.Fatalf("JSON output not valid: %v", err)
	}
	if parsed.RequestID != "req-bbb" {
		t.Errorf("expected request id req-bbb, got %s", parsed.RequestID)
	}
	if len(parsed.Entries) != 2 || parsed.Summary.Denied != 1 {
		t.Errorf("unexpected parsed result %+v", parsed)
	}
}

func TestFormatTimelineEmptyEntries(t *testing.T) {
	out := FormatTimeline(&ReplayResult{RequestID: "req-empty"})
	if !strings.Contains(out, "No entries found") {
		t.Errorf("expected 'No entries found' message, got:\n%s", out)
	}
}
