package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
	// Unclosed lists requests with an open entry and no close entry. They
	// are either in flight or were interrupted; the chain can still be valid.
	Unclosed []string `json:"unclosed,omitempty"`
}

// Verify walks the log checking the hash chain and that no request was
// closed twice. The first problem found is reported with its line.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := newScanner(f)
	lineNum := 0
	var prevLineBytes []byte
	open := make(map[string]bool)
	closed := make(map[string]int)

	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()

		// Make a copy since scanner reuses the buffer
		line := make([]byte, len(raw))
		copy(line, raw)

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{
				Error:     fmt.Sprintf("parse error: %v", err),
				ErrorLine: lineNum,
			}
		}

		expectedHash := GenesisHash
		if lineNum > 1 {
			expectedHash = HashLine(prevLineBytes)
		}
		if entry.PrevHash != expectedHash {
			msg := fmt.Sprintf("hash mismatch: expected %s, got %s", expectedHash, entry.PrevHash)
			if lineNum == 1 {
				msg = fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return VerifyResult{Error: msg, ErrorLine: lineNum}
		}

		switch entry.Phase {
		case PhaseOpen:
			open[entry.RequestID] = true
		case PhaseClose:
			if first, dup := closed[entry.RequestID]; dup {
				return VerifyResult{
					Error:     fmt.Sprintf("request %s already closed at line %d", entry.RequestID, first),
					ErrorLine: lineNum,
				}
			}
			closed[entry.RequestID] = lineNum
			delete(open, entry.RequestID)
		}
		prevLineBytes = line
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	result := VerifyResult{Valid: true, Lines: lineNum}
	for id := range open {
		result.Unclosed = append(result.Unclosed, id)
	}
	sort.Strings(result.Unclosed)
	return result
}
