package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

// --- Config tests ---

func TestHasLimitsEmpty(t *testing.T) {
	cfg := RateLimitConfig{}
	if cfg.HasLimits() {
		t.Error("expected empty config to have no limits")
	}
}

func TestHasLimitsConfigured(t *testing.T) {
	cfg := RateLimitConfig{
		"payments": {MaxRequests: 10, Window: time.Minute},
	}
	if !cfg.HasLimits() {
		t.Error("expected HasLimits=true for configured limit")
	}
}

func TestHasLimitsZeroValues(t *testing.T) {
	for _, l := range []*CategoryLimit{{MaxRequests: 0, Window: time.Minute}, {MaxRequests: 10}, nil} {
		if (RateLimitConfig{"payments": l}).HasLimits() {
			t.Errorf("expected HasLimits=false for %+v", l)
		}
	}
}

// --- Tracker tests ---

func TestSnapshotSlidesWindow(t *testing.T) {
	tr := NewTracker()
	start := time.Now().UTC()

	tr.Increment("alice", "payments", start)
	tr.Increment("alice", "payments", start.Add(30*time.Second))

	if got := tr.Snapshot("alice", "payments", time.Minute, start.Add(45*time.Second)); got != 2 {
		t.Errorf("expected 2 inside window, got %d", got)
	}
	// The first event falls out; the second stays.
	if got := tr.Snapshot("alice", "payments", time.Minute, start.Add(61*time.Second)); got != 1 {
		t.Errorf("expected 1 after sliding, got %d", got)
	}
	if got := tr.Snapshot("alice", "payments", time.Minute, start.Add(2*time.Minute)); got != 0 {
		t.Errorf("expected 0 after window, got %d", got)
	}
}

func TestSnapshotSeparatesRequesters(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.Increment("alice", "payments", now)
	if got := tr.Snapshot("bob", "payments", time.Minute, now); got != 0 {
		t.Errorf("expected bob unaffected, got %d", got)
	}
	if got := tr.Snapshot("alice", "trading", time.Minute, now); got != 0 {
		t.Errorf("expected other category unaffected, got %d", got)
	}
}

// --- Check tests ---

func TestCheckExceeded(t *testing.T) {
	r := Check(5, &CategoryLimit{MaxRequests: 5, Window: time.Minute})
	if !r.Exceeded {
		t.Error("expected exceeded at limit")
	}
	if r.Reason == "" {
		t.Error("expected reason")
	}
}

func TestCheckNilLimit(t *testing.T) {
	if Check(1000, nil).Exceeded {
		t.Error("nil limit never triggers")
	}
}

// --- Evaluate tests ---

func limits() map[string]RateLimitConfig {
	return map[string]RateLimitConfig{
		"*":   {"payments": {MaxRequests: 2, Window: time.Minute}},
		"bot": {"*": {MaxRequests: 1, Window: time.Minute}},
	}
}

func TestEvaluateGlobalFallback(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, denied := Evaluate(tr, "alice", "payments", limits(), now); denied {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	result, denied := Evaluate(tr, "alice", "payments", limits(), now)
	if !denied {
		t.Fatal("third request should be denied")
	}
	if result.Decision != model.Deny {
		t.Errorf("expected Deny, got %s", result.Decision)
	}
	if result.PolicyID != "ratelimit.global.payments_exceeded" {
		t.Errorf("unexpected policy id %s", result.PolicyID)
	}

	if _, denied := Evaluate(tr, "alice", "trading", limits(), now); denied {
		t.Error("unconfigured category should pass")
	}
	if _, denied := Evaluate(tr, "alice", "payments", limits(), now.Add(2*time.Minute)); denied {
		t.Error("window should have slid")
	}
}

func TestEvaluateRequesterWildcardCategory(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	if _, denied := Evaluate(tr, "bot", "trading", limits(), now); denied {
		t.Fatal("first request should pass")
	}
	result, denied := Evaluate(tr, "bot", "account", limits(), now)
	if !denied {
		t.Fatal("catch-all category should count every request")
	}
	if result.PolicyID != "ratelimit.bot.*_exceeded" {
		t.Errorf("unexpected policy id %s", result.PolicyID)
	}
}

func TestEvaluateNoConfig(t *testing.T) {
	if _, denied := Evaluate(NewTracker(), "alice", "payments", nil, time.Now()); denied {
		t.Error("expected pass without configuration")
	}
	if _, denied := Evaluate(nil, "alice", "payments", limits(), time.Now()); denied {
		t.Error("expected pass without tracker")
	}
}

func TestEvaluateConcurrentNeverOverAdmits(t *testing.T) {
	tr := NewTracker()
	cfg := map[string]RateLimitConfig{"*": {"payments": {MaxRequests: 10, Window: time.Hour}}}
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	passed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, denied := Evaluate(tr, "alice", "payments", cfg, now); !denied {
				mu.Lock()
				passed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if passed != 10 {
		t.Errorf("expected exactly 10 admitted, got %d", passed)
	}
}
