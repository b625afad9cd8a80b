package approval

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

var subject = Subject{RequesterID: "bob", AssetID: "gold-1", TransactionType: model.Transfer, Amount: "10"}

func TestKeyIsStableAndScoped(t *testing.T) {
	req := model.ActionRequest{
		TransactionType: model.Transfer, AssetID: "gold-1", Amount: decimal.RequireFromString("10"),
		RequesterID: "bob", Destination: "rDest", Memo: "first",
	}
	k := Key(req)
	if len(k) != len("txn-")+16 || k[:4] != "txn-" {
		t.Fatalf("unexpected key format %q", k)
	}
	if err := validateKey(k); err != nil {
		t.Errorf("derived key must be valid: %v", err)
	}

	req.Memo = "second"
	if Key(req) != k {
		t.Error("memo must not change the approval key")
	}
	req.Amount = decimal.RequireFromString("11")
	if Key(req) == k {
		t.Error("amount must change the approval key")
	}
}

func TestRequestCreatesPending(t *testing.T) {
	s := newTestStore(t)
	if err := s.Request("txn-1", "admin approval required", "asset.gold-1.admin_approval", subject); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	a, err := s.Get("txn-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if a.Subject.RequesterID != "bob" || a.Subject.Amount != "10" {
		t.Errorf("subject not stored: %+v", a.Subject)
	}
}

func TestRequestDoesNotOverwritePending(t *testing.T) {
	s := newTestStore(t)
	s.Request("txn-1", "reason1", "p1", subject)
	s.Request("txn-1", "reason2", "p2", subject)

	a, _ := s.Get("txn-1")
	if a.Reason != "reason1" {
		t.Errorf("expected original reason, got %s", a.Reason)
	}
}

func TestApproveConsumeSingleUse(t *testing.T) {
	s := newTestStore(t)
	s.Request("txn-1", "test", "p1", subject)

	if err := s.Approve("txn-1", "ops", 0); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if st, _ := s.Check("txn-1"); st != StatusApproved {
		t.Errorf("expected approved, got %s", st)
	}
	a, _ := s.Get("txn-1")
	if a.ResolvedBy != "ops" || a.ResolvedAt == nil {
		t.Errorf("expected resolution recorded, got %+v", a)
	}

	if err := s.Consume("txn-1"); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if err := s.Consume("txn-1"); err == nil {
		t.Error("expected error for double consume")
	}
}

func TestConsumedRequestReopens(t *testing.T) {
	s := newTestStore(t)
	s.Request("txn-1", "test", "p1", subject)
	s.Approve("txn-1", "ops", 0)
	s.Consume("txn-1")

	if err := s.Request("txn-1", "test", "p1", subject); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if st, _ := s.Check("txn-1"); st != StatusPending {
		t.Errorf("expected a fresh pending entry, got %s", st)
	}
}

func TestDeniedStaysDenied(t *testing.T) {
	s := newTestStore(t)
	s.Request("txn-1", "test", "p1", subject)
	if err := s.Deny("txn-1", "ops"); err != nil {
		t.Fatalf("Deny failed: %v", err)
	}
	s.Request("txn-1", "test", "p1", subject)

	if st, _ := s.Check("txn-1"); st != StatusDenied {
		t.Errorf("expected denied, got %s", st)
	}
	if err := s.Consume("txn-1"); err == nil {
		t.Error("denied approval must not be consumable")
	}
}

func TestResolveOnlyPending(t *testing.T) {
	s := newTestStore(t)
	s.Request("txn-1", "test", "p1", subject)
	s.Deny("txn-1", "ops")
	if err := s.Approve("txn-1", "ops", 0); err == nil {
		t.Error("expected error approving a denied entry")
	}
}

func TestApprovalExpires(t *testing.T) {
	s := newTestStore(t)
	s.Request("txn-1", "test", "p1", subject)
	s.Approve("txn-1", "ops", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if st, _ := s.Check("txn-1"); st != StatusExpired {
		t.Errorf("expected expired, got %s", st)
	}
	if err := s.Consume("txn-1"); err == nil {
		t.Error("expired approval must not be consumable")
	}
}

func TestNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Check("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Approve("nonexistent", "ops", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Deny("nonexistent", "ops"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidKeys(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []string{"", "../etc/passwd", "a/b", "a b"} {
		if err := s.Request(key, "r", "p", subject); err == nil {
			t.Errorf("expected %q to be rejected", key)
		}
	}
}

func TestListFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	s.Request("txn-a", "r", "p", subject)
	time.Sleep(2 * time.Millisecond)
	s.Request("txn-b", "r", "p", subject)
	time.Sleep(2 * time.Millisecond)
	s.Request("txn-c", "r", "p", subject)
	s.Approve("txn-b", "ops", 0)

	all, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].Key != "txn-a" || all[2].Key != "txn-c" {
		t.Errorf("expected 3 oldest first, got %+v", all)
	}

	pending, _ := s.List(StatusPending)
	if len(pending) != 2 {
		t.Errorf("expected 2 pending, got %d", len(pending))
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	s.Request("txn-1", "test", "p1", subject)
	s.Request("txn-2", "test", "p2", subject)

	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	list, _ := s.List()
	if len(list) != 0 {
		t.Errorf("expected 0 after cleanup, got %d", len(list))
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Request("txn-concurrent", "test", "p1", subject)
			s.Check("txn-concurrent")
		}()
	}
	wg.Wait()

	st, err := s.Check("txn-concurrent")
	if err != nil {
		t.Fatalf("Check failed after concurrent access: %v", err)
	}
	if st != StatusPending {
		t.Errorf("expected pending, got %s", st)
	}
}
