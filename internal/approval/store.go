// Package approval keeps the queue of transactions waiting for an operator.
// Each approval is a JSON file named after its key; an approval is consumed
// by the first request that uses it.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

// ErrNotFound is returned when no approval exists for a key.
var ErrNotFound = errors.New("approval not found")

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects keys that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Key derives the approval key for a request. Identical requests share a key
// so an operator approves the transaction, not one delivery of it.
func Key(req model.ActionRequest) string {
	h := sha256.New()
	for _, part := range []string{req.RequesterID, req.AssetID, string(req.TransactionType), req.Amount.String(), req.Destination} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	return "txn-" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Status represents the state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusConsumed Status = "consumed"
	StatusExpired  Status = "expired"
)

// Subject describes the transaction waiting for approval.
type Subject struct {
	RequesterID     string                `json:"requester_id"`
	AssetID         string                `json:"asset_id"`
	TransactionType model.TransactionType `json:"transaction_type"`
	Amount          string                `json:"amount"`
	Destination     string                `json:"destination,omitempty"`
}

// SubjectOf extracts the approval subject from a request.
func SubjectOf(req model.ActionRequest) Subject {
	return Subject{
		RequesterID:     req.RequesterID,
		AssetID:         req.AssetID,
		TransactionType: req.TransactionType,
		Amount:          req.Amount.String(),
		Destination:     req.Destination,
	}
}

// Approval represents a single approval request and its state.
type Approval struct {
	Key        string     `json:"key"`
	Status     Status     `json:"status"`
	Reason     string     `json:"reason"`
	PolicyID   string     `json:"policy_id"`
	Subject    Subject    `json:"subject"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Store manages approval files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create approval directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default approval store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ledgerwatch-pending")
	}
	return filepath.Join(home, ".ledgerwatch", "pending")
}

// Request queues a pending approval. A pending, approved or denied entry is
// left alone; a consumed or expired one is reopened as pending.
func (s *Store) Request(key, reason, policyID string, subject Subject) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, err := s.read(key); err == nil {
		switch s.effective(a) {
		case StatusPending, StatusApproved, StatusDenied:
			return nil
		}
	}

	a := Approval{
		Key:       key,
		Status:    StatusPending,
		Reason:    reason,
		PolicyID:  policyID,
		Subject:   subject,
		CreatedAt: time.Now().UTC(),
	}
	return s.writeAtomic(s.path(key), a)
}

// Approve marks an approval as approved by operator. If duration > 0 the
// approval expires after it; it is still single use.
func (s *Store) Approve(key, operator string, duration time.Duration) error {
	return s.resolve(key, operator, StatusApproved, duration)
}

// Deny marks an approval as denied.
func (s *Store) Deny(key, operator string) error {
	return s.resolve(key, operator, StatusDenied, 0)
}

func (s *Store) resolve(key, operator string, status Status, duration time.Duration) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(key)
	if err != nil {
		return err
	}
	if a.Status != StatusPending {
		return fmt.Errorf("approval %q is %s, not pending", key, a.Status)
	}

	now := time.Now().UTC()
	a.Status = status
	a.ResolvedBy = operator
	a.ResolvedAt = &now
	if duration > 0 {
		exp := now.Add(duration)
		a.ExpiresAt = &exp
	}
	return s.writeAtomic(s.path(key), *a)
}

// Check returns the current status of an approval.
// Returns StatusExpired if the approval has passed its deadline.
func (s *Store) Check(key string) (Status, error) {
	if err := validateKey(key); err != nil {
		return "", fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(key)
	if err != nil {
		return "", err
	}
	st := s.effective(a)
	if st != a.Status {
		a.Status = st
		_ = s.writeAtomic(s.path(key), *a)
	}
	return st, nil
}

// Consume uses an approved entry. Only approved entries can be consumed.
func (s *Store) Consume(key string) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(key)
	if err != nil {
		return err
	}
	if st := s.effective(a); st != StatusApproved {
		return fmt.Errorf("approval %q is %s, cannot consume", key, st)
	}

	a.Status = StatusConsumed
	now := time.Now().UTC()
	a.ResolvedAt = &now
	return s.writeAtomic(s.path(key), *a)
}

// Get returns one approval.
func (s *Store) Get(key string) (Approval, error) {
	if err := validateKey(key); err != nil {
		return Approval{}, fmt.Errorf("invalid approval key: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.read(key)
	if err != nil {
		return Approval{}, err
	}
	a.Status = s.effective(a)
	return *a, nil
}

// List returns approvals, oldest first. An empty filter returns all of them.
func (s *Store) List(filter ...Status) ([]Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var approvals []Approval
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		a, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		a.Status = s.effective(a)
		if matches(a.Status, filter) {
			approvals = append(approvals, *a)
		}
	}
	sort.Slice(approvals, func(i, j int) bool { return approvals[i].CreatedAt.Before(approvals[j].CreatedAt) })
	return approvals, nil
}

func matches(st Status, filter []Status) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == st {
			return true
		}
	}
	return false
}

// Cleanup removes all approval files in the store.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) effective(a *Approval) Status {
	if a.Status == StatusApproved && a.ExpiresAt != nil && time.Now().UTC().After(*a.ExpiresAt) {
		return StatusExpired
	}
	return a.Status
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) read(key string) (*Approval, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("approval %q: %w", key, ErrNotFound)
		}
		return nil, err
	}

	var a Approval
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("approval %q: %w", key, err)
	}
	return &a, nil
}

func (s *Store) writeAtomic(path string, a Approval) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
