package denylist

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBlackHoleAddressBlocked(t *testing.T) {
	dl := NewDefault()

	blocked, reason := dl.IsBlocked("alice", "rrrrrrrrrrrrrrrrrrrrrhoLvTp", "gold-1")
	if !blocked {
		t.Error("expected account zero to be blocked")
	}
	if reason == "" {
		t.Error("expected a reason string")
	}
}

func TestAddressMatchIsCaseSensitive(t *testing.T) {
	dl := New(Patterns{Addresses: []string{"rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"}})

	if blocked, _ := dl.IsBlocked("", "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", ""); !blocked {
		t.Error("expected exact address to be blocked")
	}
	if blocked, _ := dl.IsBlocked("", "RHB9CJAWYB4RJ91VRWN96DKUKG4BWDTYTH", ""); blocked {
		t.Error("different case is a different address")
	}
}

func TestRequesterGlob(t *testing.T) {
	dl := New(Patterns{Requesters: []string{"sanctioned-*", "mallory"}})

	tests := []struct {
		requester string
		blocked   bool
	}{
		{"sanctioned-42", true},
		{"SANCTIONED-7", true},
		{"mallory", true},
		{"mallory2", false},
		{"alice", false},
	}
	for _, tt := range tests {
		got, _ := dl.IsBlocked(tt.requester, "", "")
		if got != tt.blocked {
			t.Errorf("IsBlocked(%q) = %v, want %v", tt.requester, got, tt.blocked)
		}
	}
}

func TestFrozenAsset(t *testing.T) {
	dl := New(Patterns{Assets: []string{"gold-1"}})
	if blocked, _ := dl.IsBlocked("alice", "", "gold-1"); !blocked {
		t.Error("expected frozen asset to be blocked")
	}
	if blocked, _ := dl.IsBlocked("alice", "", "gold-2"); blocked {
		t.Error("expected other asset to pass")
	}
}

func TestEmptyArgumentsPass(t *testing.T) {
	dl := NewDefault()
	if blocked, _ := dl.IsBlocked("", "", ""); blocked {
		t.Error("nothing to check should not block")
	}
}

func TestAddPatternAtRuntime(t *testing.T) {
	dl := New(Patterns{})
	dl.AddPattern("requesters", "eve")
	dl.AddPattern("addresses", "rXYZ")
	dl.AddPattern("unknown", "ignored")

	if blocked, _ := dl.IsBlocked("eve", "", ""); !blocked {
		t.Error("expected runtime requester to be blocked")
	}
	if blocked, _ := dl.IsBlocked("", "rXYZ", ""); !blocked {
		t.Error("expected runtime address to be blocked")
	}
	m := dl.ToMap()
	if len(m["requesters"].([]string)) != 1 {
		t.Errorf("expected 1 requester, got %v", m["requesters"])
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dl, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if blocked, _ := dl.IsBlocked("", "rrrrrrrrrrrrrrrrrrrrBZbvji", ""); !blocked {
		t.Error("expected defaults when file is missing")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")
	data := "addresses:\n  - rSanctioned1\nrequesters:\n  - bad-*\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	dl, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, addr := range []string{"rSanctioned1", "rrrrrrrrrrrrrrrrrrrrrhoLvTp"} {
		if blocked, _ := dl.IsBlocked("", addr, ""); !blocked {
			t.Errorf("expected %s to be blocked", addr)
		}
	}
	if blocked, _ := dl.IsBlocked("bad-actor", "", ""); !blocked {
		t.Error("expected requester glob from file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")
	os.WriteFile(path, []byte("addresses: [unclosed"), 0600)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
