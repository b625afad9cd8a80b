package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.AdminOnly {
		t.Error("expected admin_only to default to true")
	}
	if cfg.MaxMemoLength != 1024 {
		t.Errorf("expected memo cap 1024, got %d", cfg.MaxMemoLength)
	}
	want := map[model.TransactionType]string{
		model.Transfer:    "1000000",
		model.OfferCreate: "1000000",
		model.TrustSet:    "1000000000",
		model.Mint:        "1000000000",
		model.Burn:        "1000000000",
	}
	for typ, ceiling := range want {
		if got := cfg.Ceiling(typ).String(); got != ceiling {
			t.Errorf("%s ceiling = %s, want %s", typ, got, ceiling)
		}
	}
	if !cfg.Ceiling(model.AccountFreeze).IsZero() {
		t.Error("accountFreeze has no ceiling")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, hash, err := LoadConfigWithHash("/nonexistent/path/policy.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.MaxMemoLength != DefaultMaxMemoLength {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	// sha256 of empty input
	if hash != "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("unexpected hash for defaults: %s", hash)
	}
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := `admin_only: false
ceilings:
  transfer: 500
rate_limits:
  "*":
    payments:
      max_requests: 3
      window: 30s
rules:
  - type: mint
    asset_pattern: "test-*"
    decision: deny
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		t.Fatalf("LoadConfigWithHash: %v", err)
	}
	if cfg.AdminOnly {
		t.Error("expected admin_only override")
	}
	if cfg.Ceiling(model.Transfer).String() != "500" {
		t.Errorf("expected transfer ceiling 500, got %s", cfg.Ceiling(model.Transfer))
	}
	if cfg.Ceiling(model.Mint).String() != "1000000000" {
		t.Error("unspecified ceilings keep their defaults")
	}
	limit := cfg.RateLimits["*"]["payments"]
	if limit == nil || limit.MaxRequests != 3 || limit.Window != 30*time.Second {
		t.Errorf("unexpected rate limit %+v", limit)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Type != "mint" {
		t.Errorf("unexpected rules %+v", cfg.Rules)
	}
	if !strings.HasPrefix(hash, "sha256:") || len(hash) != len("sha256:")+64 {
		t.Errorf("unexpected hash %s", hash)
	}
}

func TestLoadConfigRejectsUnknownRuleType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte("rules:\n  - type: withdraw\n    decision: deny\n"), 0600)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for unknown rule type")
	}
}

func TestLoadConfigRejectsUnknownCeiling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte("ceilings:\n  escrow: 10\n"), 0600)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for unknown ceiling type")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte("ceilings: [broken"), 0600)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultConfigYAMLParses(t *testing.T) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(DefaultConfigYAML()), cfg); err != nil {
		t.Fatalf("default YAML must parse: %v", err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("default YAML must validate: %v", err)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Type != string(model.AccountFreeze) {
		t.Errorf("unexpected rules %+v", cfg.Rules)
	}
}

func TestMatchRule(t *testing.T) {
	tests := []struct {
		rule  Rule
		typ   model.TransactionType
		asset string
		want  bool
	}{
		{Rule{Type: "*"}, model.Mint, "gold-1", true},
		{Rule{Type: "mint"}, model.Burn, "gold-1", false},
		{Rule{Type: "mint", AssetPattern: "gold-1"}, model.Mint, "GOLD-1", true},
		{Rule{Type: "*", AssetPattern: "*old*"}, model.Mint, "gold-1", true},
		{Rule{Type: "*", AssetPattern: "gold*"}, model.Mint, "gold-1", true},
		{Rule{Type: "*", AssetPattern: "*-1"}, model.Mint, "gold-1", true},
		{Rule{Type: "*", AssetPattern: "*-2"}, model.Mint, "gold-1", false},
	}
	for _, tt := range tests {
		if got := matchRule(tt.rule, tt.typ, tt.asset); got != tt.want {
			t.Errorf("matchRule(%+v, %s, %s) = %v, want %v", tt.rule, tt.typ, tt.asset, got, tt.want)
		}
	}
}

func TestParseDecisionFailsClosed(t *testing.T) {
	if parseDecision("allow") != model.Allow {
		t.Error("expected allow")
	}
	if parseDecision("require_approval") != model.RequireApproval {
		t.Error("expected require_approval")
	}
	for _, s := range []string{"deny", "", "maybe", "ALLOW"} {
		if parseDecision(s) != model.Deny {
			t.Errorf("expected %q to deny", s)
		}
	}
}

func TestRulePolicyID(t *testing.T) {
	if got := rulePolicyID(Rule{Type: "*", AssetPattern: "*"}); got != "rule.any.all" {
		t.Errorf("got %s", got)
	}
	if got := rulePolicyID(Rule{Type: "mint", AssetPattern: "gold*"}); got != "rule.mint.gold" {
		t.Errorf("got %s", got)
	}
}
