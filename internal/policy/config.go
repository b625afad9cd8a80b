package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/ratelimit"
)

const (
	// DefaultMaxMemoLength is the memo cap in characters.
	DefaultMaxMemoLength = 1024
	// DefaultMaxSignificantDigits is the precision of an issued ledger amount.
	DefaultMaxSignificantDigits = 15
)

// Rule is an operator rule evaluated in order (first match wins).
type Rule struct {
	Type         string `yaml:"type"`
	AssetPattern string `yaml:"asset_pattern"`
	Decision     string `yaml:"decision"`
	Reason       string `yaml:"reason"`
}

// PolicyConfig holds all configurable policy parameters.
type PolicyConfig struct {
	// AdminOnly rejects every principal without the admin role.
	AdminOnly            bool                                      `yaml:"admin_only"`
	MaxMemoLength        int                                       `yaml:"max_memo_length"`
	MaxSignificantDigits int                                       `yaml:"max_significant_digits"`
	Ceilings             map[model.TransactionType]decimal.Decimal `yaml:"ceilings"`
	RateLimits           map[string]ratelimit.RateLimitConfig      `yaml:"rate_limits"`
	Rules                []Rule                                    `yaml:"rules"`
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() *PolicyConfig {
	return &PolicyConfig{
		AdminOnly:            true,
		MaxMemoLength:        DefaultMaxMemoLength,
		MaxSignificantDigits: DefaultMaxSignificantDigits,
		Ceilings: map[model.TransactionType]decimal.Decimal{
			model.Transfer:    decimal.NewFromInt(1_000_000),
			model.OfferCreate: decimal.NewFromInt(1_000_000),
			model.TrustSet:    decimal.NewFromInt(1_000_000_000),
			model.Mint:        decimal.NewFromInt(1_000_000_000),
			model.Burn:        decimal.NewFromInt(1_000_000_000),
		},
	}
}

// Ceiling returns the amount ceiling for t. Zero means no ceiling.
func (c *PolicyConfig) Ceiling(t model.TransactionType) decimal.Decimal {
	return c.Ceilings[t]
}

// DefaultPath returns ~/.ledgerwatch/policy.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ledgerwatch", "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.ledgerwatch/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*PolicyConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*PolicyConfig, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read policy config: %w", err)
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

func (c *PolicyConfig) validate() error {
	if c.MaxMemoLength <= 0 {
		return fmt.Errorf("policy: max_memo_length must be positive")
	}
	if c.MaxSignificantDigits <= 0 {
		return fmt.Errorf("policy: max_significant_digits must be positive")
	}
	for t, ceiling := range c.Ceilings {
		if !t.Valid() {
			return fmt.Errorf("policy: ceiling for unknown transaction type %q", t)
		}
		if ceiling.IsNegative() {
			return fmt.Errorf("policy: ceiling for %s must not be negative", t)
		}
	}
	for i, r := range c.Rules {
		if r.Type != "*" && !model.TransactionType(r.Type).Valid() {
			return fmt.Errorf("policy: rule %d: unknown transaction type %q", i+1, r.Type)
		}
	}
	return nil
}

// matchRule checks if a rule applies to the given type and asset.
// Type: exact match or "*" for any.
// AssetPattern: *x* for contains, *x for suffix, x* for prefix, exact otherwise.
// Asset matching is case-insensitive.
func matchRule(rule Rule, txType model.TransactionType, assetID string) bool {
	if rule.Type != "*" && rule.Type != string(txType) {
		return false
	}

	pattern := rule.AssetPattern
	if pattern == "" || pattern == "*" {
		return true
	}

	lowerAsset := strings.ToLower(assetID)
	lowerPattern := strings.ToLower(pattern)

	switch {
	case len(lowerPattern) > 1 && strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*"):
		return strings.Contains(lowerAsset, lowerPattern[1:len(lowerPattern)-1])
	case strings.HasPrefix(lowerPattern, "*"):
		return strings.HasSuffix(lowerAsset, lowerPattern[1:])
	case strings.HasSuffix(lowerPattern, "*"):
		return strings.HasPrefix(lowerAsset, lowerPattern[:len(lowerPattern)-1])
	default:
		return lowerAsset == lowerPattern
	}
}

// parseDecision maps a string to a Decision enum. Fail-closed: unknown → Deny.
func parseDecision(s string) model.Decision {
	switch s {
	case "allow":
		return model.Allow
	case "require_approval":
		return model.RequireApproval
	default:
		return model.Deny
	}
}

// rulePolicyID generates a policy ID from a rule.
func rulePolicyID(rule Rule) string {
	pattern := strings.Trim(rule.AssetPattern, "*")
	if pattern == "" {
		pattern = "all"
	}
	t := rule.Type
	if t == "*" {
		t = "any"
	}
	return fmt.Sprintf("rule.%s.%s", t, pattern)
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# ledgerwatch policy configuration
# Generated by: ledgerwatch init-config
#
# Evaluation order (cannot be changed):
#   1. Field whitelist and shape checks (ceilings, memo, precision)
#   2. Sanctions denylist -> deny
#   3. Rate limits -> deny
#   4. KYC (asset rule kyc_required) -> deny
#   5. Daily limit (asset rule daily_limit) -> deny
#   6. Admin approval (asset rule admin_approval_required) -> require_approval
#   7. Operator rules below (first match wins)

# Reject callers without the admin role before anything else.
admin_only: true

max_memo_length: 1024
max_significant_digits: 15

# Per-type amount ceilings. 0 disables the ceiling.
ceilings:
  transfer: 1000000
  offerCreate: 1000000
  trustSet: 1000000000
  mint: 1000000000
  burn: 1000000000

# Sliding-window rate limits keyed by requester id ("*" for everyone) and
# category (payments, issuance, trading, account, or "*" for all).
rate_limits:
  "*":
    "*":
      max_requests: 60
      window: 1m

# Operator rules evaluated in order. First match wins.
# Fields:
#   type: transaction type or "*"
#   asset_pattern: *x* contains, x* prefix, *x suffix, exact otherwise
#   decision: allow | deny | require_approval
#   reason: human-readable reason (optional)
rules:
  - type: accountFreeze
    asset_pattern: "*"
    decision: require_approval
    reason: "freezing an issuer account needs a second operator"
`
}
