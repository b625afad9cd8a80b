// Package apptest builds a fully wired App against scripted networks for
// transport tests.
package apptest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/ledgerwatch/internal/app"
	"github.com/ppiankov/ledgerwatch/internal/config"
	"github.com/ppiankov/ledgerwatch/internal/identity"
	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/network"
	"github.com/ppiankov/ledgerwatch/internal/network/networktest"
)

// Static credentials registered in every Env.
const (
	AdminToken    = "admin-token-for-tests"
	OperatorToken = "operator-token-for-tests"
	UserToken     = "user-token-for-tests"
	JWTSecret     = "0123456789abcdef0123456789abcdef"
	SigningKey    = "0404040404040404040404040404040404040404040404040404040404040404"
)

// Destination is a valid address that is not on the default denylist.
const Destination = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"

// Env is a running App plus the fleet behind its networks.
type Env struct {
	App   *app.App
	Fleet *networktest.Fleet
	Dir   string
}

// Config returns a configuration rooted in dir with three scripted networks
// and the test credentials.
func Config(dir string) *config.Config {
	cfg := config.Default()
	cfg.PolicyPath = filepath.Join(dir, "policy.yaml")
	cfg.DenylistPath = filepath.Join(dir, "denylist.yaml")
	cfg.AuditLog = filepath.Join(dir, "audit.jsonl")
	cfg.ApprovalsDir = filepath.Join(dir, "pending")
	cfg.Store.Path = filepath.Join(dir, "ledger.db")
	cfg.Networks = []network.Endpoint{
		{Name: "net1", URL: "ws://net1.invalid"},
		{Name: "net2", URL: "ws://net2.invalid"},
		{Name: "net3", URL: "ws://net3.invalid"},
	}
	cfg.Auth.Tokens = []identity.TokenConfig{
		{UserID: "alice", Role: model.RoleAdmin, TokenHash: identity.HashToken(AdminToken)},
		{UserID: "olga", Role: model.RoleOperator, TokenHash: identity.HashToken(OperatorToken)},
		{UserID: "bob", Role: model.RoleUser, TokenHash: identity.HashToken(UserToken)},
	}
	cfg.Secrets = config.Secrets{SigningKey: SigningKey, JWTSecret: []byte(JWTSecret)}
	return cfg
}

// New opens an App in a temp dir, seeds asset gold-1 (creator alice, issuer
// the signing account) and gives alice a balance of 1000.
func New(t testing.TB, scripts map[string]networktest.Script, mutate ...func(*config.Config)) *Env {
	t.Helper()
	dir := t.TempDir()
	cfg := Config(dir)
	for _, m := range mutate {
		m(cfg)
	}
	fleet := networktest.NewFleet(scripts)

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, nil, app.WithDialer(fleet.Dialer()))
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { a.Close(context.Background()) })

	err = a.Store.PutAsset(ctx, model.Asset{
		ID:            "gold-1",
		Symbol:        "GLD",
		IssuerAddress: a.Signer.Address(),
		CurrencyCode:  "GLD",
		CreatorID:     "alice",
		TotalSupply:   decimal.NewFromInt(1_000_000),
	})
	if err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	if _, err := a.Store.AdjustBalance(ctx, "gold-1", "alice", decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	return &Env{App: a, Fleet: fleet, Dir: dir}
}

// Transfer returns a raw transfer request body.
func Transfer(amount string) map[string]any {
	return map[string]any{
		"transactionType": "transfer",
		"assetId":         "gold-1",
		"amount":          amount,
		"destination":     Destination,
	}
}
