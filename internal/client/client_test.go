package client

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/ledgerwatch/internal/app/apptest"
	"github.com/ppiankov/ledgerwatch/internal/approval"
	"github.com/ppiankov/ledgerwatch/internal/network/networktest"
	"github.com/ppiankov/ledgerwatch/internal/server"
	"github.com/ppiankov/ledgerwatch/internal/txerr"
)

func startTestServer(t *testing.T, env *apptest.Env) string {
	t.Helper()
	srv := server.New(env.App)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)
	t.Cleanup(srv.GracefulStop)
	return lis.Addr().String()
}

func dial(t *testing.T, addr, token string) *Client {
	t.Helper()
	c, err := Dial(addr, token)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientExecute(t *testing.T) {
	env := apptest.New(t, map[string]networktest.Script{
		"net1": {SubmitErr: errors.New("tefPAST_SEQ")},
		"net2": {LedgerIndex: 4242},
	})
	c := dial(t, startTestServer(t, env), apptest.AdminToken)

	resp, err := c.Execute(context.Background(), apptest.Transfer("7.25"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.Success || resp.Transaction == nil {
		t.Fatalf("expected settled transaction, got %+v", resp)
	}
	if resp.Transaction.Amount != "7.25" {
		t.Errorf("expected amount 7.25, got %s", resp.Transaction.Amount)
	}
	if resp.RequestID == "" {
		t.Error("expected request id")
	}
	if resp.Transaction.LedgerIndex != 4242 {
		t.Errorf("expected ledger index 4242 from net2, got %d", resp.Transaction.LedgerIndex)
	}
	if len(resp.Transaction.NetworkResults) != 3 {
		t.Errorf("expected 3 network results, got %d", len(resp.Transaction.NetworkResults))
	}

	h, err := env.App.Store.Holding(context.Background(), "gold-1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !h.Balance.Equal(decimal.RequireFromString("992.75")) {
		t.Errorf("expected balance 992.75, got %s", h.Balance)
	}
}

func TestClientExecuteReturnsClassifiedError(t *testing.T) {
	env := apptest.New(t, map[string]networktest.Script{
		"net1": {ConnectErr: os.ErrDeadlineExceeded},
		"net2": {ConnectErr: os.ErrDeadlineExceeded},
		"net3": {ConnectErr: os.ErrDeadlineExceeded},
	})
	c := dial(t, startTestServer(t, env), apptest.AdminToken)

	resp, err := c.Execute(context.Background(), apptest.Transfer("1"))
	if err == nil {
		t.Fatal("expected error when every network fails")
	}
	var te *txerr.Error
	if !errors.As(err, &te) || te.Code != txerr.CodeAllNetworksFailed {
		t.Fatalf("expected %s, got %v", txerr.CodeAllNetworksFailed, err)
	}
	if resp.Status() != 502 {
		t.Errorf("expected status 502, got %d", resp.Status())
	}
	if resp.Transaction == nil {
		t.Error("expected failed transaction to be reported")
	}
}

func TestClientUnauthenticated(t *testing.T) {
	env := apptest.New(t, nil)
	c := dial(t, startTestServer(t, env), "")

	_, err := c.Execute(context.Background(), apptest.Transfer("1"))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestClientUnreachableServer(t *testing.T) {
	c := dial(t, "127.0.0.1:1", apptest.AdminToken)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.Execute(ctx, apptest.Transfer("1")); err == nil {
		t.Fatal("expected error from unreachable server")
	}
}

func TestClientApproveFlow(t *testing.T) {
	env := apptest.New(t, nil)
	ctx := context.Background()
	if err := os.WriteFile(env.App.Config.PolicyPath, []byte("admin_only: false\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := env.App.ReloadPolicy(); err != nil {
		t.Fatal(err)
	}
	a, err := env.App.Store.GetAsset(ctx, "gold-1")
	if err != nil {
		t.Fatal(err)
	}
	a.Rules.AdminApprovalRequired = true
	if err := env.App.Store.PutAsset(ctx, a); err != nil {
		t.Fatal(err)
	}

	addr := startTestServer(t, env)
	user := dial(t, addr, apptest.UserToken)
	operator := dial(t, addr, apptest.OperatorToken)

	if _, err := env.App.Store.AdjustBalance(ctx, "gold-1", "bob", decimal.NewFromInt(50)); err != nil {
		t.Fatal(err)
	}

	resp, err := user.Execute(ctx, apptest.Transfer("5"))
	if resp.Error == nil || resp.Error.Code != txerr.CodeApprovalRequired {
		t.Fatalf("expected approval required, got %+v (%v)", resp, err)
	}
	key := resp.Error.Details["approval_key"]

	pending, err := operator.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Key != key || pending[0].Status != approval.StatusPending {
		t.Fatalf("expected pending %s, got %+v", key, pending)
	}

	if _, err := user.ListPending(ctx); status.Code(err) != codes.PermissionDenied {
		t.Errorf("expected PermissionDenied for user, got %v", err)
	}

	if err := operator.Approve(ctx, key, time.Hour); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := user.Execute(ctx, apptest.Transfer("5")); err != nil {
		t.Fatalf("Execute after approval: %v", err)
	}

	pending, err = operator.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty queue, got %d", len(pending))
	}
}

func TestClientDenyUnknownKey(t *testing.T) {
	env := apptest.New(t, nil)
	c := dial(t, startTestServer(t, env), apptest.AdminToken)

	err := c.Deny(context.Background(), "txn-unknown")
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
