package network_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/ledgerwatch/internal/ledger"
	"github.com/ppiankov/ledgerwatch/internal/network"
	"github.com/ppiankov/ledgerwatch/internal/network/networktest"
	"github.com/ppiankov/ledgerwatch/internal/signer"
)

const testKey = "0101010101010101010101010101010101010101010101010101010101010101"

func newWallet(t *testing.T) *signer.Wallet {
	t.Helper()
	w, err := signer.NewWallet(testKey)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w
}

func payment(w *signer.Wallet) ledger.Transaction {
	amt := ledger.IssuedAmount("USD", w.Address(), decimal.NewFromInt(25))
	return ledger.Transaction{
		TransactionType: ledger.TypePayment,
		Account:         w.Address(),
		Destination:     w.Address(),
		Amount:          &amt,
	}
}

func run(t *testing.T, srv *networktest.Server, timeout time.Duration) (network.Settlement, error) {
	t.Helper()
	w := newWallet(t)
	c := network.NewWSClient(network.Endpoint{Name: "test", URL: srv.URL()}, network.Options{
		PollInterval: 5 * time.Millisecond,
		LedgerOffset: 5,
	})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	tx, err := c.Autofill(ctx, payment(w))
	if err != nil {
		return network.Settlement{}, err
	}
	signed, err := c.Sign(tx, w)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return c.SubmitAndWait(ctx, signed)
}

func TestAutofillUsesNetworkState(t *testing.T) {
	srv := networktest.NewServer(networktest.Validate)
	defer srv.Close()
	srv.Sequence = 77

	w := newWallet(t)
	c := network.NewWSClient(network.Endpoint{Name: "test", URL: srv.URL()}, network.Options{LedgerOffset: 20})
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	tx, err := c.Autofill(ctx, payment(w))
	if err != nil {
		t.Fatalf("Autofill: %v", err)
	}
	if tx.Sequence != 77 {
		t.Errorf("expected sequence 77, got %d", tx.Sequence)
	}
	if tx.Fee != "12" {
		t.Errorf("expected open ledger fee 12, got %s", tx.Fee)
	}
	if tx.LastLedgerSequence != 1020 {
		t.Errorf("expected last ledger 1020, got %d", tx.LastLedgerSequence)
	}
}

func TestSubmitAndWaitValidated(t *testing.T) {
	srv := networktest.NewServer(networktest.Validate)
	defer srv.Close()
	srv.ValidateAfter = 2

	s, err := run(t, srv, 5*time.Second)
	if err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	if s.EngineResult != network.ResultSuccess {
		t.Errorf("expected tesSUCCESS, got %s", s.EngineResult)
	}
	if s.LedgerIndex == 0 || len(s.Hash) != 64 {
		t.Errorf("unexpected settlement %+v", s)
	}
	if got := len(srv.Submitted()); got != 1 {
		t.Errorf("expected one submitted transaction, got %d", got)
	}
}

func TestSubmitPreliminaryRejection(t *testing.T) {
	srv := networktest.NewServer(networktest.RejectPreliminary)
	defer srv.Close()

	_, err := run(t, srv, 5*time.Second)
	var rej *network.RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rej.EngineResult != "temBAD_AMOUNT" {
		t.Errorf("expected temBAD_AMOUNT, got %s", rej.EngineResult)
	}
}

func TestSubmitValidatedFailure(t *testing.T) {
	srv := networktest.NewServer(networktest.FailValidated)
	defer srv.Close()

	_, err := run(t, srv, 5*time.Second)
	var rej *network.RejectedError
	if !errors.As(err, &rej) || rej.EngineResult != "tecUNFUNDED_PAYMENT" {
		t.Fatalf("expected tecUNFUNDED_PAYMENT rejection, got %v", err)
	}
}

func TestSubmitExpires(t *testing.T) {
	srv := networktest.NewServer(networktest.NeverValidate)
	defer srv.Close()

	_, err := run(t, srv, 5*time.Second)
	if !errors.Is(err, network.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestHungNetworkHonoursContext(t *testing.T) {
	srv := networktest.NewServer(networktest.Hang)
	defer srv.Close()

	start := time.Now()
	_, err := run(t, srv, 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected error from hung network")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("call did not honour the deadline: %s", time.Since(start))
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := networktest.NewServer(networktest.Validate)
	defer srv.Close()

	c := network.NewWSClient(network.Endpoint{Name: "test", URL: srv.URL()}, network.DefaultOptions())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("first Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
	if !srv.WaitClosed(1, 2*time.Second) {
		t.Error("server did not observe the connection close")
	}
}

func TestCallBeforeConnect(t *testing.T) {
	c := network.NewWSClient(network.Endpoint{Name: "test", URL: "ws://127.0.0.1:1"}, network.DefaultOptions())
	_, err := c.Autofill(context.Background(), ledger.Transaction{Account: "r"})
	if !errors.Is(err, network.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestIsPreliminaryFailure(t *testing.T) {
	for code, want := range map[string]bool{
		"tesSUCCESS": false, "terQUEUED": false, "tecNO_DST": false,
		"temBAD_FEE": true, "tefPAST_SEQ": true, "telINSUF_FEE_P": true, "": true,
	} {
		if got := network.IsPreliminaryFailure(code); got != want {
			t.Errorf("IsPreliminaryFailure(%q) = %v, want %v", code, got, want)
		}
	}
}

// A blob the server cannot decode fails fast; the client forwards it as is.
func TestSubmitForwardsBlobVerbatim(t *testing.T) {
	srv := networktest.NewServer(networktest.Validate)
	defer srv.Close()

	w := newWallet(t)
	c := network.NewWSClient(network.Endpoint{Name: "test", URL: srv.URL()}, network.Options{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	tx, err := c.Autofill(ctx, payment(w))
	if err != nil {
		t.Fatal(err)
	}
	// Binary-encoded Payment prefix, as rippled expects; not canonical JSON.
	_, err = c.SubmitAndWait(ctx, ledger.SignedTransaction{Blob: "1200002280000000240000004D", Tx: tx})
	var rej *network.RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rej.EngineResult != "temINVALID" || !rej.Final {
		t.Errorf("unexpected rejection %+v", rej)
	}
	if got := len(srv.Submitted()); got != 0 {
		t.Errorf("undecodable blob must not be recorded, got %d", got)
	}
}
