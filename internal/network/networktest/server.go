// Package networktest provides in-process ledger networks for tests.
package networktest

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/ledgerwatch/internal/ledger"
	"github.com/ppiankov/ledgerwatch/internal/signer"
)

// Behavior selects how a fake network treats submitted transactions.
type Behavior int

const (
	// Validate settles every transaction with tesSUCCESS after ValidateAfter polls.
	Validate Behavior = iota
	// RejectPreliminary answers submit with a tem code.
	RejectPreliminary
	// FailValidated validates the transaction with a tec code.
	FailValidated
	// NeverValidate accepts the transaction but never includes it.
	NeverValidate
	// Hang accepts the connection but never answers commands.
	Hang
)

// Server is a fake rippled websocket endpoint.
type Server struct {
	*httptest.Server

	Behavior      Behavior
	ValidateAfter int
	Sequence      uint32
	BaseFee       string
	OpenLedgerFee string

	mu        sync.Mutex
	ledger    uint32
	polls     map[string]int
	submitted []ledger.Transaction

	connections atomic.Int32
	closed      atomic.Int32
}

// NewServer starts a fake network with the given behavior.
func NewServer(b Behavior) *Server {
	s := &Server{
		Behavior:      b,
		ValidateAfter: 1,
		Sequence:      10,
		BaseFee:       "10",
		OpenLedgerFee: "12",
		ledger:        1000,
		polls:         make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the websocket URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Connections returns how many websocket connections were accepted.
func (s *Server) Connections() int { return int(s.connections.Load()) }

// Closed returns how many websocket connections were closed by the peer.
func (s *Server) Closed() int { return int(s.closed.Load()) }

// Submitted returns the transactions accepted by submit.
func (s *Server) Submitted() []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Transaction, len(s.submitted))
	copy(out, s.submitted)
	return out
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.connections.Add(1)
	defer func() {
		s.closed.Add(1)
		conn.Close()
	}()

	for {
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if s.Behavior == Hang {
			continue
		}
		resp := s.dispatch(req)
		resp["id"] = req["id"]
		resp["type"] = "response"
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func success(result any) map[string]any {
	return map[string]any{"status": "success", "result": result}
}

func failure(code, msg string) map[string]any {
	return map[string]any{"status": "error", "error": code, "error_message": msg}
}

func (s *Server) dispatch(req map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, _ := req["command"].(string)
	switch cmd {
	case "account_info":
		return success(map[string]any{
			"account_data": map[string]any{"Account": req["account"], "Sequence": s.Sequence},
		})
	case "fee":
		return success(map[string]any{
			"drops": map[string]any{"base_fee": s.BaseFee, "open_ledger_fee": s.OpenLedgerFee},
		})
	case "ledger_current":
		return success(map[string]any{"ledger_current_index": s.ledger})
	case "submit":
		return s.submit(req)
	case "tx":
		return s.lookup(req)
	default:
		return failure("unknownCmd", "unknown command "+cmd)
	}
}

func (s *Server) submit(req map[string]any) map[string]any {
	blob, _ := req["tx_blob"].(string)
	tx, err := signer.Verify(blob)
	if err != nil {
		return success(map[string]any{
			"engine_result":         "temINVALID",
			"engine_result_message": err.Error(),
		})
	}
	raw, _ := hex.DecodeString(blob)
	hash := ledger.TransactionHash(raw)

	if s.Behavior == RejectPreliminary {
		return success(map[string]any{
			"engine_result":         "temBAD_AMOUNT",
			"engine_result_message": "Malformed: Bad amount.",
			"tx_json":               map[string]any{"hash": hash},
		})
	}

	s.submitted = append(s.submitted, tx)
	s.polls[hash] = 0
	return success(map[string]any{
		"engine_result":         "tesSUCCESS",
		"engine_result_message": "The transaction was applied.",
		"tx_json":               map[string]any{"hash": hash},
	})
}

func (s *Server) lookup(req map[string]any) map[string]any {
	hash, _ := req["transaction"].(string)
	n, ok := s.polls[hash]
	if !ok {
		return failure("txnNotFound", "Transaction not found.")
	}
	n++
	s.polls[hash] = n
	s.ledger++

	switch {
	case s.Behavior == NeverValidate || n < s.ValidateAfter:
		return success(map[string]any{"hash": hash, "validated": false})
	case s.Behavior == FailValidated:
		return success(map[string]any{
			"hash": hash, "validated": true, "ledger_index": s.ledger,
			"meta": map[string]any{"TransactionResult": "tecUNFUNDED_PAYMENT"},
		})
	default:
		return success(map[string]any{
			"hash": hash, "validated": true, "ledger_index": s.ledger,
			"meta": map[string]any{"TransactionResult": "tesSUCCESS"},
		})
	}
}

// WaitClosed blocks until at least n connections closed or the timeout passes.
func (s *Server) WaitClosed(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Closed() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return s.Closed() >= n
}
