package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ppiankov/ledgerwatch/internal/ledger"
	"github.com/ppiankov/ledgerwatch/internal/signer"
)

// Options tune a websocket client.
type Options struct {
	// PollInterval is the delay between validation checks after submit.
	PollInterval time.Duration `yaml:"poll_interval"`
	// LedgerOffset is added to the current ledger index to form LastLedgerSequence.
	LedgerOffset uint32 `yaml:"ledger_offset"`
	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Logger           *zap.Logger   `yaml:"-"`
}

// DefaultOptions returns the client defaults.
func DefaultOptions() Options {
	return Options{
		PollInterval:     time.Second,
		LedgerOffset:     20,
		HandshakeTimeout: 10 * time.Second,
	}
}

// WebsocketDialer returns a Dialer producing websocket clients with opts.
func WebsocketDialer(opts Options) Dialer {
	return func(ep Endpoint) LedgerClient {
		return NewWSClient(ep, opts)
	}
}

// WSClient speaks the rippled websocket JSON API.
type WSClient struct {
	endpoint Endpoint
	opts     Options
	dialer   *websocket.Dialer
	logger   *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// NewWSClient creates an unconnected client.
func NewWSClient(ep Endpoint, opts Options) *WSClient {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.LedgerOffset == 0 {
		opts.LedgerOffset = def.LedgerOffset
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{
		endpoint: ep,
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger:   logger.With(zap.String("network", ep.Name)),
	}
}

// Connect dials the endpoint.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint.URL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.endpoint.Name, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Debug("connected", zap.String("url", c.endpoint.URL))
	return nil
}

// Disconnect closes the connection. Safe to call more than once.
func (c *WSClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()
	c.logger.Debug("disconnected")
	return err
}

type response struct {
	ID           uint64          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

// call sends one command and waits for the response with the matching id.
// Stream messages interleaved on the connection are skipped.
func (c *WSClient) call(ctx context.Context, command string, params map[string]any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	c.nextID++
	id := c.nextID
	req := make(map[string]any, len(params)+2)
	for k, v := range params {
		req[k] = v
	}
	req["id"] = id
	req["command"] = command

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)

	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%s: write: %w", command, err)
	}

	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%s: %w", command, ctxErr)
			}
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return fmt.Errorf("%s: %w", command, context.DeadlineExceeded)
			}
			return fmt.Errorf("%s: read: %w", command, err)
		}
		if resp.Type != "" && resp.Type != "response" {
			continue
		}
		if resp.ID != id {
			continue
		}
		if resp.Status != "success" {
			return &RPCError{Command: command, Code: resp.Error, Message: resp.ErrorMessage}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", command, err)
		}
		return nil
	}
}

// Autofill fills Sequence, Fee and LastLedgerSequence from this network's
// current state.
func (c *WSClient) Autofill(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	var info struct {
		AccountData struct {
			Sequence uint32 `json:"Sequence"`
		} `json:"account_data"`
	}
	if err := c.call(ctx, "account_info", map[string]any{
		"account":      tx.Account,
		"ledger_index": "current",
	}, &info); err != nil {
		return tx, err
	}

	var fee struct {
		Drops struct {
			BaseFee       string `json:"base_fee"`
			OpenLedgerFee string `json:"open_ledger_fee"`
		} `json:"drops"`
	}
	if err := c.call(ctx, "fee", nil, &fee); err != nil {
		return tx, err
	}

	current, err := c.currentLedger(ctx)
	if err != nil {
		return tx, err
	}

	tx.Sequence = info.AccountData.Sequence
	tx.Fee = pickFee(fee.Drops.BaseFee, fee.Drops.OpenLedgerFee)
	tx.LastLedgerSequence = current + c.opts.LedgerOffset
	if tx.Sequence == 0 || tx.Fee == "" {
		return tx, fmt.Errorf("autofill: network returned sequence=%d fee=%q", tx.Sequence, tx.Fee)
	}
	return tx, nil
}

func pickFee(base, open string) string {
	b, errB := strconv.ParseUint(base, 10, 64)
	o, errO := strconv.ParseUint(open, 10, 64)
	switch {
	case errB != nil && errO != nil:
		return ""
	case errO != nil:
		return strconv.FormatUint(b, 10)
	case errB != nil || o > b:
		return strconv.FormatUint(o, 10)
	default:
		return strconv.FormatUint(b, 10)
	}
}

func (c *WSClient) currentLedger(ctx context.Context) (uint32, error) {
	var cur struct {
		LedgerCurrentIndex uint32 `json:"ledger_current_index"`
	}
	if err := c.call(ctx, "ledger_current", nil, &cur); err != nil {
		return 0, err
	}
	return cur.LedgerCurrentIndex, nil
}

// Sign signs tx with s.
func (c *WSClient) Sign(tx ledger.Transaction, s signer.Signer) (ledger.SignedTransaction, error) {
	return s.Sign(tx)
}

// SubmitAndWait submits a signed blob and polls until the transaction is
// validated, rejected or expired.
//
// The blob is sent as tx_blob unchanged. signer.Wallet produces canonical
// JSON, which rippled and clio reject; live networks need a signer.Signer
// whose blob is the binary ledger encoding. Wallet blobs are only accepted
// by networktest and other JSON-aware test servers.
func (c *WSClient) SubmitAndWait(ctx context.Context, signed ledger.SignedTransaction) (Settlement, error) {
	var sub struct {
		EngineResult        string `json:"engine_result"`
		EngineResultMessage string `json:"engine_result_message"`
		TxJSON              struct {
			Hash string `json:"hash"`
		} `json:"tx_json"`
	}
	if err := c.call(ctx, "submit", map[string]any{"tx_blob": signed.Blob}, &sub); err != nil {
		return Settlement{}, err
	}
	c.logger.Debug("submitted", zap.String("hash", signed.Hash), zap.String("engine_result", sub.EngineResult))

	if IsPreliminaryFailure(sub.EngineResult) {
		return Settlement{EngineResult: sub.EngineResult}, &RejectedError{
			EngineResult: sub.EngineResult,
			Message:      sub.EngineResultMessage,
			Final:        true,
		}
	}

	hash := signed.Hash
	if sub.TxJSON.Hash != "" {
		hash = sub.TxJSON.Hash
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		settled, done, err := c.checkValidated(ctx, hash, signed.Tx.LastLedgerSequence)
		if done {
			return settled, err
		}
		select {
		case <-ctx.Done():
			return Settlement{Hash: hash}, fmt.Errorf("waiting for validation: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *WSClient) checkValidated(ctx context.Context, hash string, lastLedger uint32) (Settlement, bool, error) {
	var txr struct {
		Hash        string `json:"hash"`
		LedgerIndex uint32 `json:"ledger_index"`
		Validated   bool   `json:"validated"`
		Meta        struct {
			TransactionResult string `json:"TransactionResult"`
		} `json:"meta"`
	}
	err := c.call(ctx, "tx", map[string]any{"transaction": hash}, &txr)
	var rpcErr *RPCError
	switch {
	case err == nil:
	case errors.As(err, &rpcErr) && rpcErr.Code == "txnNotFound":
	default:
		return Settlement{Hash: hash}, true, err
	}

	if err == nil && txr.Validated {
		s := Settlement{Hash: hash, LedgerIndex: txr.LedgerIndex, EngineResult: txr.Meta.TransactionResult}
		if txr.Meta.TransactionResult != ResultSuccess {
			return s, true, &RejectedError{EngineResult: txr.Meta.TransactionResult, Final: true}
		}
		return s, true, nil
	}

	if lastLedger > 0 {
		current, cerr := c.currentLedger(ctx)
		if cerr != nil {
			return Settlement{Hash: hash}, true, cerr
		}
		if current > lastLedger {
			return Settlement{Hash: hash}, true, ErrExpired
		}
	}
	return Settlement{}, false, nil
}
