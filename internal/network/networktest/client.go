package networktest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/ledgerwatch/internal/ledger"
	"github.com/ppiankov/ledgerwatch/internal/network"
	"github.com/ppiankov/ledgerwatch/internal/signer"
)

// Script describes how a FakeClient behaves for one network.
type Script struct {
	ConnectErr  error
	AutofillErr error
	SubmitErr   error
	// Delay is spent inside SubmitAndWait; the context still applies.
	Delay       time.Duration
	LedgerIndex uint32
	Sequence    uint32
	Panic       bool
}

// Fleet hands out scripted clients by endpoint name and records every call.
type Fleet struct {
	mu      sync.Mutex
	scripts map[string]Script

	dials       atomic.Int32
	submits     atomic.Int32
	disconnects atomic.Int32
	submittedTx []ledger.Transaction
}

// NewFleet creates a fleet. Networks without a script succeed immediately.
func NewFleet(scripts map[string]Script) *Fleet {
	if scripts == nil {
		scripts = make(map[string]Script)
	}
	return &Fleet{scripts: scripts}
}

// Dialer returns a network.Dialer backed by the fleet.
func (f *Fleet) Dialer() network.Dialer {
	return func(ep network.Endpoint) network.LedgerClient {
		f.dials.Add(1)
		f.mu.Lock()
		sc := f.scripts[ep.Name]
		f.mu.Unlock()
		return &FakeClient{fleet: f, name: ep.Name, script: sc}
	}
}

// Dials returns how many clients were created.
func (f *Fleet) Dials() int { return int(f.dials.Load()) }

// Submits returns how many SubmitAndWait calls were made.
func (f *Fleet) Submits() int { return int(f.submits.Load()) }

// Disconnects returns how many Disconnect calls were made.
func (f *Fleet) Disconnects() int { return int(f.disconnects.Load()) }

// Submitted returns the transactions passed to SubmitAndWait.
func (f *Fleet) Submitted() []ledger.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Transaction(nil), f.submittedTx...)
}

// FakeClient is a scripted network.LedgerClient.
type FakeClient struct {
	fleet     *Fleet
	name      string
	script    Script
	connected bool
}

func (c *FakeClient) Connect(ctx context.Context) error {
	if c.script.ConnectErr != nil {
		return c.script.ConnectErr
	}
	c.connected = true
	return nil
}

func (c *FakeClient) Autofill(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if !c.connected {
		return tx, network.ErrNotConnected
	}
	if c.script.AutofillErr != nil {
		return tx, c.script.AutofillErr
	}
	seq := c.script.Sequence
	if seq == 0 {
		seq = 1
	}
	tx.Sequence = seq
	tx.Fee = "12"
	tx.LastLedgerSequence = 100
	return tx, nil
}

func (c *FakeClient) Sign(tx ledger.Transaction, s signer.Signer) (ledger.SignedTransaction, error) {
	return s.Sign(tx)
}

func (c *FakeClient) SubmitAndWait(ctx context.Context, signed ledger.SignedTransaction) (network.Settlement, error) {
	c.fleet.submits.Add(1)
	c.fleet.mu.Lock()
	c.fleet.submittedTx = append(c.fleet.submittedTx, signed.Tx)
	c.fleet.mu.Unlock()

	if c.script.Panic {
		panic(fmt.Sprintf("client for %s exploded", c.name))
	}
	if c.script.Delay > 0 {
		select {
		case <-time.After(c.script.Delay):
		case <-ctx.Done():
			return network.Settlement{}, fmt.Errorf("waiting for validation: %w", ctx.Err())
		}
	}
	if c.script.SubmitErr != nil {
		return network.Settlement{}, c.script.SubmitErr
	}
	idx := c.script.LedgerIndex
	if idx == 0 {
		idx = 500
	}
	return network.Settlement{Hash: signed.Hash, LedgerIndex: idx, EngineResult: network.ResultSuccess}, nil
}

func (c *FakeClient) Disconnect() error {
	c.fleet.disconnects.Add(1)
	c.connected = false
	return nil
}
