// Package signer holds the secp256k1 signing key used to authorize ledger
// transactions.
package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/ppiankov/ledgerwatch/internal/ledger"
)

// ErrNotAutofilled is returned when a transaction is signed before a network
// filled in its sequence, fee and last ledger sequence.
var ErrNotAutofilled = errors.New("transaction is not autofilled")

// Signer signs autofilled transactions for one account.
type Signer interface {
	Address() string
	Sign(tx ledger.Transaction) (ledger.SignedTransaction, error)
}

// Wallet is a secp256k1 key and its classic address.
type Wallet struct {
	priv    *btcec.PrivateKey
	pub     []byte
	address string
}

// NewWallet loads a wallet from a 32-byte hex-encoded private key.
func NewWallet(keyHex string) (*Wallet, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil {
		return nil, fmt.Errorf("signing key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("signing key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return fromPrivateKey(priv)
}

// GenerateWallet creates a wallet from a fresh random key and returns it with
// the hex-encoded private key.
func GenerateWallet() (*Wallet, string, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	w, err := fromPrivateKey(priv)
	if err != nil {
		return nil, "", err
	}
	return w, hex.EncodeToString(priv.Serialize()), nil
}

func fromPrivateKey(priv *btcec.PrivateKey) (*Wallet, error) {
	pub := priv.PubKey().SerializeCompressed()
	addr, err := ledger.AddressFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &Wallet{priv: priv, pub: pub, address: addr}, nil
}

// Address returns the wallet's classic address.
func (w *Wallet) Address() string { return w.address }

// PublicKey returns the compressed public key, upper-case hex.
func (w *Wallet) PublicKey() string { return strings.ToUpper(hex.EncodeToString(w.pub)) }

// Sign signs an autofilled transaction. The transaction's Account must be
// this wallet's address.
func (w *Wallet) Sign(tx ledger.Transaction) (ledger.SignedTransaction, error) {
	if !tx.Autofilled() {
		return ledger.SignedTransaction{}, ErrNotAutofilled
	}
	if tx.Account != w.address {
		return ledger.SignedTransaction{}, fmt.Errorf("transaction account %s does not match signing address %s", tx.Account, w.address)
	}

	tx.SigningPubKey = w.PublicKey()
	payload, err := ledger.SigningPayload(tx)
	if err != nil {
		return ledger.SignedTransaction{}, err
	}
	sig := ecdsa.Sign(w.priv, ledger.SHA512Half(payload))
	tx.TxnSignature = strings.ToUpper(hex.EncodeToString(sig.Serialize()))

	blob, err := ledger.Encode(tx)
	if err != nil {
		return ledger.SignedTransaction{}, err
	}
	return ledger.SignedTransaction{
		Blob: strings.ToUpper(hex.EncodeToString(blob)),
		Hash: ledger.TransactionHash(blob),
		Tx:   tx,
	}, nil
}

// Verify checks the signature of a signed transaction blob and returns the
// decoded transaction.
func Verify(blobHex string) (ledger.Transaction, error) {
	tx, _, err := ledger.DecodeBlob(blobHex)
	if err != nil {
		return ledger.Transaction{}, err
	}
	pubBytes, err := hex.DecodeString(tx.SigningPubKey)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("signing public key: %w", err)
	}
	pub, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("signing public key: %w", err)
	}
	sigBytes, err := hex.DecodeString(tx.TxnSignature)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("signature: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("signature: %w", err)
	}
	payload, err := ledger.SigningPayload(tx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !sig.Verify(ledger.SHA512Half(payload), pub) {
		return ledger.Transaction{}, errors.New("signature does not verify")
	}
	addr, err := ledger.AddressFromPublicKey(pubBytes)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if addr != tx.Account {
		return ledger.Transaction{}, fmt.Errorf("signing key belongs to %s, not %s", addr, tx.Account)
	}
	return tx, nil
}
