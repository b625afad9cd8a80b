package ledger

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

var (
	prefixTxSign = []byte{'S', 'T', 'X', 0x00}
	prefixTxID   = []byte{'T', 'X', 'N', 0x00}
)

// Encode returns the canonical serialized form of a transaction.
func Encode(tx Transaction) ([]byte, error) {
	b, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return b, nil
}

// SigningPayload returns the bytes a signer commits to: the signing prefix
// followed by the encoded transaction without its signature.
func SigningPayload(tx Transaction) ([]byte, error) {
	tx.TxnSignature = ""
	body, err := Encode(tx)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, prefixTxSign...), body...), nil
}

// SHA512Half returns the first 32 bytes of SHA-512 over data.
func SHA512Half(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:32]
}

// TransactionHash returns the identifying hash of an encoded signed transaction.
func TransactionHash(blob []byte) string {
	return strings.ToUpper(hex.EncodeToString(SHA512Half(append(append([]byte{}, prefixTxID...), blob...))))
}

// DecodeBlob parses a hex blob produced by a signer back into a transaction.
func DecodeBlob(blobHex string) (Transaction, []byte, error) {
	raw, err := hex.DecodeString(blobHex)
	if err != nil {
		return Transaction{}, nil, fmt.Errorf("decode blob: %w", err)
	}
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return Transaction{}, nil, fmt.Errorf("decode blob: %w", err)
	}
	return tx, raw, nil
}
