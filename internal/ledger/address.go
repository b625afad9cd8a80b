package ledger

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // account ids are defined over RIPEMD-160
)

// Alphabet is the base58 alphabet used by classic ledger addresses.
const Alphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

const (
	accountVersion  = 0x00
	accountIDLength = 20
	checksumLength  = 4
)

var ledgerAlphabet = base58.NewAlphabet(Alphabet)

// ErrInvalidAddress is returned when an address fails decoding or checksum.
var ErrInvalidAddress = errors.New("invalid ledger address")

// AccountID derives the 20-byte account id from a compressed public key.
func AccountID(pubKey []byte) []byte {
	sha := sha256.Sum256(pubKey)
	h := ripemd160.New()
	h.Write(sha[:])
	return h.Sum(nil)
}

// EncodeAddress encodes a 20-byte account id as a classic address.
func EncodeAddress(accountID []byte) (string, error) {
	if len(accountID) != accountIDLength {
		return "", fmt.Errorf("%w: account id must be %d bytes, got %d", ErrInvalidAddress, accountIDLength, len(accountID))
	}
	payload := make([]byte, 0, 1+accountIDLength+checksumLength)
	payload = append(payload, accountVersion)
	payload = append(payload, accountID...)
	payload = append(payload, checksum(payload)...)
	return base58.EncodeAlphabet(payload, ledgerAlphabet), nil
}

// AddressFromPublicKey returns the classic address for a compressed public key.
func AddressFromPublicKey(pubKey []byte) (string, error) {
	return EncodeAddress(AccountID(pubKey))
}

// DecodeAddress returns the account id of a classic address after checking
// its version byte and checksum.
func DecodeAddress(address string) ([]byte, error) {
	if len(address) < 25 || len(address) > 35 || address[0] != 'r' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	raw, err := base58.DecodeAlphabet(address, ledgerAlphabet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 1+accountIDLength+checksumLength || raw[0] != accountVersion {
		return nil, fmt.Errorf("%w: %q has wrong length or version", ErrInvalidAddress, address)
	}
	body := raw[:1+accountIDLength]
	if !bytes.Equal(checksum(body), raw[1+accountIDLength:]) {
		return nil, fmt.Errorf("%w: %q checksum mismatch", ErrInvalidAddress, address)
	}
	return body[1:], nil
}

// ValidAddress reports whether address is a well-formed classic address.
func ValidAddress(address string) bool {
	_, err := DecodeAddress(address)
	return err == nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLength]
}
