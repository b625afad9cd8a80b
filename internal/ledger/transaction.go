package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Protocol transaction type names.
const (
	TypePayment     = "Payment"
	TypeTrustSet    = "TrustSet"
	TypeOfferCreate = "OfferCreate"
	TypeAccountSet  = "AccountSet"
)

// Account flags for AccountSet.SetFlag / ClearFlag.
const (
	FlagGlobalFreeze uint32 = 7
)

// Amount is either a native drops amount or an issued-currency amount.
type Amount struct {
	Native   bool
	Drops    int64
	Currency string
	Issuer   string
	Value    decimal.Decimal
}

// IssuedAmount returns an issued-currency amount.
func IssuedAmount(currency, issuer string, value decimal.Decimal) Amount {
	return Amount{Currency: currency, Issuer: issuer, Value: value}
}

// DropsAmount returns a native amount in drops.
func DropsAmount(drops int64) Amount {
	return Amount{Native: true, Drops: drops}
}

type issuedAmountJSON struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// MarshalJSON encodes native amounts as a drops string and issued amounts as
// a {currency, issuer, value} object.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Native {
		return json.Marshal(fmt.Sprintf("%d", a.Drops))
	}
	return json.Marshal(issuedAmountJSON{
		Currency: a.Currency,
		Issuer:   a.Issuer,
		Value:    a.Value.String(),
	})
}

// UnmarshalJSON accepts either wire form.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		d, err := decimal.NewFromString(s)
		if err != nil || !d.IsInteger() {
			return fmt.Errorf("invalid drops amount %q", s)
		}
		*a = DropsAmount(d.IntPart())
		return nil
	}
	var raw issuedAmountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := decimal.NewFromString(raw.Value)
	if err != nil {
		return fmt.Errorf("invalid amount value %q: %w", raw.Value, err)
	}
	*a = IssuedAmount(raw.Currency, raw.Issuer, v)
	return nil
}

// Memo is auxiliary data carried by a transaction. Fields are hex-encoded.
type Memo struct {
	MemoType string `json:"MemoType,omitempty"`
	MemoData string `json:"MemoData,omitempty"`
}

// MemoWrapper matches the protocol's nested memo array element.
type MemoWrapper struct {
	Memo Memo `json:"Memo"`
}

// Transaction is a protocol transaction in its JSON form. Field order is the
// canonical order used for signing and hashing.
type Transaction struct {
	TransactionType    string        `json:"TransactionType"`
	Account            string        `json:"Account"`
	Destination        string        `json:"Destination,omitempty"`
	Amount             *Amount       `json:"Amount,omitempty"`
	LimitAmount        *Amount       `json:"LimitAmount,omitempty"`
	TakerGets          *Amount       `json:"TakerGets,omitempty"`
	TakerPays          *Amount       `json:"TakerPays,omitempty"`
	Expiration         uint32        `json:"Expiration,omitempty"`
	SetFlag            uint32        `json:"SetFlag,omitempty"`
	ClearFlag          uint32        `json:"ClearFlag,omitempty"`
	Flags              uint32        `json:"Flags,omitempty"`
	Memos              []MemoWrapper `json:"Memos,omitempty"`
	Fee                string        `json:"Fee,omitempty"`
	Sequence           uint32        `json:"Sequence,omitempty"`
	LastLedgerSequence uint32        `json:"LastLedgerSequence,omitempty"`
	SigningPubKey      string        `json:"SigningPubKey,omitempty"`
	TxnSignature       string        `json:"TxnSignature,omitempty"`
}

// Autofilled reports whether the network-dependent fields are present.
func (tx Transaction) Autofilled() bool {
	return tx.Sequence > 0 && tx.Fee != "" && tx.LastLedgerSequence > 0
}

// SignedTransaction is a signed transaction ready for submission.
type SignedTransaction struct {
	Blob string `json:"tx_blob"`
	Hash string `json:"hash"`
	Tx   Transaction
}
