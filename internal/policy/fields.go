package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/ledgerwatch/internal/ledger"
	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/txerr"
)

// Raw field names accepted from callers.
const (
	FieldTransactionType = "transactionType"
	FieldAssetID         = "assetId"
	FieldAmount          = "amount"
	FieldDestination     = "destination"
	FieldMemo            = "memo"
	FieldRequesterID     = "requesterId"
	FieldIdempotencyKey  = "idempotencyKey"
	FieldCounterAmount   = "counterAmount"
	FieldCounterCurrency = "counterCurrency"
	FieldCounterIssuer   = "counterIssuer"
	FieldExpiration      = "expiration"
	FieldFreeze          = "freeze"
)

// Exponent bounds of an issued ledger amount.
const (
	minExponent = -96
	maxExponent = 80
)

var assetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

var commonFields = []string{
	FieldTransactionType, FieldAssetID, FieldAmount, FieldDestination,
	FieldMemo, FieldRequesterID, FieldIdempotencyKey,
}

var typeFields = map[model.TransactionType][]string{
	model.OfferCreate:   {FieldCounterAmount, FieldCounterCurrency, FieldCounterIssuer, FieldExpiration},
	model.AccountFreeze: {FieldFreeze},
}

var requiredFields = map[model.TransactionType][]string{
	model.Transfer:      {FieldAssetID, FieldAmount, FieldDestination},
	model.Mint:          {FieldAssetID, FieldAmount},
	model.Burn:          {FieldAssetID, FieldAmount},
	model.TrustSet:      {FieldAssetID, FieldAmount},
	model.OfferCreate:   {FieldAssetID, FieldAmount, FieldCounterAmount},
	model.AccountFreeze: {FieldAssetID},
}

// AllowedFields returns the whitelist for t.
func AllowedFields(t model.TransactionType) []string {
	return append(append([]string(nil), commonFields...), typeFields[t]...)
}

// Parse checks raw against the field whitelist and the shape rules for its
// transaction type and returns the typed request. It touches no state.
func Parse(raw map[string]any, principal model.Principal, cfg *PolicyConfig) (model.ActionRequest, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var req model.ActionRequest

	typeName, err := stringField(raw, FieldTransactionType)
	if err != nil {
		return req, err
	}
	if typeName == "" {
		return req, txerr.Validation(txerr.CodeMissingField, "%s is required", FieldTransactionType)
	}
	req.TransactionType = model.TransactionType(typeName)
	if !req.TransactionType.Valid() {
		return req, txerr.Validation(txerr.CodeUnsupportedType, "unsupported transaction type %q", typeName)
	}

	allowed := make(map[string]bool)
	for _, f := range AllowedFields(req.TransactionType) {
		allowed[f] = true
	}
	for k := range raw {
		if !allowed[k] {
			return req, txerr.Validation(txerr.CodeUnauthorizedField, "field %q is not allowed for %s", k, req.TransactionType)
		}
	}
	for _, f := range requiredFields[req.TransactionType] {
		if v, ok := raw[f]; !ok || v == nil || v == "" {
			return req, txerr.Validation(txerr.CodeMissingField, "%s is required for %s", f, req.TransactionType)
		}
	}

	if req.AssetID, err = stringField(raw, FieldAssetID); err != nil {
		return req, err
	}
	if !assetIDPattern.MatchString(req.AssetID) {
		return req, txerr.Validation(txerr.CodeInvalidAssetID, "asset id %q is not well formed", req.AssetID)
	}

	if _, ok := raw[FieldAmount]; ok {
		if req.Amount, err = amountField(raw, FieldAmount, cfg); err != nil {
			return req, err
		}
		if ceiling := cfg.Ceiling(req.TransactionType); ceiling.IsPositive() && req.Amount.GreaterThan(ceiling) {
			return req, txerr.Validation(txerr.CodeAmountCeiling, "amount %s exceeds the %s ceiling of %s", req.Amount, req.TransactionType, ceiling)
		}
	}

	if req.Destination, err = stringField(raw, FieldDestination); err != nil {
		return req, err
	}
	if req.Destination != "" && !ledger.ValidAddress(req.Destination) {
		return req, txerr.Validation(txerr.CodeInvalidDestination, "destination %q is not a valid ledger address", req.Destination)
	}

	if req.Memo, err = stringField(raw, FieldMemo); err != nil {
		return req, err
	}
	if n := utf8.RuneCountInString(req.Memo); n > cfg.MaxMemoLength {
		return req, txerr.Validation(txerr.CodeMemoTooLong, "memo is %d characters, the limit is %d", n, cfg.MaxMemoLength)
	}

	requester, err := stringField(raw, FieldRequesterID)
	if err != nil {
		return req, err
	}
	switch {
	case requester == "" && principal.UserID == "":
		return req, txerr.Validation(txerr.CodeMissingField, "%s is required", FieldRequesterID)
	case requester == "":
		req.RequesterID = principal.UserID
	case principal.UserID != "" && requester != principal.UserID:
		return req, txerr.Validation(txerr.CodeUnauthorizedField, "%s does not match the authenticated principal", FieldRequesterID)
	default:
		req.RequesterID = requester
	}

	if req.IdempotencyKey, err = stringField(raw, FieldIdempotencyKey); err != nil {
		return req, err
	}
	if len(req.IdempotencyKey) > 128 {
		return req, txerr.Validation(txerr.CodeInvalidField, "%s is longer than 128 bytes", FieldIdempotencyKey)
	}

	switch req.TransactionType {
	case model.OfferCreate:
		err = parseOffer(raw, &req, cfg)
	case model.AccountFreeze:
		req.Freeze = true
		if v, ok := raw[FieldFreeze]; ok {
			b, isBool := v.(bool)
			if !isBool {
				return req, txerr.Validation(txerr.CodeInvalidField, "%s must be a boolean", FieldFreeze)
			}
			req.Freeze = b
		}
	}
	return req, err
}

func parseOffer(raw map[string]any, req *model.ActionRequest, cfg *PolicyConfig) error {
	var err error
	if req.CounterAmount, err = amountField(raw, FieldCounterAmount, cfg); err != nil {
		return err
	}
	if req.CounterCurrency, err = stringField(raw, FieldCounterCurrency); err != nil {
		return err
	}
	if req.CounterIssuer, err = stringField(raw, FieldCounterIssuer); err != nil {
		return err
	}
	native := req.CounterCurrency == "" || strings.EqualFold(req.CounterCurrency, ledger.NativeCurrency)
	if native && req.CounterIssuer != "" {
		return txerr.Validation(txerr.CodeInvalidField, "%s must be empty for the native currency", FieldCounterIssuer)
	}
	if !native {
		if _, err := ledger.EncodeCurrency(req.CounterCurrency); err != nil {
			return txerr.Validation(txerr.CodeInvalidField, "%s: %v", FieldCounterCurrency, err)
		}
		if !ledger.ValidAddress(req.CounterIssuer) {
			return txerr.Validation(txerr.CodeInvalidDestination, "%s %q is not a valid ledger address", FieldCounterIssuer, req.CounterIssuer)
		}
	}
	if v, ok := raw[FieldExpiration]; ok && v != nil {
		n, err := decimalValue(v)
		if err != nil || !n.IsInteger() || n.IsNegative() || n.GreaterThan(decimal.NewFromInt(math.MaxUint32)) {
			return txerr.Validation(txerr.CodeInvalidField, "%s must be a ledger time in seconds", FieldExpiration)
		}
		req.Expiration = uint32(n.IntPart())
	}
	return nil
}

func stringField(raw map[string]any, name string) (string, error) {
	v, ok := raw[name]
	if !ok || v == nil {
		return "", nil
	}
	s, isString := v.(string)
	if !isString {
		return "", txerr.Validation(txerr.CodeInvalidField, "%s must be a string", name)
	}
	return s, nil
}

// amountField accepts a decimal string or a JSON number.
func amountField(raw map[string]any, name string, cfg *PolicyConfig) (decimal.Decimal, error) {
	d, err := decimalValue(raw[name])
	if err != nil {
		return decimal.Zero, txerr.Validation(txerr.CodeInvalidAmount, "%s: %v", name, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, txerr.Validation(txerr.CodeInvalidAmount, "%s must be greater than zero", name)
	}
	if e := d.Exponent(); e < minExponent || e > maxExponent {
		return decimal.Zero, txerr.Validation(txerr.CodeInvalidAmount, "%s is out of range", name)
	}
	if n := significantDigits(d); n > cfg.MaxSignificantDigits {
		return decimal.Zero, txerr.Validation(txerr.CodeInvalidAmount, "%s has %d significant digits, the limit is %d", name, n, cfg.MaxSignificantDigits)
	}
	return d, nil
}

func decimalValue(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return decimal.Zero, fmt.Errorf("empty number")
		}
		return decimal.NewFromString(s)
	case json.Number:
		return decimal.NewFromString(n.String())
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, fmt.Errorf("not a finite number")
		}
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	default:
		return decimal.Zero, fmt.Errorf("must be a number or decimal string")
	}
}

func significantDigits(d decimal.Decimal) int {
	digits := strings.Replace(d.Abs().String(), ".", "", 1)
	return len(strings.Trim(digits, "0"))
}
