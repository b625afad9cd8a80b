package ledger

import (
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/ledgerwatch/internal/model"
	"github.com/ppiankov/ledgerwatch/internal/txerr"
)

// MemoType is the memo type attached to every embedded memo.
const MemoType = "text/plain"

// Build maps a validated action onto its protocol transaction shape.
// account is the signing account that will submit the transaction.
//
// Mapping:
//
//	transfer, mint, burn -> Payment (burn pays back to the issuer)
//	trustSet             -> TrustSet
//	offerCreate          -> OfferCreate
//	accountFreeze        -> AccountSet with the global freeze flag
//
// Network-dependent fields (Sequence, Fee, LastLedgerSequence) are left
// empty for each network to autofill.
func Build(req model.ActionRequest, asset model.Asset, account string) (Transaction, error) {
	if !ValidAddress(account) {
		return Transaction{}, txerr.Build(txerr.CodeInvalidField, "signing account %q is not a valid address", account)
	}

	tx := Transaction{Account: account}

	switch req.TransactionType {
	case model.Transfer, model.Mint, model.Burn:
		amt, err := assetAmount(asset, req.Amount)
		if err != nil {
			return Transaction{}, err
		}
		tx.TransactionType = TypePayment
		tx.Amount = &amt
		tx.Destination = paymentDestination(req, asset, account)

	case model.TrustSet:
		limit, err := assetAmount(asset, req.Amount)
		if err != nil {
			return Transaction{}, err
		}
		tx.TransactionType = TypeTrustSet
		tx.LimitAmount = &limit

	case model.OfferCreate:
		gets, err := assetAmount(asset, req.Amount)
		if err != nil {
			return Transaction{}, err
		}
		pays, err := counterAmount(req)
		if err != nil {
			return Transaction{}, err
		}
		tx.TransactionType = TypeOfferCreate
		tx.TakerGets = &gets
		tx.TakerPays = &pays
		tx.Expiration = req.Expiration

	case model.AccountFreeze:
		tx.TransactionType = TypeAccountSet
		if req.Freeze {
			tx.SetFlag = FlagGlobalFreeze
		} else {
			tx.ClearFlag = FlagGlobalFreeze
		}

	default:
		return Transaction{}, txerr.Build(txerr.CodeUnsupportedType, "unsupported transaction type %q", req.TransactionType)
	}

	if req.Memo != "" {
		tx.Memos = []MemoWrapper{{Memo: Memo{
			MemoType: strings.ToUpper(hex.EncodeToString([]byte(MemoType))),
			MemoData: strings.ToUpper(hex.EncodeToString([]byte(req.Memo))),
		}}}
	}

	return tx, nil
}

func paymentDestination(req model.ActionRequest, asset model.Asset, account string) string {
	switch req.TransactionType {
	case model.Burn:
		return asset.IssuerAddress
	case model.Mint:
		if req.Destination != "" {
			return req.Destination
		}
		return account
	default:
		return req.Destination
	}
}

func assetAmount(asset model.Asset, value decimal.Decimal) (Amount, error) {
	currency, err := EncodeCurrency(asset.CurrencyCode)
	if err != nil {
		return Amount{}, txerr.Build(txerr.CodeInvalidField, "asset %s: %v", asset.ID, err)
	}
	if !ValidAddress(asset.IssuerAddress) {
		return Amount{}, txerr.Build(txerr.CodeInvalidField, "asset %s: issuer %q is not a valid address", asset.ID, asset.IssuerAddress)
	}
	return IssuedAmount(currency, asset.IssuerAddress, value), nil
}

func counterAmount(req model.ActionRequest) (Amount, error) {
	code := req.CounterCurrency
	if code == "" || strings.EqualFold(code, NativeCurrency) {
		drops := req.CounterAmount.Mul(decimal.NewFromInt(DropsPerUnit))
		if !drops.IsInteger() || !drops.IsPositive() {
			return Amount{}, txerr.Build(txerr.CodeInvalidField, "counter amount %s is not a whole number of drops", req.CounterAmount)
		}
		return DropsAmount(drops.IntPart()), nil
	}
	currency, err := EncodeCurrency(code)
	if err != nil {
		return Amount{}, txerr.Build(txerr.CodeInvalidField, "counter currency: %v", err)
	}
	if !ValidAddress(req.CounterIssuer) {
		return Amount{}, txerr.Build(txerr.CodeInvalidField, "counter issuer %q is not a valid address", req.CounterIssuer)
	}
	return IssuedAmount(currency, req.CounterIssuer, req.CounterAmount), nil
}
