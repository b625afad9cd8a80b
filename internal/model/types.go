package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the logical action a caller asks the pipeline to perform.
type TransactionType string

const (
	Transfer      TransactionType = "transfer"
	Mint          TransactionType = "mint"
	Burn          TransactionType = "burn"
	TrustSet      TransactionType = "trustSet"
	OfferCreate   TransactionType = "offerCreate"
	AccountFreeze TransactionType = "accountFreeze"
)

// TransactionTypes lists every supported type in a stable order.
var TransactionTypes = []TransactionType{Transfer, Mint, Burn, TrustSet, OfferCreate, AccountFreeze}

// Valid reports whether t is one of the defined transaction types.
func (t TransactionType) Valid() bool {
	for _, known := range TransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Category groups transaction types that share a daily limit.
func (t TransactionType) Category() string {
	switch t {
	case Transfer:
		return "payments"
	case Mint, Burn:
		return "issuance"
	case OfferCreate:
		return "trading"
	case TrustSet, AccountFreeze:
		return "account"
	default:
		return "unknown"
	}
}

// MovesHoldings reports whether applying t changes balances or supply.
func (t TransactionType) MovesHoldings() bool {
	return t == Transfer || t == Mint || t == Burn
}

// Decision is the policy enforcement outcome.
type Decision string

const (
	Allow           Decision = "allow"
	Deny            Decision = "deny"
	RequireApproval Decision = "require_approval"
)

// Role is the authorization role resolved from a caller's credential.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleUser     Role = "user"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the principal holds the administrative role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// KYCStatus is the state of a requester's identity verification record.
type KYCStatus string

const (
	KYCNone     KYCStatus = "none"
	KYCPending  KYCStatus = "pending"
	KYCApproved KYCStatus = "approved"
	KYCRejected KYCStatus = "rejected"
)

// ParseKYCStatus maps a string to a KYCStatus. Unknown values map to KYCNone.
func ParseKYCStatus(s string) KYCStatus {
	switch KYCStatus(s) {
	case KYCPending, KYCApproved, KYCRejected:
		return KYCStatus(s)
	default:
		return KYCNone
	}
}

// ActionRequest is a validated caller intent.
type ActionRequest struct {
	TransactionType TransactionType `json:"transactionType"`
	AssetID         string          `json:"assetId"`
	Amount          decimal.Decimal `json:"amount"`
	Destination     string          `json:"destination,omitempty"`
	Memo            string          `json:"memo,omitempty"`
	RequesterID     string          `json:"requesterId"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`

	// offerCreate only
	CounterAmount   decimal.Decimal `json:"counterAmount,omitempty"`
	CounterCurrency string          `json:"counterCurrency,omitempty"`
	CounterIssuer   string          `json:"counterIssuer,omitempty"`
	Expiration      uint32          `json:"expiration,omitempty"`

	// accountFreeze only; true sets the freeze flag, false clears it
	Freeze bool `json:"freeze,omitempty"`
}

// AssetRules is the per-asset compliance rule bag.
type AssetRules struct {
	KYCRequired           bool            `json:"kycRequired" yaml:"kyc_required"`
	DailyLimit            decimal.Decimal `json:"dailyLimit" yaml:"daily_limit"`
	AdminApprovalRequired bool            `json:"adminApprovalRequired" yaml:"admin_approval_required"`
}

// Asset is the tokenized asset record consumed by the pipeline.
type Asset struct {
	ID                string          `json:"id" yaml:"id"`
	Symbol            string          `json:"symbol" yaml:"symbol"`
	IssuerAddress     string          `json:"issuerAddress" yaml:"issuer_address"`
	CurrencyCode      string          `json:"currencyCode" yaml:"currency_code"`
	CreatorID         string          `json:"creatorId" yaml:"creator_id"`
	TotalSupply       decimal.Decimal `json:"totalSupply" yaml:"total_supply"`
	CirculatingSupply decimal.Decimal `json:"circulatingSupply" yaml:"circulating_supply"`
	Rules             AssetRules      `json:"rules" yaml:"rules"`
	Version           int64           `json:"version" yaml:"-"`
}

// ComplianceDecision is the policy validator's verdict for one request.
type ComplianceDecision struct {
	Passed      bool              `json:"passed"`
	Decision    Decision          `json:"decision"`
	Reason      string            `json:"reason,omitempty"`
	PolicyID    string            `json:"policy_id,omitempty"`
	ApprovalKey string            `json:"approval_key,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// NetworkOutcome is the result of one submission attempt against one network.
type NetworkOutcome struct {
	NetworkName     string `json:"networkName"`
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash,omitempty"`
	LedgerIndex     uint32 `json:"ledgerIndex,omitempty"`
	EngineResult    string `json:"engineResult,omitempty"`
	Error           string `json:"error,omitempty"`
	DurationMs      int64  `json:"durationMs"`
}

// TransactionResult is the single authoritative output of one pipeline run.
type TransactionResult struct {
	Success         bool                      `json:"success"`
	Simulated       bool                      `json:"simulated,omitempty"`
	Network         string                    `json:"network,omitempty"`
	TransactionHash string                    `json:"transactionHash"`
	LedgerIndex     uint32                    `json:"ledgerIndex,omitempty"`
	NetworkResults  map[string]NetworkOutcome `json:"networkResults"`
	ErrorMessage    string                    `json:"errorMessage,omitempty"`
}

// Receipt is the caller-facing view of a settled transaction.
type Receipt struct {
	Hash           string                    `json:"hash"`
	LedgerIndex    uint32                    `json:"ledgerIndex,omitempty"`
	Type           TransactionType           `json:"type"`
	AssetSymbol    string                    `json:"assetSymbol"`
	Amount         string                    `json:"amount"`
	Timestamp      time.Time                 `json:"timestamp"`
	Simulated      bool                      `json:"simulated,omitempty"`
	NetworkResults map[string]NetworkOutcome `json:"networkResults"`
}
