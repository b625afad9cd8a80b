package model

import "testing"

func TestTransactionTypeValid(t *testing.T) {
	for _, tt := range TransactionTypes {
		if !tt.Valid() {
			t.Errorf("expected %s to be valid", tt)
		}
	}
	for _, bad := range []TransactionType{"", "escrowCreate", "Transfer", "payment"} {
		if bad.Valid() {
			t.Errorf("expected %q to be invalid", bad)
		}
	}
}

func TestCategoryGroupsSupplyOperations(t *testing.T) {
	if Mint.Category() != Burn.Category() {
		t.Errorf("mint and burn should share a category, got %s and %s", Mint.Category(), Burn.Category())
	}
	if Transfer.Category() == Mint.Category() {
		t.Error("transfer and mint should not share a daily limit")
	}
	if TransactionType("bogus").Category() != "unknown" {
		t.Errorf("expected unknown category, got %s", TransactionType("bogus").Category())
	}
}

func TestMovesHoldings(t *testing.T) {
	moving := map[TransactionType]bool{
		Transfer: true, Mint: true, Burn: true,
		TrustSet: false, OfferCreate: false, AccountFreeze: false,
	}
	for tt, want := range moving {
		if got := tt.MovesHoldings(); got != want {
			t.Errorf("%s.MovesHoldings() = %v, want %v", tt, got, want)
		}
	}
}

func TestParseKYCStatusFailsClosed(t *testing.T) {
	if ParseKYCStatus("approved") != KYCApproved {
		t.Error("expected approved")
	}
	if ParseKYCStatus("APPROVED") != KYCNone {
		t.Error("status parsing must be exact")
	}
	if ParseKYCStatus("") != KYCNone {
		t.Error("expected none for empty status")
	}
}

func TestPrincipalIsAdmin(t *testing.T) {
	if !(Principal{UserID: "u1", Role: RoleAdmin}).IsAdmin() {
		t.Error("admin principal should be admin")
	}
	if (Principal{UserID: "u1", Role: RoleOperator}).IsAdmin() {
		t.Error("operator principal should not be admin")
	}
}
