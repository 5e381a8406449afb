package enums

import "fmt"

// LedgerEntryType classifies how a ledger entry moves a user's balances.
type LedgerEntryType string

const (
	LedgerEntryTypeCredit        LedgerEntryType = "credit"
	LedgerEntryTypeDebit         LedgerEntryType = "debit"
	LedgerEntryTypeEscrowHold    LedgerEntryType = "escrow_hold"
	LedgerEntryTypeEscrowRelease LedgerEntryType = "escrow_release"
	LedgerEntryTypePayout        LedgerEntryType = "payout"
	LedgerEntryTypeRefund        LedgerEntryType = "refund"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypeCredit,
	LedgerEntryTypeDebit,
	LedgerEntryTypeEscrowHold,
	LedgerEntryTypeEscrowRelease,
	LedgerEntryTypePayout,
	LedgerEntryTypeRefund,
}

// String implements fmt.Stringer.
func (l LedgerEntryType) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerEntryType.
func (l LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
