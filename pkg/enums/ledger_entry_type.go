package enums

import "fmt"

// LedgerEntryType maps to the ledger_entries.type column values in Postgres.
type LedgerEntryType string

const (
	LedgerEntryTypeTopup      LedgerEntryType = "topup"
	LedgerEntryTypeUsage      LedgerEntryType = "usage"
	LedgerEntryTypeHold       LedgerEntryType = "hold"
	LedgerEntryTypeRelease    LedgerEntryType = "release"
	LedgerEntryTypeRefund     LedgerEntryType = "refund"
	LedgerEntryTypeAdjustment LedgerEntryType = "adjustment"
	LedgerEntryTypeBonus      LedgerEntryType = "bonus"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypeTopup,
	LedgerEntryTypeUsage,
	LedgerEntryTypeHold,
	LedgerEntryTypeRelease,
	LedgerEntryTypeRefund,
	LedgerEntryTypeAdjustment,
	LedgerEntryTypeBonus,
}

// IsValid reports whether the value matches the canonical ledger entry type set.
func (v LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
