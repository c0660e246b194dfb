package enums

import "fmt"

// BalanceKind maps to the ledger_entries.balance_kind column values in Postgres.
type BalanceKind string

const (
	BalanceKindAvailable BalanceKind = "available"
	BalanceKindHeld      BalanceKind = "held"
)

var validBalanceKinds = []BalanceKind{
	BalanceKindAvailable,
	BalanceKindHeld,
}

// IsValid reports whether the value matches the canonical balance kind set.
func (v BalanceKind) IsValid() bool {
	for _, candidate := range validBalanceKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseBalanceKind converts raw input into BalanceKind.
func ParseBalanceKind(value string) (BalanceKind, error) {
	for _, candidate := range validBalanceKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid balance kind %q", value)
}
