package enums

import "fmt"

// SuspensionType maps to the abuse_scores.suspension_type column values in Postgres.
type SuspensionType string

const (
	SuspensionTypeTemporary SuspensionType = "temporary"
	SuspensionTypePermanent SuspensionType = "permanent"
)

var validSuspensionTypes = []SuspensionType{
	SuspensionTypeTemporary,
	SuspensionTypePermanent,
}

// IsValid reports whether the value matches the canonical suspension type set.
func (v SuspensionType) IsValid() bool {
	for _, candidate := range validSuspensionTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseSuspensionType converts raw input into SuspensionType.
func ParseSuspensionType(value string) (SuspensionType, error) {
	for _, candidate := range validSuspensionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid suspension type %q", value)
}
