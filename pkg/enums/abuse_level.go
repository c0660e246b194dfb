package enums

import "fmt"

// AbuseLevel maps to the abuse_scores.abuse_level column values in Postgres.
type AbuseLevel string

const (
	AbuseLevelNone     AbuseLevel = "none"
	AbuseLevelLow      AbuseLevel = "low"
	AbuseLevelMedium   AbuseLevel = "medium"
	AbuseLevelHigh     AbuseLevel = "high"
	AbuseLevelCritical AbuseLevel = "critical"
)

var validAbuseLevels = []AbuseLevel{
	AbuseLevelNone,
	AbuseLevelLow,
	AbuseLevelMedium,
	AbuseLevelHigh,
	AbuseLevelCritical,
}

// IsValid reports whether the value matches the canonical abuse level set.
func (v AbuseLevel) IsValid() bool {
	for _, candidate := range validAbuseLevels {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseAbuseLevel converts raw input into AbuseLevel.
func ParseAbuseLevel(value string) (AbuseLevel, error) {
	for _, candidate := range validAbuseLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid abuse level %q", value)
}
