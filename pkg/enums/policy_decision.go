package enums

import "fmt"

// PolicyDecision is the outcome of an abuse policy evaluation. It is never persisted.
type PolicyDecision string

const (
	PolicyDecisionAllow           PolicyDecision = "allow"
	PolicyDecisionThrottle        PolicyDecision = "throttle"
	PolicyDecisionRequireApproval PolicyDecision = "require_approval"
	PolicyDecisionDeny            PolicyDecision = "deny"
)

var validPolicyDecisions = []PolicyDecision{
	PolicyDecisionAllow,
	PolicyDecisionThrottle,
	PolicyDecisionRequireApproval,
	PolicyDecisionDeny,
}

// IsValid reports whether the value matches the canonical policy decision set.
func (v PolicyDecision) IsValid() bool {
	for _, candidate := range validPolicyDecisions {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePolicyDecision converts raw input into PolicyDecision.
func ParsePolicyDecision(value string) (PolicyDecision, error) {
	for _, candidate := range validPolicyDecisions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid policy decision %q", value)
}
