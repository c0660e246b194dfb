package enums

import "fmt"

// PolicyAction maps to the abuse_scores.policy_action column values in Postgres.
type PolicyAction string

const (
	PolicyActionNone            PolicyAction = "none"
	PolicyActionThrottle        PolicyAction = "throttle"
	PolicyActionRequireApproval PolicyAction = "require_approval"
	PolicyActionSuspend         PolicyAction = "suspend"
)

var validPolicyActions = []PolicyAction{
	PolicyActionNone,
	PolicyActionThrottle,
	PolicyActionRequireApproval,
	PolicyActionSuspend,
}

// IsValid reports whether the value matches the canonical policy action set.
func (v PolicyAction) IsValid() bool {
	for _, candidate := range validPolicyActions {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePolicyAction converts raw input into PolicyAction.
func ParsePolicyAction(value string) (PolicyAction, error) {
	for _, candidate := range validPolicyActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid policy action %q", value)
}
