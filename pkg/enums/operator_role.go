package enums

import "fmt"

// OperatorRole represents the permissions carried by an operator token.
type OperatorRole string

const (
	OperatorRoleAdmin   OperatorRole = "admin"
	OperatorRoleSupport OperatorRole = "support"
	OperatorRoleService OperatorRole = "service"
)

var validOperatorRoles = []OperatorRole{
	OperatorRoleAdmin,
	OperatorRoleSupport,
	OperatorRoleService,
}

// String implements fmt.Stringer.
func (r OperatorRole) String() string {
	return string(r)
}

// IsValid reports whether the role is part of the canonical set.
func (r OperatorRole) IsValid() bool {
	for _, candidate := range validOperatorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanOverridePolicy reports whether the role may set manual abuse approvals.
func (r OperatorRole) CanOverridePolicy() bool {
	return r == OperatorRoleAdmin
}

// ParseOperatorRole converts raw input into OperatorRole.
func ParseOperatorRole(value string) (OperatorRole, error) {
	for _, candidate := range validOperatorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operator role %q", value)
}
