package enums

import "fmt"

// ApprovalStatus maps to the abuse_scores.approval_status column values in Postgres.
type ApprovalStatus string

const (
	ApprovalStatusNone         ApprovalStatus = "none"
	ApprovalStatusPending      ApprovalStatus = "pending"
	ApprovalStatusApproved     ApprovalStatus = "approved"
	ApprovalStatusRejected     ApprovalStatus = "rejected"
	ApprovalStatusAutoApproved ApprovalStatus = "auto_approved"
)

var validApprovalStatuses = []ApprovalStatus{
	ApprovalStatusNone,
	ApprovalStatusPending,
	ApprovalStatusApproved,
	ApprovalStatusRejected,
	ApprovalStatusAutoApproved,
}

// IsValid reports whether the value matches the canonical approval status set.
func (v ApprovalStatus) IsValid() bool {
	for _, candidate := range validApprovalStatuses {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseApprovalStatus converts raw input into ApprovalStatus.
func ParseApprovalStatus(value string) (ApprovalStatus, error) {
	for _, candidate := range validApprovalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid approval status %q", value)
}
