package abuse

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
)

type threshold struct {
	min   decimal.Decimal
	level enums.AbuseLevel
}

// levelThresholds is ordered from most to least severe; the first floor the
// score reaches wins.
var levelThresholds = []threshold{
	{min: decimal.NewFromInt(90), level: enums.AbuseLevelCritical},
	{min: decimal.NewFromInt(60), level: enums.AbuseLevelHigh},
	{min: decimal.NewFromInt(40), level: enums.AbuseLevelMedium},
	{min: decimal.NewFromInt(20), level: enums.AbuseLevelLow},
}

var actionByLevel = map[enums.AbuseLevel]enums.PolicyAction{
	enums.AbuseLevelNone:     enums.PolicyActionNone,
	enums.AbuseLevelLow:      enums.PolicyActionNone,
	enums.AbuseLevelMedium:   enums.PolicyActionThrottle,
	enums.AbuseLevelHigh:     enums.PolicyActionRequireApproval,
	enums.AbuseLevelCritical: enums.PolicyActionSuspend,
}

var actionSeverity = map[enums.PolicyAction]int{
	enums.PolicyActionNone:            0,
	enums.PolicyActionThrottle:        1,
	enums.PolicyActionRequireApproval: 2,
	enums.PolicyActionSuspend:         3,
}

// LevelFor maps a score onto its abuse level. Negative scores count as zero.
func LevelFor(score decimal.Decimal) enums.AbuseLevel {
	for _, t := range levelThresholds {
		if score.GreaterThanOrEqual(t.min) {
			return t.level
		}
	}
	return enums.AbuseLevelNone
}

// ActionFor maps a level onto the automatic policy action.
func ActionFor(level enums.AbuseLevel) enums.PolicyAction {
	if action, ok := actionByLevel[level]; ok {
		return action
	}
	return enums.PolicyActionNone
}

// Classify is LevelFor followed by ActionFor.
func Classify(score decimal.Decimal) (enums.AbuseLevel, enums.PolicyAction) {
	level := LevelFor(score)
	return level, ActionFor(level)
}

// Severity orders policy actions; a higher score never yields a lower value.
func Severity(action enums.PolicyAction) int {
	return actionSeverity[action]
}

// Decide turns persisted score state into a spend decision.
//
// Suspension always denies. A manual approval or rejection overrides the
// automatic action until the next recorded event resets it. A suspension
// lifted by decay (auto_approved) satisfies require_approval.
func Decide(score *models.AbuseScore) enums.PolicyDecision {
	if score == nil {
		return enums.PolicyDecisionAllow
	}
	if score.IsSuspended {
		return enums.PolicyDecisionDeny
	}
	switch score.ApprovalStatus {
	case enums.ApprovalStatusApproved:
		return enums.PolicyDecisionAllow
	case enums.ApprovalStatusRejected:
		return enums.PolicyDecisionDeny
	}
	switch score.PolicyAction {
	case enums.PolicyActionSuspend:
		return enums.PolicyDecisionDeny
	case enums.PolicyActionRequireApproval:
		if score.ApprovalStatus == enums.ApprovalStatusAutoApproved {
			return enums.PolicyDecisionAllow
		}
		return enums.PolicyDecisionRequireApproval
	case enums.PolicyActionThrottle:
		return enums.PolicyDecisionThrottle
	default:
		return enums.PolicyDecisionAllow
	}
}
