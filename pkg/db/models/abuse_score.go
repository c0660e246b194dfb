package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/enums"
)

// AbuseScore is the per-tenant risk state driving policy decisions.
type AbuseScore struct {
	TenantID         uuid.UUID             `gorm:"column:tenant_id;type:uuid;primaryKey"`
	CurrentScore     decimal.Decimal       `gorm:"column:current_score;type:numeric(12,4);not null;default:0"`
	AbuseLevel       enums.AbuseLevel      `gorm:"column:abuse_level;type:text;not null"`
	PolicyAction     enums.PolicyAction    `gorm:"column:policy_action;type:text;not null"`
	LastEventAt      *time.Time            `gorm:"column:last_event_at"`
	LastDecayAt      time.Time             `gorm:"column:last_decay_at;not null"`
	IsSuspended      bool                  `gorm:"column:is_suspended;not null;default:false;index"`
	SuspendedAt      *time.Time            `gorm:"column:suspended_at"`
	SuspensionType   *enums.SuspensionType `gorm:"column:suspension_type;type:text"`
	SuspensionEndsAt *time.Time            `gorm:"column:suspension_ends_at"`
	CriticalCount    int                   `gorm:"column:critical_count;not null;default:0"`
	ApprovalStatus   enums.ApprovalStatus  `gorm:"column:approval_status;type:text;not null"`
	ApprovedBy       *string               `gorm:"column:approved_by"`
	ApprovedAt       *time.Time            `gorm:"column:approved_at"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// AbuseEvent is the audit trail of weights applied to a tenant score.
type AbuseEvent struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	TenantID   uuid.UUID        `gorm:"column:tenant_id;type:uuid;not null;index"`
	Weight     decimal.Decimal  `gorm:"column:weight;type:numeric(12,4);not null"`
	Reason     string           `gorm:"column:reason;not null"`
	ScoreAfter decimal.Decimal  `gorm:"column:score_after;type:numeric(12,4);not null"`
	LevelAfter enums.AbuseLevel `gorm:"column:level_after;type:text;not null"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
}

func (e *AbuseEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
