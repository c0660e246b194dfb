package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Wallet is the single custody account owned by a tenant. Balances are in the
// smallest currency unit.
type Wallet struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TenantID         uuid.UUID  `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:idx_wallets_tenant"`
	AvailableBalance int64      `gorm:"column:available_balance;not null;default:0;check:chk_wallets_available_non_negative,available_balance >= 0"`
	HeldBalance      int64      `gorm:"column:held_balance;not null;default:0;check:chk_wallets_held_non_negative,held_balance >= 0"`
	WarningThreshold int64      `gorm:"column:warning_threshold;not null;default:0"`
	MinimumThreshold int64      `gorm:"column:minimum_threshold;not null;default:0"`
	TotalCredited    int64      `gorm:"column:total_credited;not null;default:0"`
	TotalDebited     int64      `gorm:"column:total_debited;not null;default:0"`
	LastActivityAt   *time.Time `gorm:"column:last_activity_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *Wallet) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
