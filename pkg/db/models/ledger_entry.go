package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/custody-backend/pkg/db/types"
	"github.com/angelmondragon/custody-backend/pkg/enums"
)

// LedgerEntry is an append-only record of a single balance mutation. Rows are
// never updated after insert; hold closure is derived from release/usage rows
// that reference the hold through HoldEntryID.
type LedgerEntry struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	WalletID       uuid.UUID               `gorm:"column:wallet_id;type:uuid;not null;index:idx_ledger_entries_wallet_created,priority:1;uniqueIndex:idx_ledger_entries_wallet_idem,priority:1"`
	TenantID       uuid.UUID               `gorm:"column:tenant_id;type:uuid;not null;index"`
	Type           enums.LedgerEntryType   `gorm:"column:type;type:text;not null;uniqueIndex:idx_ledger_entries_hold_type,priority:2"`
	Amount         int64                   `gorm:"column:amount;not null"`
	BalanceKind    enums.BalanceKind       `gorm:"column:balance_kind;type:text;not null"`
	BalanceBefore  int64                   `gorm:"column:balance_before;not null"`
	BalanceAfter   int64                   `gorm:"column:balance_after;not null;check:chk_ledger_entries_after_non_negative,balance_after >= 0"`
	ReferenceType  *string                 `gorm:"column:reference_type"`
	ReferenceID    *string                 `gorm:"column:reference_id"`
	Description    *string                 `gorm:"column:description"`
	Metadata       dbtypes.Metadata        `gorm:"column:metadata;not null"`
	Status         enums.LedgerEntryStatus `gorm:"column:status;type:text;not null"`
	ActorID        *string                 `gorm:"column:actor_id"`
	HoldEntryID    *uuid.UUID              `gorm:"column:hold_entry_id;type:uuid;uniqueIndex:idx_ledger_entries_hold_type,priority:1"`
	IdempotencyKey *string                 `gorm:"column:idempotency_key;uniqueIndex:idx_ledger_entries_wallet_idem,priority:2"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime;index:idx_ledger_entries_wallet_created,priority:2"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Metadata.Version == 0 {
		e.Metadata.Version = dbtypes.MetadataVersion
	}
	return nil
}
