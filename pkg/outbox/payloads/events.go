package payloads

import (
	"time"

	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/google/uuid"
)

// WalletCreditedEvent is emitted when a verified payment notification funds a wallet.
type WalletCreditedEvent struct {
	WalletID         uuid.UUID `json:"wallet_id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	EntryID          uuid.UUID `json:"entry_id"`
	Amount           int64     `json:"amount"`
	AvailableBalance int64     `json:"available_balance"`
	Provider         string    `json:"provider,omitempty"`
	ExternalEventID  string    `json:"external_event_id,omitempty"`
}

// WalletLowBalanceEvent signals that a debit or hold crossed a configured threshold.
type WalletLowBalanceEvent struct {
	WalletID         uuid.UUID `json:"wallet_id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	AvailableBalance int64     `json:"available_balance"`
	Threshold        int64     `json:"threshold"`
	// ThresholdKind is "warning" or "minimum".
	ThresholdKind string `json:"threshold_kind"`
}

// HoldStaleEvent feeds the caller's reconciliation sweep. Holds are never auto-released.
type HoldStaleEvent struct {
	HoldEntryID   uuid.UUID `json:"hold_entry_id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	Amount        int64     `json:"amount"`
	ReferenceType string    `json:"reference_type,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	HeldSince     time.Time `json:"held_since"`
}

// TenantSuspendedEvent is emitted when the abuse engine suspends a tenant.
type TenantSuspendedEvent struct {
	TenantID       uuid.UUID            `json:"tenant_id"`
	Score          string               `json:"score"`
	Level          enums.AbuseLevel     `json:"level"`
	SuspensionType enums.SuspensionType `json:"suspension_type"`
	Until          *time.Time           `json:"until,omitempty"`
	Reason         string               `json:"reason,omitempty"`
}

// TenantSuspensionLiftedEvent is emitted when a suspension ends by decay or manual approval.
type TenantSuspensionLiftedEvent struct {
	TenantID       uuid.UUID            `json:"tenant_id"`
	Score          string               `json:"score"`
	Level          enums.AbuseLevel     `json:"level"`
	ApprovalStatus enums.ApprovalStatus `json:"approval_status"`
}
