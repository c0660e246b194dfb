package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/custody-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/custody-backend/pkg/db/types"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/pagination"
)

// Thresholds configure low-balance signalling for a wallet. Zero disables a level.
type Thresholds struct {
	Warning int64 `json:"warning_threshold"`
	Minimum int64 `json:"minimum_threshold"`
}

// Balance is the current wallet snapshot. It is read from the wallet row, not
// replayed from the ledger.
type Balance struct {
	WalletID         uuid.UUID  `json:"wallet_id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	Available        int64      `json:"available"`
	Held             int64      `json:"held"`
	TotalCredited    int64      `json:"total_credited"`
	TotalDebited     int64      `json:"total_debited"`
	WarningThreshold int64      `json:"warning_threshold"`
	MinimumThreshold int64      `json:"minimum_threshold"`
	LastActivityAt   *time.Time `json:"last_activity_at,omitempty"`
}

func balanceFromWallet(w *models.Wallet) *Balance {
	return &Balance{
		WalletID:         w.ID,
		TenantID:         w.TenantID,
		Available:        w.AvailableBalance,
		Held:             w.HeldBalance,
		TotalCredited:    w.TotalCredited,
		TotalDebited:     w.TotalDebited,
		WarningThreshold: w.WarningThreshold,
		MinimumThreshold: w.MinimumThreshold,
		LastActivityAt:   w.LastActivityAt,
	}
}

// Reference ties an entry to the external object that caused it, e.g. a
// campaign or a payment.
type Reference struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

func (r Reference) empty() bool {
	return strings.TrimSpace(r.Type) == "" && strings.TrimSpace(r.ID) == ""
}

// CreditSource identifies the verified external notification behind a credit.
type CreditSource struct {
	Provider string
	EventID  string
}

// CreditInput funds a wallet. Type defaults to topup.
type CreditInput struct {
	TenantID       uuid.UUID
	Amount         int64
	Type           enums.LedgerEntryType
	Reference      Reference
	Description    string
	Metadata       dbtypes.Metadata
	ActorID        string
	IdempotencyKey string
	Source         *CreditSource
}

// DebitInput spends available funds directly. Type defaults to usage.
type DebitInput struct {
	TenantID       uuid.UUID
	Amount         int64
	Type           enums.LedgerEntryType
	Reference      Reference
	Description    string
	Metadata       dbtypes.Metadata
	ActorID        string
	IdempotencyKey string
}

// HoldInput reserves funds for an in-flight job. A non-empty reference makes
// the hold idempotent per (wallet, reference).
type HoldInput struct {
	TenantID    uuid.UUID
	Amount      int64
	Reference   Reference
	Description string
	Metadata    dbtypes.Metadata
	ActorID     string
}

// ReleaseInput returns a hold to available funds. A non-nil TenantID must own
// the hold.
type ReleaseInput struct {
	TenantID    uuid.UUID
	HoldEntryID uuid.UUID
	Reason      string
	ActorID     string
}

// SettleInput finalizes a hold with the actual spend. A non-nil TenantID must
// own the hold.
type SettleInput struct {
	TenantID     uuid.UUID
	HoldEntryID  uuid.UUID
	ActualAmount int64
	Description  string
	ActorID      string
}

// SettleResult carries the usage entry and, for partial settlements, the
// implicit release of the remainder.
type SettleResult struct {
	Entries []models.LedgerEntry `json:"entries"`
	Balance *Balance             `json:"balance"`
}

// EntryFilter narrows ListEntries. Entries are returned newest first.
type EntryFilter struct {
	Types         []enums.LedgerEntryType
	ReferenceType string
	ReferenceID   string
	From          time.Time
	To            time.Time
	Limit         int
	Cursor        string

	cursor *pagination.Cursor
}

// EntryPage is one page of ledger entries.
type EntryPage struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// OpenHoldFilter narrows ListOpenHolds. A nil wallet scans every wallet.
type OpenHoldFilter struct {
	WalletID  *uuid.UUID
	OlderThan time.Time
	Limit     int
}

// HoldAmount returns the magnitude reserved by a hold entry.
func HoldAmount(entry *models.LedgerEntry) int64 {
	if entry == nil || entry.Amount >= 0 {
		return 0
	}
	return -entry.Amount
}

// HoldKey is the idempotency key derived from a hold's reference.
func HoldKey(ref Reference) string {
	return "hold:" + strings.TrimSpace(ref.Type) + ":" + strings.TrimSpace(ref.ID)
}
