package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/custody-backend/internal/repo"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/pagination"
)

// Repository manages persistence for wallets and their ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	SetLockTimeout(ctx context.Context, timeout time.Duration) error

	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	FindWalletByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Wallet, error)
	FindWalletByID(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	LockWalletByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Wallet, error)
	UpdateThresholds(ctx context.Context, walletID uuid.UUID, warning, minimum int64) error
	ApplyDelta(ctx context.Context, walletID uuid.UUID, delta WalletDelta) (bool, error)

	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	FindEntryByIdempotencyKey(ctx context.Context, walletID uuid.UUID, key string) (*models.LedgerEntry, error)
	FindHoldClosure(ctx context.Context, holdID uuid.UUID) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, walletID uuid.UUID, filter EntryFilter) ([]models.LedgerEntry, error)
	ListOpenHolds(ctx context.Context, filter OpenHoldFilter) ([]models.LedgerEntry, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	return r.DB(ctx).Create(wallet).Error
}

func (r *repository) FindWalletByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.DB(ctx).Where("tenant_id = ?", tenantID).Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindWalletByID(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.DB(ctx).Where("id = ?", walletID).Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) LockWalletByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		Take(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) UpdateThresholds(ctx context.Context, walletID uuid.UUID, warning, minimum int64) error {
	return r.DB(ctx).Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]any{
			"warning_threshold": warning,
			"minimum_threshold": minimum,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// WalletDelta is one guarded balance movement. Lifetime counters only grow.
type WalletDelta struct {
	Available int64
	Held      int64
	Credited  int64
	Debited   int64
	At        time.Time
}

// ApplyDelta moves both balances in one guarded statement. It reports false
// when the guard rejected the update, which the caller treats as insufficient
// funds even if the row lock was somehow bypassed.
func (r *repository) ApplyDelta(ctx context.Context, walletID uuid.UUID, delta WalletDelta) (bool, error) {
	at := delta.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res := r.DB(ctx).Model(&models.Wallet{}).
		Where("id = ? AND available_balance + ? >= 0 AND held_balance + ? >= 0", walletID, delta.Available, delta.Held).
		Updates(map[string]any{
			"available_balance": gorm.Expr("available_balance + ?", delta.Available),
			"held_balance":      gorm.Expr("held_balance + ?", delta.Held),
			"total_credited":    gorm.Expr("total_credited + ?", delta.Credited),
			"total_debited":     gorm.Expr("total_debited + ?", delta.Debited),
			"last_activity_at":  at,
			"updated_at":        at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.DB(ctx).Create(entry).Error
}

func (r *repository) FindEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.DB(ctx).Where("id = ?", id).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindEntryByIdempotencyKey(ctx context.Context, walletID uuid.UUID, key string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.DB(ctx).
		Where("wallet_id = ? AND idempotency_key = ?", walletID, key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindHoldClosure returns the first usage or release entry that references the
// hold, or nil while the hold is still open.
func (r *repository) FindHoldClosure(ctx context.Context, holdID uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.DB(ctx).
		Where("hold_entry_id = ?", holdID).
		Order("created_at ASC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListEntries(ctx context.Context, walletID uuid.UUID, filter EntryFilter) ([]models.LedgerEntry, error) {
	query := r.DB(ctx).Where("wallet_id = ?", walletID)
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if filter.ReferenceType != "" {
		query = query.Where("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceID != "" {
		query = query.Where("reference_id = ?", filter.ReferenceID)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at < ?", filter.To.UTC())
	}
	if filter.cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.cursor.CreatedAt, filter.cursor.CreatedAt, filter.cursor.ID)
	}

	var entries []models.LedgerEntry
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(filter.Limit)).
		Find(&entries).Error
	return entries, err
}

func (r *repository) ListOpenHolds(ctx context.Context, filter OpenHoldFilter) ([]models.LedgerEntry, error) {
	query := r.DB(ctx).
		Table("ledger_entries AS h").
		Select("h.*").
		Where("h.type = ?", enums.LedgerEntryTypeHold).
		Where("NOT EXISTS (SELECT 1 FROM ledger_entries c WHERE c.hold_entry_id = h.id)")
	if filter.WalletID != nil {
		query = query.Where("h.wallet_id = ?", *filter.WalletID)
	}
	if !filter.OlderThan.IsZero() {
		query = query.Where("h.created_at <= ?", filter.OlderThan.UTC())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = pagination.MaxLimit
	}

	var holds []models.LedgerEntry
	err := query.
		Order("h.created_at ASC").
		Limit(limit).
		Find(&holds).Error
	return holds, err
}
