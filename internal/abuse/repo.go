package abuse

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/custody-backend/internal/repo"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/pagination"
)

// Repository persists per-tenant abuse scores and their event trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	SetLockTimeout(ctx context.Context, timeout time.Duration) error
	Ensure(ctx context.Context, tenantID uuid.UUID, now time.Time) error
	Lock(ctx context.Context, tenantID uuid.UUID) (*models.AbuseScore, error)
	Find(ctx context.Context, tenantID uuid.UUID) (*models.AbuseScore, error)
	Save(ctx context.Context, score *models.AbuseScore) error
	CreateEvent(ctx context.Context, event *models.AbuseEvent) error
	ListEvents(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AbuseEvent, error)
	ListDecayCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

// Ensure creates a clean score row for the tenant if none exists.
func (r *repository) Ensure(ctx context.Context, tenantID uuid.UUID, now time.Time) error {
	row := models.AbuseScore{
		TenantID:       tenantID,
		CurrentScore:   decimal.Zero,
		AbuseLevel:     enums.AbuseLevelNone,
		PolicyAction:   enums.PolicyActionNone,
		ApprovalStatus: enums.ApprovalStatusNone,
		LastDecayAt:    now,
	}
	return r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (r *repository) Lock(ctx context.Context, tenantID uuid.UUID) (*models.AbuseScore, error) {
	var row models.AbuseScore
	err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) Find(ctx context.Context, tenantID uuid.UUID) (*models.AbuseScore, error) {
	var row models.AbuseScore
	err := r.DB(ctx).Where("tenant_id = ?", tenantID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Save writes every mutable column, including the ones being cleared.
func (r *repository) Save(ctx context.Context, score *models.AbuseScore) error {
	return r.DB(ctx).Model(&models.AbuseScore{}).
		Where("tenant_id = ?", score.TenantID).
		Updates(map[string]any{
			"current_score":      score.CurrentScore,
			"abuse_level":        score.AbuseLevel,
			"policy_action":      score.PolicyAction,
			"last_event_at":      score.LastEventAt,
			"last_decay_at":      score.LastDecayAt,
			"is_suspended":       score.IsSuspended,
			"suspended_at":       score.SuspendedAt,
			"suspension_type":    score.SuspensionType,
			"suspension_ends_at": score.SuspensionEndsAt,
			"critical_count":     score.CriticalCount,
			"approval_status":    score.ApprovalStatus,
			"approved_by":        score.ApprovedBy,
			"approved_at":        score.ApprovedAt,
			"updated_at":         score.UpdatedAt,
		}).Error
}

func (r *repository) CreateEvent(ctx context.Context, event *models.AbuseEvent) error {
	return r.DB(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AbuseEvent, error) {
	var events []models.AbuseEvent
	err := r.DB(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&events).Error
	return events, err
}

// ListDecayCandidates pages through tenants that decay can still change: a
// positive score or a temporary suspension waiting on its cooldown.
func (r *repository) ListDecayCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := r.DB(ctx).Model(&models.AbuseScore{}).
		Where("(current_score > 0 OR (is_suspended = ? AND suspension_type = ?))", true, enums.SuspensionTypeTemporary)
	if after != uuid.Nil {
		query = query.Where("tenant_id > ?", after)
	}
	var ids []uuid.UUID
	err := query.Order("tenant_id ASC").Limit(limit).Pluck("tenant_id", &ids).Error
	return ids, err
}
