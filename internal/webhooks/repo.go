package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/internal/repo"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/pagination"
)

// Transition is a guarded result change on a dedup record.
type Transition struct {
	Result       enums.WebhookResult
	ErrorMessage *string
	ProcessedAt  *time.Time
	BumpAttempts bool
}

// ListFilter narrows List. Records are returned newest first.
type ListFilter struct {
	Provider string
	Results  []enums.WebhookResult
	Before   time.Time
	Limit    int
}

// Repository persists webhook dedup records.
type Repository interface {
	Insert(ctx context.Context, record *models.WebhookEvent) error
	FindByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	TakeOverRejected(ctx context.Context, record *models.WebhookEvent) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.WebhookResult, to Transition) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]models.WebhookEvent, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

// Insert writes the record outside any caller transaction so the dedup row
// survives a failed credit.
func (r *repository) Insert(ctx context.Context, record *models.WebhookEvent) error {
	return r.DB(ctx).Create(record).Error
}

func (r *repository) FindByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var record models.WebhookEvent
	err := r.DB(ctx).Where("event_id = ?", eventID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// TakeOverRejected lets a correctly signed delivery claim a record that an
// earlier forged or misconfigured delivery left rejected. Only one caller wins.
func (r *repository) TakeOverRejected(ctx context.Context, record *models.WebhookEvent) (bool, error) {
	res := r.DB(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ? AND result = ?", record.EventID, enums.WebhookResultRejected).
		Updates(map[string]any{
			"provider":        record.Provider,
			"payload":         record.Payload,
			"payload_hash":    record.PayloadHash,
			"signature_valid": true,
			"result":          enums.WebhookResultReceived,
			"error_message":   nil,
			"attempts":        gorm.Expr("attempts + 1"),
			"received_at":     record.ReceivedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []enums.WebhookResult, to Transition) (bool, error) {
	updates := map[string]any{
		"result":        to.Result,
		"error_message": to.ErrorMessage,
		"processed_at":  to.ProcessedAt,
	}
	if to.BumpAttempts {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}
	query := r.DB(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id)
	if len(from) > 0 {
		query = query.Where("result IN ?", from)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.WebhookEvent, error) {
	query := r.DB(ctx).Model(&models.WebhookEvent{})
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if len(filter.Results) > 0 {
		query = query.Where("result IN ?", filter.Results)
	}
	if !filter.Before.IsZero() {
		query = query.Where("received_at < ?", filter.Before.UTC())
	}
	var records []models.WebhookEvent
	err := query.
		Order("received_at DESC").
		Limit(pagination.NormalizeLimit(filter.Limit)).
		Find(&records).Error
	return records, err
}
