package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/pagination"
)

// maxDLQErrorLen caps stored publish errors; broker errors can embed payloads.
const maxDLQErrorLen = 1024

// DLQRepository stores outbox events the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx runs inside the publisher's claim transaction so the dead letter
// and the source row update commit together.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !entry.ErrorReason.IsValid() {
		return errors.New("dlq entry needs a known error reason")
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxDLQErrorLen {
		msg := (*entry.ErrorMessage)[:maxDLQErrorLen]
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var row models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns the newest dead letters first, optionally for one reason.
func (r *DLQRepository) List(ctx context.Context, reason enums.OutboxDLQErrorReason, limit int) ([]models.OutboxDLQ, error) {
	query := r.db.WithContext(ctx).Order("failed_at DESC").Limit(pagination.NormalizeLimit(limit))
	if reason != "" {
		query = query.Where("error_reason = ?", reason)
	}
	var rows []models.OutboxDLQ
	return rows, query.Find(&rows).Error
}

// DeleteFailedBefore purges dead letters older than cutoff. A nil tx uses the
// repository connection.
func (r *DLQRepository) DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	db := tx
	if db == nil {
		db = r.db
	}
	res := db.Where("failed_at < ?", cutoff.UTC()).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
