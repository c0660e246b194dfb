package sequences

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/custody-backend/internal/repo"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
)

// Repository persists sequence counters.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Ensure(ctx context.Context, key Key) error
	Lock(ctx context.Context, key Key) (*models.SequenceCounter, error)
	Advance(ctx context.Context, key Key, from, to int64) (bool, error)
	Find(ctx context.Context, key Key) (*models.SequenceCounter, error)
	ListByPrefix(ctx context.Context, prefix string) ([]models.SequenceCounter, error)
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

// Ensure inserts the counter row at zero if it does not exist yet.
func (r *repository) Ensure(ctx context.Context, key Key) error {
	row := models.SequenceCounter{Prefix: key.Prefix, Year: key.Year, Month: key.Month}
	return r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (r *repository) Lock(ctx context.Context, key Key) (*models.SequenceCounter, error) {
	var row models.SequenceCounter
	err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("prefix = ? AND year = ? AND month = ?", key.Prefix, key.Year, key.Month).
		Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Advance moves the counter from one value to the next. The from guard makes a
// lost row lock visible as zero rows affected instead of a duplicate number.
func (r *repository) Advance(ctx context.Context, key Key, from, to int64) (bool, error) {
	res := r.DB(ctx).Model(&models.SequenceCounter{}).
		Where("prefix = ? AND year = ? AND month = ? AND last_value = ?", key.Prefix, key.Year, key.Month, from).
		Updates(map[string]any{"last_value": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Find(ctx context.Context, key Key) (*models.SequenceCounter, error) {
	var row models.SequenceCounter
	err := r.DB(ctx).
		Where("prefix = ? AND year = ? AND month = ?", key.Prefix, key.Year, key.Month).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListByPrefix(ctx context.Context, prefix string) ([]models.SequenceCounter, error) {
	var rows []models.SequenceCounter
	err := r.DB(ctx).
		Where("prefix = ?", prefix).
		Order("year DESC").
		Order("month DESC").
		Find(&rows).Error
	return rows, err
}
