package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/retry"
)

const (
	defaultRetentionDays = 30
	// Dead letters outlive relayed rows so they can still be inspected after
	// the source row is purged.
	dlqRetentionFactor = 3
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	// DLQ is optional; nil skips dead-letter cleanup.
	DLQ           dlqRetentionRepo
	RetentionDays int
	// Retry reruns the whole purge transaction; zero uses the package defaults.
	Retry retry.Config
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type dlqRetentionRepo interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// purge is one table's cleanup: rows older than now-age go.
type purge struct {
	table string
	age   time.Duration
	run   func(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// outboxRetentionJob trims published outbox rows and old dead letters in one
// transaction. Unpublished rows are never touched.
type outboxRetentionJob struct {
	logg   *logger.Logger
	db     txRunner
	purges []purge
	retry  retry.Config
	now    func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	days := params.RetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	window := time.Duration(days) * 24 * time.Hour

	purges := []purge{{table: "outbox_events", age: window, run: params.Repository.DeletePublishedBefore}}
	if params.DLQ != nil {
		purges = append(purges, purge{table: "outbox_dlq", age: window * dlqRetentionFactor, run: params.DLQ.DeleteFailedBefore})
	}
	policy := params.Retry
	if policy == (retry.Config{}) {
		policy = retry.Config{Attempts: retry.DefaultAttempts, Backoff: retry.DefaultBackoff}
	}
	return &outboxRetentionJob{logg: params.Logger, db: params.DB, purges: purges, retry: policy, now: time.Now}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var deleted map[string]any
	err := retry.Run(ctx, retry.NewPolicy[any](j.retry), func() error {
		deleted = make(map[string]any, len(j.purges))
		return j.db.WithTx(ctx, func(tx *gorm.DB) error {
			for _, p := range j.purges {
				n, err := p.run(tx, now.Add(-p.age))
				if err != nil {
					return fmt.Errorf("purge %s: %w", p.table, err)
				}
				deleted[p.table] = n
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "rows_deleted", deleted), "outbox retention cleanup complete")
	return nil
}
