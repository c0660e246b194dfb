package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/outbox"
	"github.com/angelmondragon/custody-backend/pkg/outbox/payloads"
)

const (
	defaultStaleHoldAge   = 6 * time.Hour
	defaultStaleHoldBatch = 200
)

type openHoldLister interface {
	ListOpenHolds(ctx context.Context, tenantID *uuid.UUID, olderThan time.Time, limit int) ([]models.LedgerEntry, error)
}

type StaleHoldJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Ledger openHoldLister
	Outbox outbox.Emitter
	MaxAge time.Duration
	Batch  int
}

// NewStaleHoldJob flags holds that stayed open past MaxAge. It only emits
// hold_stale events, once per hold; releasing or settling is left to the
// owner of the reservation.
func NewStaleHoldJob(params StaleHoldJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultStaleHoldAge
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultStaleHoldBatch
	}
	return &staleHoldJob{
		logg:   params.Logger,
		db:     params.DB,
		ledger: params.Ledger,
		outbox: params.Outbox,
		maxAge: maxAge,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type staleHoldJob struct {
	logg   *logger.Logger
	db     txRunner
	ledger openHoldLister
	outbox outbox.Emitter
	maxAge time.Duration
	batch  int
	now    func() time.Time
}

func (j *staleHoldJob) Name() string { return "stale-holds" }

func (j *staleHoldJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.maxAge)
	holds, err := j.ledger.ListOpenHolds(ctx, nil, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list open holds: %w", err)
	}

	var errs error
	flagged := 0
	for _, hold := range holds {
		if err := j.flag(ctx, hold, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("hold %s: %w", hold.ID, err))
			continue
		}
		flagged++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":        cutoff,
		"holds_scanned": len(holds),
		"holds_flagged": flagged,
	})
	j.logg.Info(logCtx, "stale hold sweep complete")
	return errs
}

func (j *staleHoldJob) flag(ctx context.Context, hold models.LedgerEntry, now time.Time) error {
	data := payloads.HoldStaleEvent{
		HoldEntryID: hold.ID,
		WalletID:    hold.WalletID,
		TenantID:    hold.TenantID,
		Amount:      -hold.Amount,
		HeldSince:   hold.CreatedAt.UTC(),
	}
	if hold.ReferenceType != nil {
		data.ReferenceType = *hold.ReferenceType
	}
	if hold.ReferenceID != nil {
		data.ReferenceID = *hold.ReferenceID
	}
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventHoldStale,
			AggregateType: enums.AggregateLedgerEntry,
			AggregateID:   hold.ID,
			Actor:         outbox.SystemActor(j.Name()),
			Data:          data,
			OccurredAt:    now,
		})
	})
}
