package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/custody-backend/internal/abuse"
	"github.com/angelmondragon/custody-backend/pkg/logger"
)

type abuseDecayer interface {
	DecayAll(ctx context.Context, now time.Time) (*abuse.DecaySummary, error)
}

type AbuseDecayJobParams struct {
	Logger *logger.Logger
	Abuse  abuseDecayer
}

// NewAbuseDecayJob lowers every positive abuse score and lifts expired
// temporary suspensions.
func NewAbuseDecayJob(params AbuseDecayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Abuse == nil {
		return nil, fmt.Errorf("abuse service required")
	}
	return &abuseDecayJob{logg: params.Logger, abuse: params.Abuse, now: time.Now}, nil
}

type abuseDecayJob struct {
	logg  *logger.Logger
	abuse abuseDecayer
	now   func() time.Time
}

func (j *abuseDecayJob) Name() string { return "abuse-decay" }

func (j *abuseDecayJob) Run(ctx context.Context) error {
	summary, err := j.abuse.DecayAll(ctx, j.now().UTC())
	if summary != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"tenants_processed":  summary.Processed,
			"suspensions_lifted": summary.Lifted,
			"tenants_failed":     summary.Failed,
		})
		j.logg.Info(logCtx, "abuse decay sweep complete")
	}
	if err != nil {
		return fmt.Errorf("abuse decay: %w", err)
	}
	return nil
}
