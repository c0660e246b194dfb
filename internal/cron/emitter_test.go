package cron

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/outbox"
)

type recordingEmitter struct {
	events []outbox.DomainEvent
	calls  int
	err    error
}

func (r *recordingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	return r.Emit(ctx, tx, event)
}
