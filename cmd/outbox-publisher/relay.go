package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/config"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/custody-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

type dbClient interface {
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(ctx context.Context) error
	Publisher(topic string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	DLQRepository    dlqRepository
	PublisherFactory publisherFactory
}

// Service relays committed outbox rows to pubsub. Each batch is claimed in one
// transaction: rows are resolved, published together, then marked published,
// failed (retried next poll) or dead-lettered.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	pubsub           pubSubClient
	repo             outboxRepository
	registry         registryResolver
	dlq              dlqRepository
	publisherFactory publisherFactory
	batchSize        int
	maxAttempts      int
	poll             time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	s := &Service{
		logg:             params.Logger,
		db:               params.DB,
		pubsub:           params.PubSub,
		repo:             params.Repository,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		publisherFactory: params.PublisherFactory,
		batchSize:        orDefault(params.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:      orDefault(params.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		poll:             time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if s.poll <= 0 {
		s.poll = defaultPoll
	}
	if s.publisherFactory == nil {
		s.publisherFactory = func(topic string) publisher {
			return wrapGCPPublisher(params.PubSub.Publisher(topic))
		}
	}
	return s, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Run polls until ctx ends. Empty polls sleep one interval; batch errors back
// off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": s.db.Ping, "pubsub": s.pubsub.Ping} {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	backoff := s.poll
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		processed, err := s.processBatch(ctx)
		wait := s.poll
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			backoff = min(backoff*2, maxBackoff)
			wait = backoff
		case processed:
			backoff = s.poll
			continue
		default:
			backoff = s.poll
		}
		if err := sleep(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

// delivery tracks one claimed row through resolve, publish and settle.
type delivery struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
	err      error
}

func (d *delivery) topic() string {
	if d.resolved == nil {
		return ""
	}
	return d.resolved.Descriptor.Topic
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var processed bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil || len(events) == 0 {
			return err
		}
		processed = true

		publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		// Publish is asynchronous, so start every message before waiting on any.
		deliveries := make([]*delivery, len(events))
		for i, event := range events {
			deliveries[i] = s.dispatch(publishCtx, event)
		}
		for _, d := range deliveries {
			d.await(publishCtx)
			if err := s.settle(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) *delivery {
	d := &delivery{event: event}
	d.resolved, d.err = s.registry.Resolve(event)
	if d.err != nil {
		return d
	}
	pub := s.publisherFactory(d.topic())
	if pub == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", d.topic()))
		return d
	}
	d.result = pub.Publish(ctx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, d.resolved),
	})
	if d.result == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("publisher returned no result for topic %s", d.topic()))
	}
	return d
}

func (d *delivery) await(ctx context.Context) {
	if d.err != nil || d.result == nil {
		return
	}
	_, d.err = d.result.Get(ctx)
}

// publishResolved publishes one already resolved event and waits for the ack.
func (s *Service) publishResolved(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	d := &delivery{event: event, resolved: resolved}
	pub := s.publisherFactory(d.topic())
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", d.topic()))
	}
	d.result = pub.Publish(ctx, &gcppubsub.Message{Data: event.Payload, Attributes: messageAttributes(event, resolved)})
	if d.result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned no result for topic %s", d.topic()))
	}
	d.await(ctx)
	return d.err
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, d *delivery) error {
	logCtx := s.logg.WithFields(ctx, s.fields(d))
	if d.err == nil {
		if err := s.repo.MarkPublishedTx(tx, d.event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", d.event.ID, err)
		}
		s.logg.Info(logCtx, "outbox event published")
		return nil
	}

	var nonRetryable registry.NonRetryableError
	if errors.As(d.err, &nonRetryable) {
		return s.deadLetter(logCtx, tx, d, enums.OutboxDLQReasonNonRetryable, d.err)
	}
	if d.event.AttemptCount+1 >= s.maxAttempts {
		return s.deadLetter(logCtx, tx, d, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", d.err))
	}

	s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox publish failed, will retry")
	if err := s.repo.MarkFailedTx(tx, d.event.ID, d.err); err != nil {
		return fmt.Errorf("mark failed %s: %w", d.event.ID, err)
	}
	return nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, d *delivery, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"error": msg, "error_reason": reason}), "outbox event dead-lettered")

	entry := models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       d.event.ID,
		EventType:     d.event.EventType,
		AggregateType: d.event.AggregateType,
		AggregateID:   d.event.AggregateID,
		Payload:       d.event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  d.event.AttemptCount + 1,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", d.event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, d.event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", d.event.ID, err)
	}
	return nil
}

// messageAttributes lets subscribers filter by tenant without decoding the
// payload.
func messageAttributes(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if tenantID := payloadTenant(resolved.Payload); tenantID != uuid.Nil {
		attrs["tenant_id"] = tenantID.String()
	}
	return attrs
}

func payloadTenant(payload any) uuid.UUID {
	switch p := payload.(type) {
	case *payloads.WalletCreditedEvent:
		return p.TenantID
	case *payloads.WalletLowBalanceEvent:
		return p.TenantID
	case *payloads.HoldStaleEvent:
		return p.TenantID
	case *payloads.TenantSuspendedEvent:
		return p.TenantID
	case *payloads.TenantSuspensionLiftedEvent:
		return p.TenantID
	default:
		return uuid.Nil
	}
}

func (s *Service) fields(d *delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":     d.event.ID.String(),
		"event_type":    d.event.EventType,
		"aggregate_id":  d.event.AggregateID.String(),
		"attempt_count": d.event.AttemptCount,
	}
	if topic := d.topic(); topic != "" {
		fields["topic"] = topic
	}
	if d.resolved != nil && d.resolved.Envelope.EventID != "" {
		fields["event_id"] = d.resolved.Envelope.EventID
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
