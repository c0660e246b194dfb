package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/config"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/outbox"
	"github.com/angelmondragon/custody-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/custody-backend/pkg/outbox/registry"
)

func walletEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventWalletCredited,
		AggregateType: enums.AggregateWallet,
		AggregateID:   uuid.New(),
		Payload:       envelopeJSON(t),
		AttemptCount:  attempts,
	}
}

func walletResolved() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "wallet-topic", AggregateType: enums.AggregateWallet},
		Payload:    &payloads.WalletCreditedEvent{TenantID: uuid.New()},
	}
}

func TestProcessBatchRetriesFailedRowAndPublishesRest(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{walletEvent(t, 0), walletEvent(t, 0)}}
	pub := &fakePublisher{results: []publishResult{
		&fakePublishResult{err: errors.New("transient")},
		&fakePublishResult{},
	}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, pub, &fakeRegistry{resolved: walletResolved()}, dlq, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{repo.events[0].ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{repo.events[1].ID}, repo.published)
	assert.Empty(t, repo.terminal)
	assert.Empty(t, dlq.entries)
}

func TestProcessBatchPublishesAllBeforeAwaiting(t *testing.T) {
	var log []string
	results := make([]publishResult, 3)
	for i := range results {
		results[i] = &fakePublishResult{log: &log}
	}
	pub := &fakePublisher{results: results, log: &log}
	repo := &fakeRepo{events: []models.OutboxEvent{walletEvent(t, 0), walletEvent(t, 0), walletEvent(t, 0)}}
	svc := newTestService(t, repo, pub, &fakeRegistry{resolved: walletResolved()}, &fakeDLQRepo{}, &config.OutboxConfig{BatchSize: 3})

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"publish", "publish", "publish", "get", "get", "get"}, log)
	assert.Len(t, repo.published, 3)
}

func TestProcessBatchEmpty(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessBatchDeadLetters(t *testing.T) {
	cases := []struct {
		name     string
		attempts int
		registry *fakeRegistry
		results  []publishResult
		reason   enums.OutboxDLQErrorReason
	}{
		{
			name:     "non retryable resolve",
			registry: &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))},
			reason:   enums.OutboxDLQReasonNonRetryable,
		},
		{
			name:     "attempts exhausted",
			attempts: 1,
			registry: &fakeRegistry{resolved: walletResolved()},
			results:  []publishResult{&fakePublishResult{err: errors.New("transient")}},
			reason:   enums.OutboxDLQReasonMaxAttempts,
		},
		{
			name:     "publisher returns no result",
			registry: &fakeRegistry{resolved: walletResolved()},
			reason:   enums.OutboxDLQReasonNonRetryable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := walletEvent(t, tc.attempts)
			repo := &fakeRepo{events: []models.OutboxEvent{event}}
			dlq := &fakeDLQRepo{}
			svc := newTestService(t, repo, &fakePublisher{results: tc.results}, tc.registry, dlq, &config.OutboxConfig{MaxAttempts: 2})

			processed, err := svc.processBatch(context.Background())
			require.NoError(t, err)
			assert.True(t, processed)
			require.Len(t, dlq.entries, 1)
			entry := dlq.entries[0]
			assert.Equal(t, event.ID, entry.EventID)
			assert.Equal(t, tc.reason, entry.ErrorReason)
			assert.JSONEq(t, string(event.Payload), string(entry.Payload))
			assert.Equal(t, tc.attempts+1, entry.AttemptCount)
			require.NotNil(t, entry.ErrorMessage)
			assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
			assert.Empty(t, repo.published)
		})
	}
}

func TestProcessBatchStopsOnRepositoryError(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{walletEvent(t, 0)}, publishErr: errors.New("db down")}
	pub := &fakePublisher{results: []publishResult{&fakePublishResult{}}}
	svc := newTestService(t, repo, pub, &fakeRegistry{resolved: walletResolved()}, &fakeDLQRepo{}, nil)

	_, err := svc.processBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestPublishResolvedTagsTenant(t *testing.T) {
	tenantID := uuid.New()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventTenantSuspended,
		AggregateType: enums.AggregateTenant,
		AggregateID:   tenantID,
		Payload:       envelopeJSON(t),
	}
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "abuse-topic", AggregateType: enums.AggregateTenant},
		Envelope:   outbox.PayloadEnvelope{EventID: event.ID.String()},
		Payload:    &payloads.TenantSuspendedEvent{TenantID: tenantID},
	}
	pub := &fakePublisher{results: []publishResult{&fakePublishResult{}}}
	svc := newTestService(t, &fakeRepo{}, pub, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	var topics []string
	svc.publisherFactory = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}

	require.NoError(t, svc.publishResolved(context.Background(), event, resolved))
	assert.Equal(t, []string{"abuse-topic"}, topics)
	require.Len(t, pub.messages, 1)
	attrs := pub.messages[0].Attributes
	assert.Equal(t, tenantID.String(), attrs["tenant_id"])
	assert.Equal(t, event.ID.String(), attrs["event_id"])
	assert.Equal(t, string(enums.EventTenantSuspended), attrs["event_type"])
	assert.Equal(t, string(enums.AggregateTenant), attrs["aggregate_type"])
}

func TestPayloadTenant(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id, payloadTenant(&payloads.HoldStaleEvent{TenantID: id}))
	assert.Equal(t, id, payloadTenant(&payloads.WalletLowBalanceEvent{TenantID: id}))
	assert.Equal(t, uuid.Nil, payloadTenant(struct{}{}))
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.EqualError(t, err, "config is required")

	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, &config.OutboxConfig{})
	assert.Equal(t, defaultBatchSize, svc.batchSize)
	assert.Equal(t, defaultMaxAttempts, svc.maxAttempts)
	assert.Equal(t, defaultPoll, svc.poll)
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, reg registryResolver, dlq dlqRepository, outboxCfg *config.OutboxConfig) *Service {
	t.Helper()
	cfg := &config.Config{Outbox: config.OutboxConfig{BatchSize: 2, PollIntervalMS: 10, MaxAttempts: 5}}
	if outboxCfg != nil {
		cfg.Outbox = *outboxCfg
	}
	svc, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               fakeDB{},
		PubSub:           fakePubSubClient{},
		Repository:       repo,
		Registry:         reg,
		DLQRepository:    dlq,
		PublisherFactory: func(string) publisher { return pub },
	})
	require.NoError(t, err)
	return svc
}

func envelopeJSON(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return raw
}

type fakeRepo struct {
	events     []models.OutboxEvent
	published  []uuid.UUID
	failed     []uuid.UUID
	terminal   []uuid.UUID
	publishErr error
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
	log      *[]string
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if f.log != nil {
		*f.log = append(*f.log, "publish")
	}
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
	log *[]string
}

func (f *fakePublishResult) Get(context.Context) (string, error) {
	if f.log != nil {
		*f.log = append(*f.log, "get")
	}
	return "server-id", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope.EventID = event.ID.String()
	return &resolved, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
