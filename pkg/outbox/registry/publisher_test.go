package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/custody-backend/pkg/config"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/outbox"
	"github.com/angelmondragon/custody-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveWalletCredited(t *testing.T) {
	reg := newTestEventRegistry(t)

	walletID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.WalletCreditedEvent{
		WalletID:         walletID,
		TenantID:         uuid.New(),
		EntryID:          uuid.New(),
		Amount:           500,
		AvailableBalance: 1500,
		Provider:         "billing",
		ExternalEventID:  "evt_1",
	})

	event := models.OutboxEvent{
		EventType:     enums.EventWalletCredited,
		AggregateType: enums.AggregateWallet,
		AggregateID:   walletID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "wallet-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.WalletCreditedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.WalletID != walletID || payload.Amount != 500 || payload.ExternalEventID != "evt_1" {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
	if resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing occurred_at")
	}
}

func TestEventRegistryRoutesTenantEventsToAbuseTopic(t *testing.T) {
	reg := newTestEventRegistry(t)
	tenantID := uuid.New()
	for _, tc := range []struct {
		eventType enums.OutboxEventType
		payload   interface{}
	}{
		{enums.EventTenantSuspended, payloads.TenantSuspendedEvent{TenantID: tenantID, Score: "95", Level: enums.AbuseLevelCritical, SuspensionType: enums.SuspensionTypeTemporary}},
		{enums.EventTenantSuspensionLifted, payloads.TenantSuspensionLiftedEvent{TenantID: tenantID, Score: "0", Level: enums.AbuseLevelNone, ApprovalStatus: enums.ApprovalStatusAutoApproved}},
	} {
		resolved, err := reg.Resolve(models.OutboxEvent{
			EventType:     tc.eventType,
			AggregateType: enums.AggregateTenant,
			AggregateID:   tenantID,
			Payload:       mustEnvelope(t, mustMarshal(t, tc.payload)),
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.eventType, err)
		}
		if resolved.Descriptor.Topic != "abuse-topic" {
			t.Fatalf("%s: unexpected topic %q", tc.eventType, resolved.Descriptor.Topic)
		}
	}
}

func TestEventRegistryTopics(t *testing.T) {
	topics := newTestEventRegistry(t).Topics()
	if len(topics) != 2 || topics[0] != "abuse-topic" || topics[1] != "wallet-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{AbuseTopic: "a"}); err == nil {
		t.Fatal("expected wallet topic error")
	}
	if _, err := NewEventRegistry(config.PubSubConfig{WalletTopic: "w"}); err == nil {
		t.Fatal("expected abuse topic error")
	}
}

func TestEventRegistryResolveUnknownEvent(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.OutboxEventType("wallet_closed"),
		AggregateType: enums.AggregateWallet,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"reason":"none"}`)),
	}
	assertNonRetryable(t, reg, event)
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventHoldStale,
		AggregateType: enums.AggregateWallet,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"hold_entry_id":"00000000-0000-0000-0000-000000000000"}`)),
	}
	assertNonRetryable(t, reg, event)
}

func TestEventRegistryResolveMissingAggregateID(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventWalletLowBalance,
		AggregateType: enums.AggregateWallet,
		AggregateID:   uuid.Nil,
		Payload:       mustEnvelope(t, []byte(`{}`)),
	}
	assertNonRetryable(t, reg, event)
}

func TestEventRegistryResolveNullPayload(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventWalletLowBalance,
		AggregateType: enums.AggregateWallet,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte("null")),
	}
	assertNonRetryable(t, reg, event)
}

func assertNonRetryable(t *testing.T, reg *EventRegistry, event models.OutboxEvent) {
	t.Helper()
	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %T", err)
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{WalletTopic: "wallet-topic", AbuseTopic: "abuse-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
