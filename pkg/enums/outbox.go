package enums

import "fmt"

// OutboxAggregateType maps to the outbox_events.aggregate_type column values.
type OutboxAggregateType string

const (
	AggregateWallet      OutboxAggregateType = "wallet"
	AggregateLedgerEntry OutboxAggregateType = "ledger_entry"
	AggregateTenant      OutboxAggregateType = "tenant"
	AggregateWebhook     OutboxAggregateType = "webhook_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateWallet,
	AggregateLedgerEntry,
	AggregateTenant,
	AggregateWebhook,
}

// IsValid reports whether the value matches the canonical aggregate_type set.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the outbox_events.event_type column values.
type OutboxEventType string

const (
	EventWalletCredited         OutboxEventType = "wallet_credited"
	EventWalletLowBalance       OutboxEventType = "wallet_low_balance"
	EventHoldStale              OutboxEventType = "hold_stale"
	EventTenantSuspended        OutboxEventType = "tenant_suspended"
	EventTenantSuspensionLifted OutboxEventType = "tenant_suspension_lifted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventWalletCredited,
	EventWalletLowBalance,
	EventHoldStale,
	EventTenantSuspended,
	EventTenantSuspensionLifted,
}

// IsValid reports whether the value matches the canonical event_type set.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
