package enums

import "fmt"

// WebhookResult maps to the webhook_events.result column values in Postgres.
type WebhookResult string

const (
	WebhookResultReceived  WebhookResult = "received"
	WebhookResultProcessed WebhookResult = "processed"
	WebhookResultIgnored   WebhookResult = "ignored"
	WebhookResultRejected  WebhookResult = "rejected"
	WebhookResultError     WebhookResult = "error"
)

// IsTerminal reports whether no further processing is expected for the record.
func (v WebhookResult) IsTerminal() bool {
	return v == WebhookResultProcessed || v == WebhookResultIgnored || v == WebhookResultRejected
}

var validWebhookResults = []WebhookResult{
	WebhookResultReceived,
	WebhookResultProcessed,
	WebhookResultIgnored,
	WebhookResultRejected,
	WebhookResultError,
}

// IsValid reports whether the value matches the canonical webhook result set.
func (v WebhookResult) IsValid() bool {
	for _, candidate := range validWebhookResults {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseWebhookResult converts raw input into WebhookResult.
func ParseWebhookResult(value string) (WebhookResult, error) {
	for _, candidate := range validWebhookResults {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook result %q", value)
}
