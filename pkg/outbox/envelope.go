package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is written on every new row. Consumers switch on it before
// decoding Data.
const EnvelopeVersion = 1

const (
	ActorKindOperator = "operator"
	ActorKindSystem   = "system"
)

// ActorRef identifies who caused the event: an operator id from the JWT or a
// background job name.
type ActorRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"`
}

// OperatorActor returns nil for a blank id so the envelope omits the actor.
func OperatorActor(id string) *ActorRef {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return &ActorRef{ID: id, Kind: ActorKindOperator}
}

func SystemActor(job string) *ActorRef {
	return &ActorRef{ID: job, Kind: ActorKindSystem}
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and sent as the
// pubsub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

var errEmptyData = errors.New("envelope data is empty")

func newEnvelope(event DomainEvent) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	env := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	return env, nil
}

// DecodeEnvelope parses a stored row payload and rejects a missing or null
// data section.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, errEmptyData
	}
	return env, nil
}
