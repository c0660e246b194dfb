package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// markerStore is the redis surface the guard needs.
type markerStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// IdempotencyGuard is a redis fast path in front of the unique insert. It only
// short-circuits obvious redeliveries; the database row stays authoritative.
type IdempotencyGuard struct {
	store markerStore
	ttl   time.Duration
	scope string
	now   func() time.Time
}

func NewIdempotencyGuard(store markerStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case scope == "":
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope, now: time.Now}, nil
}

// CheckAndMark reports whether eventID was already seen, marking it otherwise.
// The marker value is the unix time of first sight.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	first := strconv.FormatInt(g.now().Unix(), 10)
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, eventID), first, g.ttl)
	if err != nil {
		return false, fmt.Errorf("mark webhook %s: %w", eventID, err)
	}
	return !set, nil
}

// Delete forgets eventID so a redelivery reaches the database again.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
