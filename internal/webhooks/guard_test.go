package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memoryStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "custody:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestIdempotencyGuardMarksOnce(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "webhooks")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("first mark: seen=%v err=%v", seen, err)
	}
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || !seen {
		t.Fatalf("second mark: seen=%v err=%v", seen, err)
	}
	if ttl := store.ttls["custody:idempotency:webhooks:evt_1"]; ttl != time.Hour {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("after delete: seen=%v err=%v", seen, err)
	}
}

func TestIdempotencyGuardErrors(t *testing.T) {
	if _, err := NewIdempotencyGuard(nil, time.Hour, "webhooks"); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewIdempotencyGuard(newMemoryStore(), -time.Second, "webhooks"); err == nil {
		t.Fatal("expected error for negative ttl")
	}
	if _, err := NewIdempotencyGuard(newMemoryStore(), time.Hour, ""); err == nil {
		t.Fatal("expected error for empty scope")
	}

	store := newMemoryStore()
	store.setErr = errors.New("connection refused")
	guard, _ := NewIdempotencyGuard(store, time.Hour, "webhooks")
	if _, err := guard.CheckAndMark(context.Background(), "evt"); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := guard.CheckAndMark(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty event id")
	}
}

func TestIdempotencyGuardStoresFirstSeenTime(t *testing.T) {
	store := newMemoryStore()
	guard, _ := NewIdempotencyGuard(store, time.Hour, "webhooks")
	guard.now = func() time.Time { return time.Unix(1767225600, 0) }

	if _, err := guard.CheckAndMark(context.Background(), "evt_9"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got := store.values["custody:idempotency:webhooks:evt_9"]; got != "1767225600" {
		t.Fatalf("unexpected marker %q", got)
	}
}
