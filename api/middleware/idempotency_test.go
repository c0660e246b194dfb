package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttl  map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key] = value.(string)
	f.ttl[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	return true, f.Set(ctx, key, value, ttl)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func idemRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/3f1c/credits", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	return req
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestIdempotentRequiresHeader(t *testing.T) {
	called := false
	handler := Idempotent(newFakeStore(), MoneyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	for _, key := range []string{"", strings.Repeat("k", maxIdempotencyKeyLen+1)} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, idemRequest(key, `{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.False(t, called)
}

func TestIdempotentReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	var calls int
	handler := Idempotent(store, MoneyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"entry_id":"e1"}}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, idemRequest("abc", `{"amount":10}`))
	require.Equal(t, http.StatusCreated, first.Code)

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, idemRequest("abc", `{"amount":10}`))
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, `{"data":{"entry_id":"e1"}}`, replay.Body.String())
	assert.Equal(t, 1, calls)

	for key, ttl := range store.ttl {
		assert.Equal(t, MoneyTTL, ttl, key)
	}
}

func TestIdempotentRejectsChangedBody(t *testing.T) {
	handler := Idempotent(newFakeStore(), CommandTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), idemRequest("xyz", `{"amount":10}`))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idemRequest("xyz", `{"amount":11}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, rec))
}

func TestIdempotentBlocksConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	var inner http.Handler
	handler := Idempotent(store, MoneyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A duplicate arrives while the first request is still running.
		dup := httptest.NewRecorder()
		inner.ServeHTTP(dup, idemRequest("same", `{"amount":10}`))
		assert.Equal(t, http.StatusServiceUnavailable, dup.Code)
		assert.Equal(t, string(pkgerrors.CodeResourceLocked), errorCode(t, dup))
		assert.Equal(t, "1", dup.Header().Get("Retry-After"))
		w.WriteHeader(http.StatusCreated)
	}))
	inner = handler

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idemRequest("same", `{"amount":10}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestIdempotentDoesNotCacheServerErrors(t *testing.T) {
	store := newFakeStore()
	var calls int
	handler := Idempotent(store, MoneyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), idemRequest("retry-me", `{"amount":10}`))
	}
	assert.Equal(t, 2, calls)
	assert.Len(t, store.data, 1)
}

func TestIdempotentScopesKeysByPath(t *testing.T) {
	store := newFakeStore()
	handler := Idempotent(store, MoneyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), idemRequest("k1", `{}`))

	other := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/3f1c/debits", strings.NewReader(`{}`))
	other.Header.Set(IdempotencyKeyHeader, "k1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, store.data, 2)
}

func TestIdempotentNilStorePassesThrough(t *testing.T) {
	handler := Idempotent(nil, MoneyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idemRequest("", ""))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
