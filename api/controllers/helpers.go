package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/custody-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
)

func requireTenant(r *http.Request) (uuid.UUID, error) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	if tenantID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant context missing")
	}
	return tenantID, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).WithDetails(map[string]any{name: raw})
	}
	return id, nil
}

// operatorActor is the actor id stamped on entries written through the API.
func operatorActor(r *http.Request) string {
	if id := middleware.OperatorIDFromContext(r.Context()); id != "" {
		return "operator:" + id
	}
	return ""
}

// requestKey scopes the caller's Idempotency-Key so it can double as the
// ledger's durable replay key.
func requestKey(r *http.Request, scope string) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		return ""
	}
	return scope + ":" + key
}
