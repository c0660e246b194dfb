package controllers

import (
	"net/http"

	"github.com/angelmondragon/custody-backend/api/middleware"
	"github.com/angelmondragon/custody-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// OperatorPing echoes the caller identity resolved from the bearer token.
func OperatorPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{
			"scope":       "operator",
			"status":      "ok",
			"operator_id": middleware.OperatorIDFromContext(r.Context()),
			"role":        string(middleware.RoleFromContext(r.Context())),
		}
		if scope := middleware.TenantScopeFromContext(r.Context()); scope != nil {
			payload["tenant_scope"] = scope.String()
		}
		responses.WriteSuccess(w, payload)
	}
}
