package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/custody-backend/api/responses"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
)

// TenantParam is the chi URL parameter carrying the tenant id.
const TenantParam = "tenantID"

// TenantContext resolves {tenantID} from the path and rejects tokens scoped to
// a different tenant.
func TenantContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(chi.URLParam(r, TenantParam))
			tenantID, err := uuid.Parse(raw)
			if err != nil || tenantID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid tenant id").
					WithDetails(map[string]any{"tenant_id": raw}))
				return
			}
			if scope := TenantScopeFromContext(r.Context()); scope != nil && *scope != tenantID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "token not valid for tenant"))
				return
			}

			ctx := WithTenantID(r.Context(), tenantID)
			if logg != nil {
				ctx = logg.WithTenantID(ctx, tenantID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
