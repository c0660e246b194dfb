package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/custody-backend/api/responses"
	pkgAuth "github.com/angelmondragon/custody-backend/pkg/auth"
	"github.com/angelmondragon/custody-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
)

const bearerPrefix = "bearer "

// bearerToken accepts "Bearer <jwt>" in any case, or a bare token.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) >= len(bearerPrefix) && strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		raw = raw[len(bearerPrefix):]
	}
	return strings.TrimSpace(raw)
}

// Auth validates an operator bearer token and seeds the request context with
// the claims. Expired and malformed tokens get distinct messages.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrTokenExpired) {
					msg = "token expired"
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			operatorID := claims.OperatorID.String()
			ctx := WithOperator(r.Context(), operatorID, claims.Role, claims.TenantID)
			if logg != nil {
				fields := map[string]any{"actor_id": operatorID, "actor_role": string(claims.Role)}
				if claims.TenantID != nil {
					fields["tenant_scope"] = claims.TenantID.String()
				}
				ctx = logg.WithFields(ctx, fields)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
