package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/custody-backend/pkg/auth"
	"github.com/angelmondragon/custody-backend/pkg/config"
	"github.com/angelmondragon/custody-backend/pkg/enums"
)

func TestAuthRejectsMissingToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsTokenFromOtherIssuer(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 10}
	other := cfg
	other.Issuer = "someone-else"
	token := mintTestToken(t, other, enums.OperatorRoleAdmin, nil)

	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	tenantID := uuid.New()
	token := mintTestToken(t, cfg, enums.OperatorRoleService, &tenantID)

	var captured struct {
		operator string
		role     enums.OperatorRole
		scope    *uuid.UUID
	}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.operator = OperatorIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		captured.scope = TenantScopeFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.operator == "" {
		t.Fatal("expected operator id in context")
	}
	if captured.role != enums.OperatorRoleService {
		t.Fatalf("expected role service got %s", captured.role)
	}
	if captured.scope == nil || *captured.scope != tenantID {
		t.Fatalf("expected tenant scope %s got %v", tenantID, captured.scope)
	}
}

func TestAuthAllowsUnscopedToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}
	token := mintTestToken(t, cfg, enums.OperatorRoleAdmin, nil)

	var scope *uuid.UUID
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope = TenantScopeFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if scope != nil {
		t.Fatalf("expected no tenant scope got %s", scope)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(nil, enums.OperatorRoleAdmin, enums.OperatorRoleSupport)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		role enums.OperatorRole
		want int
	}{
		{enums.OperatorRoleAdmin, http.StatusOK},
		{enums.OperatorRoleSupport, http.StatusOK},
		{enums.OperatorRoleService, http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithOperator(req.Context(), uuid.NewString(), tc.role, nil))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("role %q: expected %d got %d", tc.role, tc.want, resp.Code)
		}
	}
}

func TestTenantContext(t *testing.T) {
	tenantID := uuid.New()
	other := uuid.New()

	var resolved uuid.UUID
	r := chi.NewRouter()
	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Use(TenantContext(nil))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			resolved = TenantIDFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})
	})

	cases := []struct {
		name  string
		path  string
		scope *uuid.UUID
		want  int
	}{
		{"unscoped", "/tenants/" + tenantID.String() + "/", nil, http.StatusOK},
		{"matching scope", "/tenants/" + tenantID.String() + "/", &tenantID, http.StatusOK},
		{"other scope", "/tenants/" + tenantID.String() + "/", &other, http.StatusForbidden},
		{"malformed", "/tenants/not-a-uuid/", nil, http.StatusBadRequest},
		{"nil uuid", "/tenants/" + uuid.Nil.String() + "/", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resolved = uuid.Nil
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req = req.WithContext(WithOperator(context.Background(), "op", enums.OperatorRoleAdmin, tc.scope))
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, resp.Code)
		}
		if tc.want == http.StatusOK && resolved != tenantID {
			t.Fatalf("%s: expected tenant %s in context got %s", tc.name, tenantID, resolved)
		}
	}
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, role enums.OperatorRole, tenantID *uuid.UUID) string {
	t.Helper()
	payload := auth.AccessTokenPayload{
		OperatorID: uuid.New(),
		Role:       role,
		TenantID:   tenantID,
	}
	token, err := auth.MintAccessToken(cfg, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestAuthExpiredTokenMessage(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 1}
	token, err := auth.MintAccessToken(cfg, time.Now().Add(-time.Hour), auth.AccessTokenPayload{
		OperatorID: uuid.New(),
		Role:       enums.OperatorRoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	handler := Auth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "token expired") {
		t.Fatalf("expected expiry message, got %s", resp.Body.String())
	}
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":   "abc",
		"BEARER  abc ": "abc",
		"abc":          "abc",
		"":             "",
		"Bearer":       "Bearer",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		if got := bearerToken(req); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
