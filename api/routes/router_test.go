package routes

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/custody-backend/internal/abuse"
	"github.com/angelmondragon/custody-backend/internal/ledger"
	"github.com/angelmondragon/custody-backend/internal/sequences"
	"github.com/angelmondragon/custody-backend/internal/webhooks"
	"github.com/angelmondragon/custody-backend/pkg/auth"
	"github.com/angelmondragon/custody-backend/pkg/config"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/metrics"
)

type stubLedger struct {
	credited []ledger.CreditInput
}

func (s *stubLedger) EnsureWallet(_ context.Context, tenantID uuid.UUID, _ ledger.Thresholds) (*models.Wallet, error) {
	return &models.Wallet{TenantID: tenantID}, nil
}

func (s *stubLedger) SetThresholds(_ context.Context, tenantID uuid.UUID, _ ledger.Thresholds) (*ledger.Balance, error) {
	return &ledger.Balance{TenantID: tenantID}, nil
}

func (s *stubLedger) GetBalance(_ context.Context, tenantID uuid.UUID) (*ledger.Balance, error) {
	return &ledger.Balance{TenantID: tenantID, Available: 1000}, nil
}

func (s *stubLedger) ListEntries(context.Context, uuid.UUID, ledger.EntryFilter) (*ledger.EntryPage, error) {
	return &ledger.EntryPage{}, nil
}

func (s *stubLedger) Credit(_ context.Context, input ledger.CreditInput) (*models.LedgerEntry, error) {
	s.credited = append(s.credited, input)
	return &models.LedgerEntry{TenantID: input.TenantID, Amount: input.Amount}, nil
}

func (s *stubLedger) Debit(_ context.Context, input ledger.DebitInput) (*models.LedgerEntry, error) {
	return &models.LedgerEntry{TenantID: input.TenantID, Amount: input.Amount}, nil
}

func (s *stubLedger) Hold(_ context.Context, input ledger.HoldInput) (*models.LedgerEntry, error) {
	return &models.LedgerEntry{TenantID: input.TenantID, Amount: input.Amount}, nil
}

func (s *stubLedger) Release(context.Context, ledger.ReleaseInput) (*models.LedgerEntry, error) {
	return &models.LedgerEntry{}, nil
}

func (s *stubLedger) Settle(context.Context, ledger.SettleInput) (*ledger.SettleResult, error) {
	return &ledger.SettleResult{}, nil
}

func (s *stubLedger) ListOpenHolds(context.Context, *uuid.UUID, time.Time, int) ([]models.LedgerEntry, error) {
	return nil, nil
}

type stubSequences struct{}

func (stubSequences) Next(_ context.Context, key sequences.Key) (*sequences.Issued, error) {
	return &sequences.Issued{Key: key, Value: 1, Number: sequences.Format(key, 1)}, nil
}

func (stubSequences) Peek(context.Context, string, int, int) (*sequences.Issued, error) {
	return &sequences.Issued{}, nil
}

func (stubSequences) List(context.Context, string) ([]sequences.Issued, error) {
	return nil, nil
}

type stubAbuse struct{}

func (stubAbuse) RecordEvent(_ context.Context, input abuse.RecordInput) (*models.AbuseScore, error) {
	return &models.AbuseScore{TenantID: input.TenantID}, nil
}

func (stubAbuse) Decay(_ context.Context, tenantID uuid.UUID, _ time.Time) (*models.AbuseScore, error) {
	return &models.AbuseScore{TenantID: tenantID}, nil
}

func (stubAbuse) Status(context.Context, uuid.UUID) (*abuse.Status, error) {
	return &abuse.Status{Decision: enums.PolicyDecisionAllow}, nil
}

func (stubAbuse) SetApproval(_ context.Context, tenantID uuid.UUID, status enums.ApprovalStatus, _ string) (*models.AbuseScore, error) {
	return &models.AbuseScore{TenantID: tenantID, ApprovalStatus: status}, nil
}

func (stubAbuse) ListEvents(context.Context, uuid.UUID, int) ([]models.AbuseEvent, error) {
	return nil, nil
}

type stubWebhooks struct {
	ingested []webhooks.IngestInput
}

func (s *stubWebhooks) Ingest(_ context.Context, input webhooks.IngestInput) (*webhooks.IngestResult, error) {
	s.ingested = append(s.ingested, input)
	return &webhooks.IngestResult{Accepted: true, Result: enums.WebhookResultProcessed}, nil
}

func (s *stubWebhooks) Reprocess(context.Context, string, string) (*webhooks.IngestResult, error) {
	return &webhooks.IngestResult{Accepted: true, Result: enums.WebhookResultProcessed}, nil
}

func (s *stubWebhooks) Get(_ context.Context, eventID string) (*models.WebhookEvent, error) {
	return &models.WebhookEvent{EventID: eventID}, nil
}

func (s *stubWebhooks) List(context.Context, webhooks.ListFilter) ([]models.WebhookEvent, error) {
	return nil, nil
}

type fixture struct {
	cfg      *config.Config
	handler  http.Handler
	ledger   *stubLedger
	webhooks *stubWebhooks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		App:      config.AppConfig{Env: "test", CORSOrigins: []string{"http://localhost:3000"}},
		JWT:      config.JWTConfig{Secret: "secret", Issuer: "custody", ExpirationMinutes: 10},
		Webhooks: config.WebhooksConfig{MaxBody: 1 << 16},
	}
	reg := prometheus.NewRegistry()
	f := &fixture{cfg: cfg, ledger: &stubLedger{}, webhooks: &stubWebhooks{}}
	f.handler = NewRouter(Dependencies{
		Config:      cfg,
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Gatherer:    reg,
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
		Ledger:      f.ledger,
		Sequences:   stubSequences{},
		Abuse:       stubAbuse{},
		Webhooks:    f.webhooks,
	})
	return f
}

func (f *fixture) token(t *testing.T, role enums.OperatorRole, scope *uuid.UUID) string {
	t.Helper()
	token, err := auth.MintAccessToken(f.cfg.JWT, time.Now(), auth.AccessTokenPayload{
		OperatorID: uuid.New(),
		Role:       role,
		TenantID:   scope,
	})
	require.NoError(t, err)
	return token
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health/live", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/public/ping", "", "").Code)

	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "custody_http_requests_total")
}

func TestTenantRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/tenants/"+uuid.NewString()+"/balance", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBalanceForScopedOperator(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	token := f.token(t, enums.OperatorRoleService, &tenantID)

	rec := f.do(http.MethodGet, "/api/v1/tenants/"+tenantID.String()+"/balance", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), tenantID.String())

	other := f.do(http.MethodGet, "/api/v1/tenants/"+uuid.NewString()+"/balance", token, "")
	assert.Equal(t, http.StatusForbidden, other.Code)
}

func TestSupportCannotMoveMoney(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/tenants/"+tenantID.String()+"/credits", f.token(t, enums.OperatorRoleSupport, nil), `{"amount":100}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.ledger.credited)

	rec = f.do(http.MethodPost, "/api/v1/tenants/"+tenantID.String()+"/credits", f.token(t, enums.OperatorRoleService, nil), `{"amount":100}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.ledger.credited, 1)
	assert.Equal(t, tenantID, f.ledger.credited[0].TenantID)
}

func TestServiceCannotReviewAbuse(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/tenants/"+tenantID.String()+"/abuse/events", f.token(t, enums.OperatorRoleService, nil), `{"weight":"10","reason":"spam"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/tenants/"+tenantID.String()+"/abuse/events", f.token(t, enums.OperatorRoleSupport, nil), `{"weight":"10","reason":"spam"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestWebhookIngestSkipsOperatorAuth(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", bytes.NewBufferString(`{"type":"credit"}`))
	req.Header.Set("X-Webhook-Id", "evt_1")
	req.Header.Set("X-Webhook-Signature", "sig")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.webhooks.ingested, 1)
	assert.Equal(t, "billing", f.webhooks.ingested[0].Provider)
}

func TestAdminWebhooksRequireReviewer(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/admin/v1/webhooks/evt_1", f.token(t, enums.OperatorRoleService, nil), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/v1/webhooks/evt_1", f.token(t, enums.OperatorRoleAdmin, nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSequenceNextAllocates(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/sequences/next", f.token(t, enums.OperatorRoleService, nil), `{"prefix":"INV","year":2026,"month":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "INV/2026/02/000001")
}
