package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/internal/ledger"
	"github.com/angelmondragon/custody-backend/pkg/config"
	dbpkg "github.com/angelmondragon/custody-backend/pkg/db"
	"github.com/angelmondragon/custody-backend/pkg/db/dbtest"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/outbox"
)

const testSecret = "whsec_test"

type harness struct {
	db     *gorm.DB
	ledger ledger.Service
	svc    Service
	tenant uuid.UUID
}

func newHarness(t *testing.T, g guard) *harness {
	t.Helper()
	conn := dbtest.NewSQLite(t)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Tx:     dbpkg.NewFromConn(conn),
		Repo:   ledger.NewRepository(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
		Config: config.LedgerConfig{LockTimeout: 30 * time.Second},
	})
	require.NoError(t, err)

	tenant := uuid.New()
	_, err = ledgerSvc.EnsureWallet(context.Background(), tenant, ledger.Thresholds{})
	require.NoError(t, err)

	params := ServiceParams{
		Repo:    NewRepository(conn),
		Ledger:  ledgerSvc,
		Secrets: config.WebhooksConfig{Secrets: map[string]string{"billing": testSecret}},
		Config:  config.WebhooksConfig{MaxBody: 4096},
		Retry:   config.LedgerConfig{RetryAttempts: 2, RetryBackoff: time.Millisecond},
	}
	if g != nil {
		params.Guard = g
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return &harness{db: conn, ledger: ledgerSvc, svc: svc, tenant: tenant}
}

func paymentPayload(tenant uuid.UUID, amount int64) []byte {
	return []byte(fmt.Sprintf(`{"type":"payment.succeeded","tenant_id":%q,"amount":%d,"reference":"pay_1"}`, tenant, amount))
}

func signedInput(eventID string, payload []byte) IngestInput {
	return IngestInput{EventID: eventID, Provider: "billing", Payload: payload, Signature: "sha256=" + Sign(testSecret, payload)}
}

func (h *harness) available(t *testing.T) int64 {
	t.Helper()
	bal, err := h.ledger.GetBalance(context.Background(), h.tenant)
	require.NoError(t, err)
	return bal.Available
}

func (h *harness) creditCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&models.LedgerEntry{}).Where("type = ?", enums.LedgerEntryTypeTopup).Count(&n).Error)
	return n
}

func TestIngestCreditsOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	input := signedInput("evt_1", paymentPayload(h.tenant, 500))

	first, err := h.svc.Ingest(ctx, input)
	require.NoError(t, err)
	require.True(t, first.Accepted)
	require.Equal(t, enums.WebhookResultProcessed, first.Result)
	require.NotNil(t, first.Entry)
	require.Equal(t, int64(500), h.available(t))

	second, err := h.svc.Ingest(ctx, input)
	require.NoError(t, err)
	require.False(t, second.Accepted)
	require.Equal(t, enums.WebhookResultIgnored, second.Result)
	require.Equal(t, int64(500), h.available(t))
	require.Equal(t, int64(1), h.creditCount(t))

	record, err := h.svc.Get(ctx, "evt_1")
	require.NoError(t, err)
	require.Equal(t, enums.WebhookResultProcessed, record.Result)
	require.True(t, record.SignatureValid)
	require.NotNil(t, record.ProcessedAt)
	require.Equal(t, PayloadHash(input.Payload), record.PayloadHash)
}

func TestIngestConcurrentDeliveriesCreditOnce(t *testing.T) {
	h := newHarness(t, nil)
	input := signedInput("evt_race", paymentPayload(h.tenant, 250))

	const deliveries = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		ignored  int
		errs     []error
	)
	start := make(chan struct{})
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := h.svc.Ingest(context.Background(), input)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Accepted {
				accepted++
			} else if res.Result == enums.WebhookResultIgnored {
				ignored++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, accepted)
	require.Equal(t, deliveries-1, ignored)
	require.Equal(t, int64(250), h.available(t))
	require.Equal(t, int64(1), h.creditCount(t))

	var records int64
	require.NoError(t, h.db.Model(&models.WebhookEvent{}).Count(&records).Error)
	require.Equal(t, int64(1), records)
}

func TestIngestRejectsBadSignatureThenAcceptsValidRedelivery(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	payload := paymentPayload(h.tenant, 300)

	forged := IngestInput{EventID: "evt_forged", Provider: "billing", Payload: payload, Signature: Sign("wrong", payload)}
	res, err := h.svc.Ingest(ctx, forged)
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))
	require.NotNil(t, res)
	require.Equal(t, enums.WebhookResultRejected, res.Result)
	require.Equal(t, int64(0), h.available(t))

	record, err := h.svc.Get(ctx, "evt_forged")
	require.NoError(t, err)
	require.False(t, record.SignatureValid)

	res, err = h.svc.Ingest(ctx, signedInput("evt_forged", payload))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, enums.WebhookResultProcessed, res.Result)
	require.Equal(t, int64(300), h.available(t))
	require.Equal(t, 2, res.Record.Attempts)
}

func TestIngestUnknownProviderSecretIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	payload := paymentPayload(h.tenant, 10)
	_, err := h.svc.Ingest(context.Background(), IngestInput{
		EventID:   "evt_other",
		Provider:  "gateway",
		Payload:   payload,
		Signature: Sign(testSecret, payload),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))
}

func TestIngestIgnoresUnhandledTypes(t *testing.T) {
	h := newHarness(t, nil)
	payload := []byte(`{"type":"payment.refunded","tenant_id":"` + h.tenant.String() + `","amount":10}`)
	res, err := h.svc.Ingest(context.Background(), signedInput("evt_refund", payload))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, enums.WebhookResultIgnored, res.Result)
	require.Equal(t, int64(0), h.available(t))
}

func TestIngestLedgerFailureMarksErrorAndReprocessCredits(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	orphan := uuid.New()
	input := signedInput("evt_orphan", paymentPayload(orphan, 900))

	res, err := h.svc.Ingest(ctx, input)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, enums.WebhookResultError, res.Result)
	require.NotNil(t, res.Record.ErrorMessage)

	again, err := h.svc.Ingest(ctx, input)
	require.NoError(t, err)
	require.False(t, again.Accepted)

	_, err = h.ledger.EnsureWallet(ctx, orphan, ledger.Thresholds{})
	require.NoError(t, err)

	res, err = h.svc.Reprocess(ctx, "evt_orphan", "operator-1")
	require.NoError(t, err)
	require.Equal(t, enums.WebhookResultProcessed, res.Result)
	bal, err := h.ledger.GetBalance(ctx, orphan)
	require.NoError(t, err)
	require.Equal(t, int64(900), bal.Available)

	_, err = h.svc.Reprocess(ctx, "evt_orphan", "operator-1")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestIngestMalformedPayloadIsError(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.svc.Ingest(context.Background(), signedInput("evt_bad", []byte(`{"type":`)))
	require.NoError(t, err)
	require.Equal(t, enums.WebhookResultError, res.Result)
}

func TestIngestStoresRawPayloadBytes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	payload := []byte("{\"type\":\"payment.succeeded\"}\x00\xff\xfe")

	forged := IngestInput{EventID: "evt_binary_forged", Provider: "billing", Payload: payload, Signature: Sign("wrong", payload)}
	res, err := h.svc.Ingest(ctx, forged)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))
	require.Equal(t, enums.WebhookResultRejected, res.Result)

	record, err := h.svc.Get(ctx, "evt_binary_forged")
	require.NoError(t, err)
	require.Equal(t, payload, record.Payload)
	require.False(t, record.SignatureValid)

	res, err = h.svc.Ingest(ctx, signedInput("evt_binary", payload))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, enums.WebhookResultError, res.Result)

	record, err = h.svc.Get(ctx, "evt_binary")
	require.NoError(t, err)
	require.Equal(t, payload, record.Payload)
	require.Equal(t, int64(0), h.available(t))
}

func TestIngestValidation(t *testing.T) {
	h := newHarness(t, nil)
	payload := paymentPayload(h.tenant, 1)
	cases := []IngestInput{
		{EventID: "", Provider: "billing", Payload: payload},
		{EventID: "evt", Provider: "bad provider", Payload: payload},
		{EventID: "evt", Provider: "billing"},
		{EventID: strings.Repeat("x", 256), Provider: "billing", Payload: payload},
		{EventID: "evt", Provider: "billing", Payload: []byte(strings.Repeat("x", 5000))},
	}
	for i, input := range cases {
		_, err := h.svc.Ingest(context.Background(), input)
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

type fakeGuard struct {
	mu      sync.Mutex
	seen    map[string]bool
	err     error
	deleted []string
}

func (g *fakeGuard) CheckAndMark(_ context.Context, eventID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.seen == nil {
		g.seen = map[string]bool{}
	}
	already := g.seen[eventID]
	g.seen[eventID] = true
	return already, nil
}

func (g *fakeGuard) Delete(_ context.Context, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, eventID)
	delete(g.seen, eventID)
	return nil
}

func TestGuardShortCircuitsKnownRedelivery(t *testing.T) {
	g := &fakeGuard{}
	h := newHarness(t, g)
	input := signedInput("evt_guarded", paymentPayload(h.tenant, 40))

	_, err := h.svc.Ingest(context.Background(), input)
	require.NoError(t, err)
	res, err := h.svc.Ingest(context.Background(), input)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, int64(40), h.available(t))
}

func TestGuardMarkWithoutRecordFallsThrough(t *testing.T) {
	g := &fakeGuard{seen: map[string]bool{"evt_stale": true}}
	h := newHarness(t, g)

	res, err := h.svc.Ingest(context.Background(), signedInput("evt_stale", paymentPayload(h.tenant, 15)))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, int64(15), h.available(t))
}

func TestGuardOutageFallsBackToDatabase(t *testing.T) {
	g := &fakeGuard{err: errors.New("redis down")}
	h := newHarness(t, g)
	input := signedInput("evt_outage", paymentPayload(h.tenant, 20))

	res, err := h.svc.Ingest(context.Background(), input)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	res, err = h.svc.Ingest(context.Background(), input)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, int64(20), h.available(t))
}

func TestListFiltersByResult(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, signedInput("evt_a", paymentPayload(h.tenant, 1)))
	require.NoError(t, err)
	_, err = h.svc.Ingest(ctx, signedInput("evt_b", paymentPayload(uuid.New(), 1)))
	require.NoError(t, err)

	records, err := h.svc.List(ctx, ListFilter{Results: []enums.WebhookResult{enums.WebhookResultError}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "evt_b", records[0].EventID)
}
