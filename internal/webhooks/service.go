package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/custody-backend/internal/ledger"
	"github.com/angelmondragon/custody-backend/pkg/config"
	dbpkg "github.com/angelmondragon/custody-backend/pkg/db"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/custody-backend/pkg/db/types"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/metrics"
	"github.com/angelmondragon/custody-backend/pkg/retry"
	"github.com/angelmondragon/custody-backend/pkg/tracing"
)

// EventPaymentSucceeded is the only notification type that moves money.
const EventPaymentSucceeded = "payment.succeeded"

const (
	maxEventIDLen      = 255
	maxErrorMessageLen = 1000
)

var providerPattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// IngestInput is one inbound provider notification.
type IngestInput struct {
	EventID   string
	Provider  string
	Payload   []byte
	Signature string
}

// IngestResult reports what happened to a delivery. Accepted is true only for
// the delivery that created (or took over) the dedup record.
type IngestResult struct {
	Accepted bool                 `json:"accepted"`
	Result   enums.WebhookResult  `json:"result"`
	Record   *models.WebhookEvent `json:"-"`
	Entry    *models.LedgerEntry  `json:"-"`
}

// Notification is the provider-neutral payment payload.
type Notification struct {
	Type      string            `json:"type"`
	TenantID  uuid.UUID         `json:"tenant_id"`
	Amount    int64             `json:"amount"`
	Reference string            `json:"reference,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SecretSource resolves the HMAC secret per provider.
type SecretSource interface {
	SecretFor(provider string) (string, bool)
}

type creditor interface {
	Credit(ctx context.Context, input ledger.CreditInput) (*models.LedgerEntry, error)
}

type guard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Service is the idempotent event ingestor.
type Service interface {
	Ingest(ctx context.Context, input IngestInput) (*IngestResult, error)
	Reprocess(ctx context.Context, eventID, actorID string) (*IngestResult, error)
	Get(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	List(ctx context.Context, filter ListFilter) ([]models.WebhookEvent, error)
}

// ServiceParams wires the ingestor. Guard, Logger and Metrics are optional.
type ServiceParams struct {
	Repo    Repository
	Ledger  creditor
	Secrets SecretSource
	Guard   guard
	Config  config.WebhooksConfig
	Retry   config.LedgerConfig
	Logger  *logger.Logger
	Metrics *metrics.IngestMetrics
	Now     func() time.Time
}

type service struct {
	repo    Repository
	ledger  creditor
	secrets SecretSource
	guard   guard
	maxBody int64
	retry   retry.Config
	logg    *logger.Logger
	metrics *metrics.IngestMetrics
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("webhook repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Secrets == nil {
		return nil, fmt.Errorf("secret source required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		ledger:  params.Ledger,
		secrets: params.Secrets,
		guard:   params.Guard,
		maxBody: params.Config.MaxBody,
		retry:   retry.Config{Attempts: params.Retry.RetryAttempts, Backoff: params.Retry.RetryBackoff},
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

// Ingest records the delivery and, for the first correctly signed copy of an
// event, applies it to the ledger. A rejected signature returns the record
// together with a SIGNATURE_INVALID error.
func (s *service) Ingest(ctx context.Context, input IngestInput) (result *IngestResult, err error) {
	input.EventID = strings.TrimSpace(input.EventID)
	input.Provider = strings.ToLower(strings.TrimSpace(input.Provider))
	ctx, span := tracing.StartSpan(ctx, "webhooks.Ingest", tracing.EventID(input.EventID), tracing.Provider(input.Provider))
	defer func() {
		tracing.End(span, err)
		if result != nil {
			s.metrics.Observe(input.Provider, string(result.Result), result.Accepted)
		}
	}()

	if err := s.validate(input); err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"event_id": input.EventID, "provider": input.Provider})
	}

	secret, _ := s.secrets.SecretFor(input.Provider)
	valid := VerifySignature(secret, input.Payload, input.Signature)

	if valid && s.guard != nil {
		seen, guardErr := s.guard.CheckAndMark(ctx, input.EventID)
		switch {
		case guardErr != nil:
			if s.logg != nil {
				s.logg.Warn(ctx, "webhook guard unavailable, falling back to database dedup")
			}
		case seen:
			existing, findErr := s.repo.FindByEventID(ctx, input.EventID)
			if findErr != nil {
				return nil, storageError(findErr, "load webhook record")
			}
			if existing != nil {
				return s.duplicate(ctx, existing), nil
			}
			// The mark outlived a delivery that never reached the database.
		}
	}

	record := &models.WebhookEvent{
		EventID:        input.EventID,
		Provider:       input.Provider,
		PayloadHash:    PayloadHash(input.Payload),
		Payload:        slices.Clone(input.Payload),
		SignatureValid: valid,
		Result:         enums.WebhookResultReceived,
		Attempts:       1,
		ReceivedAt:     s.now().UTC(),
	}
	if !valid {
		record.Result = enums.WebhookResultRejected
	}

	inserted, err := s.claim(ctx, record)
	if err != nil {
		s.forget(ctx, input.EventID)
		return nil, err
	}
	if !inserted {
		existing, findErr := s.repo.FindByEventID(ctx, input.EventID)
		if findErr != nil {
			return nil, storageError(findErr, "load webhook record")
		}
		if existing == nil {
			return nil, pkgerrors.New(pkgerrors.CodeResourceLocked, "webhook record not visible yet")
		}
		return s.duplicate(ctx, existing), nil
	}

	if !valid {
		if s.logg != nil {
			s.logg.Warn(ctx, "webhook signature rejected")
		}
		return &IngestResult{Accepted: false, Result: enums.WebhookResultRejected, Record: record},
			pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook signature invalid").
				WithDetails(map[string]any{"event_id": input.EventID})
	}

	return s.process(ctx, record, false)
}

// claim inserts the dedup row, or takes over a rejected one when this delivery
// is correctly signed. It reports whether this caller owns the record.
func (s *service) claim(ctx context.Context, record *models.WebhookEvent) (bool, error) {
	err := s.repo.Insert(ctx, record)
	if err == nil {
		return true, nil
	}
	if !dbpkg.IsUniqueViolation(err, "idx_webhook_events_event_id") {
		return false, storageError(err, "insert webhook record")
	}
	if !record.SignatureValid {
		return false, nil
	}
	took, err := s.repo.TakeOverRejected(ctx, record)
	if err != nil {
		return false, storageError(err, "take over rejected record")
	}
	if !took {
		return false, nil
	}
	existing, err := s.repo.FindByEventID(ctx, record.EventID)
	if err != nil {
		return false, storageError(err, "load webhook record")
	}
	if existing == nil {
		return false, pkgerrors.New(pkgerrors.CodeResourceLocked, "webhook record not visible yet")
	}
	*record = *existing
	return true, nil
}

func (s *service) duplicate(ctx context.Context, existing *models.WebhookEvent) *IngestResult {
	if s.logg != nil {
		logCtx := s.logg.WithField(ctx, "stored_result", existing.Result)
		s.logg.Info(logCtx, "duplicate webhook ignored")
	}
	return &IngestResult{Accepted: false, Result: enums.WebhookResultIgnored, Record: existing}
}

// process applies a claimed record. Ledger failures mark the record error and
// are reported through the result, since a redelivery can never reach the
// ledger again; Reprocess is the recovery path.
func (s *service) process(ctx context.Context, record *models.WebhookEvent, bump bool) (*IngestResult, error) {
	note, err := ParseNotification(record.Payload)
	if err != nil {
		return s.finish(ctx, record, enums.WebhookResultError, err, bump, nil)
	}
	if note.Type != EventPaymentSucceeded {
		if s.logg != nil {
			logCtx := s.logg.WithField(ctx, "notification_type", note.Type)
			s.logg.Info(logCtx, "webhook type not handled")
		}
		return s.finish(ctx, record, enums.WebhookResultIgnored, nil, bump, nil)
	}

	metadata := dbtypes.NewMetadata(note.Metadata).
		With("provider", record.Provider).
		With("event_id", record.EventID)
	input := ledger.CreditInput{
		TenantID:       note.TenantID,
		Amount:         note.Amount,
		Type:           enums.LedgerEntryTypeTopup,
		Reference:      ledger.Reference{Type: record.Provider, ID: note.Reference},
		Description:    "payment notification " + record.EventID,
		Metadata:       metadata,
		ActorID:        "webhook:" + record.Provider,
		IdempotencyKey: CreditKey(record.EventID),
		Source:         &ledger.CreditSource{Provider: record.Provider, EventID: record.EventID},
	}
	policy := retry.NewPolicy[*models.LedgerEntry](s.retry)
	entry, err := retry.Get(ctx, policy, func() (*models.LedgerEntry, error) {
		return s.ledger.Credit(ctx, input)
	})
	if err != nil {
		return s.finish(ctx, record, enums.WebhookResultError, err, bump, nil)
	}
	return s.finish(ctx, record, enums.WebhookResultProcessed, nil, bump, entry)
}

func (s *service) finish(ctx context.Context, record *models.WebhookEvent, result enums.WebhookResult, cause error, bump bool, entry *models.LedgerEntry) (*IngestResult, error) {
	now := s.now().UTC()
	to := Transition{Result: result, BumpAttempts: bump}
	if cause != nil {
		msg := truncate(cause.Error(), maxErrorMessageLen)
		to.ErrorMessage = &msg
	}
	if result != enums.WebhookResultError {
		to.ProcessedAt = &now
	}
	from := []enums.WebhookResult{enums.WebhookResultReceived, enums.WebhookResultError}
	if _, err := s.repo.Transition(ctx, record.ID, from, to); err != nil {
		if s.logg != nil {
			s.logg.Error(ctx, "failed to record webhook result", err)
		}
		return nil, storageError(err, "update webhook record")
	}
	record.Result = result
	record.ErrorMessage = to.ErrorMessage
	record.ProcessedAt = to.ProcessedAt

	if s.logg != nil {
		logCtx := s.logg.WithField(ctx, "result", result)
		switch {
		case cause != nil:
			s.logg.Error(logCtx, "webhook processing failed", cause)
		case entry != nil:
			logCtx = s.logg.WithFields(logCtx, map[string]any{"entry_id": entry.ID.String(), "tenant_id": entry.TenantID.String()})
			s.logg.Info(logCtx, "webhook credited wallet")
		default:
			s.logg.Info(logCtx, "webhook recorded")
		}
	}
	return &IngestResult{Accepted: true, Result: result, Record: record, Entry: entry}, nil
}

// Reprocess retries a record left in error or received. The credit reuses
// the event's idempotency key, so a record that did credit before its result
// was written cannot credit twice.
func (s *service) Reprocess(ctx context.Context, eventID, actorID string) (*IngestResult, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	record, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !record.SignatureValid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "rejected webhooks cannot be reprocessed").
			WithDetails(map[string]any{"event_id": eventID})
	}
	if record.Result.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "webhook already finalized").
			WithDetails(map[string]any{"event_id": eventID, "result": record.Result})
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"event_id": eventID, "provider": record.Provider})
		ctx = s.logg.WithActorID(ctx, actorID)
		s.logg.Info(ctx, "webhook reprocess requested")
	}
	return s.process(ctx, record, true)
}

func (s *service) Get(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	record, err := s.repo.FindByEventID(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return nil, storageError(err, "load webhook record")
	}
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webhook event not found").WithDetails(map[string]any{"event_id": eventID})
	}
	return record, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]models.WebhookEvent, error) {
	for _, r := range filter.Results {
		if !r.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid result filter").WithDetails(map[string]any{"result": r})
		}
	}
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storageError(err, "list webhook records")
	}
	return records, nil
}

func (s *service) validate(input IngestInput) error {
	if input.EventID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	if len(input.EventID) > maxEventIDLen {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id too long")
	}
	if !providerPattern.MatchString(input.Provider) {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid provider").WithDetails(map[string]any{"provider": input.Provider})
	}
	if len(input.Payload) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "payload is required")
	}
	if s.maxBody > 0 && int64(len(input.Payload)) > s.maxBody {
		return pkgerrors.New(pkgerrors.CodeValidation, "payload too large").WithDetails(map[string]any{"max_bytes": s.maxBody})
	}
	return nil
}

func (s *service) forget(ctx context.Context, eventID string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Delete(ctx, eventID); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "failed to clear webhook guard")
	}
}

// ParseNotification decodes the provider-neutral payment payload.
func ParseNotification(payload []byte) (*Notification, error) {
	var note Notification
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode notification")
	}
	note.Type = strings.TrimSpace(note.Type)
	if note.Type == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification type is required")
	}
	if note.Type == EventPaymentSucceeded {
		if note.TenantID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id is required")
		}
		if note.Amount <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive").WithDetails(map[string]any{"amount": note.Amount})
		}
	}
	return &note, nil
}

// CreditKey is the ledger idempotency key for a webhook credit.
func CreditKey(eventID string) string {
	return "webhook:" + eventID
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

func storageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if dbpkg.IsLockContention(err) {
		return pkgerrors.Wrap(pkgerrors.CodeResourceLocked, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodePersistence, err, msg)
}
