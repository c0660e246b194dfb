package abuse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/custody-backend/pkg/config"
	dbpkg "github.com/angelmondragon/custody-backend/pkg/db"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/metrics"
	"github.com/angelmondragon/custody-backend/pkg/outbox"
	"github.com/angelmondragon/custody-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/custody-backend/pkg/tracing"
)

const (
	defaultCooldown       = 24 * time.Hour
	defaultPermanentAfter = 3
	decayBatchSize        = 200
	maxReasonLen          = 500
)

var maxWeight = decimal.NewFromInt(1000)

// RecordInput is one weighted abuse signal.
type RecordInput struct {
	TenantID uuid.UUID
	Weight   decimal.Decimal
	Reason   string
	ActorID  string
}

// Status is the read model served to operators.
type Status struct {
	Score    *models.AbuseScore   `json:"score"`
	Decision enums.PolicyDecision `json:"decision"`
}

// DecaySummary reports one DecayAll sweep.
type DecaySummary struct {
	Processed int
	Lifted    int
	Failed    int
}

// Service is the abuse score engine.
type Service interface {
	RecordEvent(ctx context.Context, input RecordInput) (*models.AbuseScore, error)
	Decay(ctx context.Context, tenantID uuid.UUID, now time.Time) (*models.AbuseScore, error)
	DecayAll(ctx context.Context, now time.Time) (*DecaySummary, error)
	Evaluate(ctx context.Context, tenantID uuid.UUID) (enums.PolicyDecision, error)
	Status(ctx context.Context, tenantID uuid.UUID) (*Status, error)
	SetApproval(ctx context.Context, tenantID uuid.UUID, status enums.ApprovalStatus, actorID string) (*models.AbuseScore, error)
	ListEvents(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AbuseEvent, error)
	Authorize(ctx context.Context, tenantID uuid.UUID) error
}

// Limiter is the fixed-window throttle applied to tenants under a throttle decision.
type Limiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the abuse engine. Outbox, Limiter, Logger and Metrics
// are optional.
type ServiceParams struct {
	Tx          txRunner
	Repo        Repository
	Outbox      outbox.Emitter
	Limiter     Limiter
	Config      config.AbuseConfig
	LockTimeout time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.PolicyMetrics
	Now         func() time.Time
}

type service struct {
	tx             txRunner
	repo           Repository
	outbox         outbox.Emitter
	limiter        Limiter
	decayPerHour   decimal.Decimal
	cooldown       time.Duration
	permanentAfter int
	throttleLimit  int64
	throttleWindow time.Duration
	lockTimeout    time.Duration
	logg           *logger.Logger
	metrics        *metrics.PolicyMetrics
	now            func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("abuse repository required")
	}
	rate := decimal.NewFromInt(5)
	if raw := strings.TrimSpace(params.Config.DecayPerHour); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse decay per hour: %w", err)
		}
		if parsed.IsNegative() {
			return nil, fmt.Errorf("decay per hour must be non-negative")
		}
		rate = parsed
	}
	cooldown := params.Config.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	permanentAfter := params.Config.PermanentAfter
	if permanentAfter < 1 {
		permanentAfter = defaultPermanentAfter
	}
	window := params.Config.ThrottleWindow
	if window <= 0 {
		window = time.Minute
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:             params.Tx,
		repo:           params.Repo,
		outbox:         params.Outbox,
		limiter:        params.Limiter,
		decayPerHour:   rate,
		cooldown:       cooldown,
		permanentAfter: permanentAfter,
		throttleLimit:  int64(params.Config.ThrottleLimit),
		throttleWindow: window,
		lockTimeout:    params.LockTimeout,
		logg:           params.Logger,
		metrics:        params.Metrics,
		now:            now,
	}, nil
}

// RecordEvent applies pending decay, adds the weight and reclassifies. Landing
// on critical suspends the tenant; the permanentAfter-th trigger makes the
// suspension permanent. Any manual override is cleared.
func (s *service) RecordEvent(ctx context.Context, input RecordInput) (score *models.AbuseScore, err error) {
	ctx, span := tracing.StartSpan(ctx, "abuse.RecordEvent", tracing.TenantID(input.TenantID.String()))
	defer func() { tracing.End(span, err) }()

	input.Reason = strings.TrimSpace(input.Reason)
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if !input.Weight.IsPositive() || input.Weight.GreaterThan(maxWeight) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "weight must be positive and at most 1000").
			WithDetails(map[string]any{"weight": input.Weight.String()})
	}
	if input.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	if len(input.Reason) > maxReasonLen {
		input.Reason = input.Reason[:maxReasonLen]
	}

	now := s.now().UTC()
	err = s.withScore(ctx, input.TenantID, true, func(tx *gorm.DB, repo Repository, row *models.AbuseScore) error {
		if lifted := s.applyDecay(row, now); lifted {
			if err := s.emitLifted(ctx, tx, row, now); err != nil {
				return err
			}
		}
		wasSuspended := row.IsSuspended
		previousType := row.SuspensionType

		row.CurrentScore = row.CurrentScore.Add(input.Weight)
		row.AbuseLevel, row.PolicyAction = Classify(row.CurrentScore)
		row.LastEventAt = &now
		row.ApprovedBy = nil
		row.ApprovedAt = nil
		if row.PolicyAction == enums.PolicyActionRequireApproval {
			row.ApprovalStatus = enums.ApprovalStatusPending
		} else {
			row.ApprovalStatus = enums.ApprovalStatusNone
		}

		escalated := false
		if row.PolicyAction == enums.PolicyActionSuspend {
			escalated = s.suspend(row, now)
		}
		row.UpdatedAt = now
		if err := repo.Save(ctx, row); err != nil {
			return storageError(err, "save abuse score")
		}
		event := &models.AbuseEvent{
			TenantID:   row.TenantID,
			Weight:     input.Weight,
			Reason:     input.Reason,
			ScoreAfter: row.CurrentScore,
			LevelAfter: row.AbuseLevel,
			CreatedAt:  now,
		}
		if err := repo.CreateEvent(ctx, event); err != nil {
			return storageError(err, "record abuse event")
		}
		if escalated {
			if err := s.emitSuspended(ctx, tx, row, input.Reason, now, input.ActorID); err != nil {
				return err
			}
		}
		if s.logg != nil {
			logCtx := s.logg.WithTenantID(ctx, row.TenantID.String())
			logCtx = s.logg.WithFields(logCtx, map[string]any{
				"score":         row.CurrentScore.String(),
				"level":         row.AbuseLevel,
				"action":        row.PolicyAction,
				"was_suspended": wasSuspended,
				"previous_type": previousType,
			})
			s.logg.Info(logCtx, "abuse event recorded")
		}
		score = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return score, nil
}

// suspend moves a critical tenant into suspension. It reports whether the
// suspension is new or was escalated to permanent.
func (s *service) suspend(row *models.AbuseScore, now time.Time) bool {
	if row.IsSuspended {
		if row.SuspensionType != nil && *row.SuspensionType == enums.SuspensionTypePermanent {
			return false
		}
		ends := now.Add(s.cooldown)
		row.SuspensionEndsAt = &ends
		return false
	}
	row.CriticalCount++
	row.IsSuspended = true
	row.SuspendedAt = &now
	if row.CriticalCount >= s.permanentAfter {
		kind := enums.SuspensionTypePermanent
		row.SuspensionType = &kind
		row.SuspensionEndsAt = nil
		return true
	}
	kind := enums.SuspensionTypeTemporary
	ends := now.Add(s.cooldown)
	row.SuspensionType = &kind
	row.SuspensionEndsAt = &ends
	return true
}

// applyDecay lowers the score by decayPerHour for the time since the last
// decay, floored at zero, and lifts an expired temporary suspension once the
// score is below critical. It reports whether a suspension was lifted.
func (s *service) applyDecay(row *models.AbuseScore, now time.Time) bool {
	elapsed := now.Sub(row.LastDecayAt)
	if elapsed > 0 {
		hours := decimal.NewFromInt(int64(elapsed / time.Second)).Div(decimal.NewFromInt(3600))
		reduced := row.CurrentScore.Sub(s.decayPerHour.Mul(hours)).Round(4)
		if reduced.IsNegative() {
			reduced = decimal.Zero
		}
		row.CurrentScore = reduced
		row.LastDecayAt = now
		row.AbuseLevel, row.PolicyAction = Classify(row.CurrentScore)
	}

	if !row.IsSuspended || row.SuspensionType == nil || *row.SuspensionType != enums.SuspensionTypeTemporary {
		return false
	}
	if row.PolicyAction == enums.PolicyActionSuspend {
		return false
	}
	if row.SuspensionEndsAt != nil && now.Before(*row.SuspensionEndsAt) {
		return false
	}
	liftSuspension(row)
	row.ApprovalStatus = enums.ApprovalStatusAutoApproved
	return true
}

func liftSuspension(row *models.AbuseScore) {
	row.IsSuspended = false
	row.SuspensionType = nil
	row.SuspensionEndsAt = nil
}

func (s *service) Decay(ctx context.Context, tenantID uuid.UUID, now time.Time) (score *models.AbuseScore, err error) {
	ctx, span := tracing.StartSpan(ctx, "abuse.Decay", tracing.TenantID(tenantID.String()))
	defer func() { tracing.End(span, err) }()

	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()
	err = s.withScore(ctx, tenantID, false, func(tx *gorm.DB, repo Repository, row *models.AbuseScore) error {
		if !now.After(row.LastDecayAt) {
			score = row
			return nil
		}
		lifted := s.applyDecay(row, now)
		row.UpdatedAt = now
		if err := repo.Save(ctx, row); err != nil {
			return storageError(err, "save abuse score")
		}
		if lifted {
			if err := s.emitLifted(ctx, tx, row, now); err != nil {
				return err
			}
			if s.logg != nil {
				logCtx := s.logg.WithTenantID(ctx, tenantID.String())
				s.logg.Info(logCtx, "temporary suspension lifted by decay")
			}
		}
		score = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return score, nil
}

// DecayAll sweeps every tenant decay can still change. Per-tenant failures are
// collected and do not stop the sweep.
func (s *service) DecayAll(ctx context.Context, now time.Time) (*DecaySummary, error) {
	if now.IsZero() {
		now = s.now()
	}
	summary := &DecaySummary{}
	var errs error
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return summary, multierr.Append(errs, err)
		}
		ids, err := s.repo.ListDecayCandidates(ctx, after, decayBatchSize)
		if err != nil {
			return summary, multierr.Append(errs, storageError(err, "list decay candidates"))
		}
		for _, id := range ids {
			before, findErr := s.repo.Find(ctx, id)
			if findErr != nil {
				summary.Failed++
				errs = multierr.Append(errs, storageError(findErr, "load abuse score"))
				continue
			}
			updated, decayErr := s.Decay(ctx, id, now)
			if decayErr != nil {
				summary.Failed++
				errs = multierr.Append(errs, fmt.Errorf("decay tenant %s: %w", id, decayErr))
				continue
			}
			summary.Processed++
			if before != nil && before.IsSuspended && !updated.IsSuspended {
				summary.Lifted++
			}
		}
		if len(ids) < decayBatchSize {
			break
		}
		after = ids[len(ids)-1]
	}
	return summary, errs
}

// Evaluate is the read path consulted before spend. Tenants without a score
// row are allowed.
func (s *service) Evaluate(ctx context.Context, tenantID uuid.UUID) (decision enums.PolicyDecision, err error) {
	ctx, span := tracing.StartSpan(ctx, "abuse.Evaluate", tracing.TenantID(tenantID.String()))
	defer func() { tracing.End(span, err) }()

	if tenantID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	row, err := s.repo.Find(ctx, tenantID)
	if err != nil {
		return "", storageError(err, "load abuse score")
	}
	decision = Decide(row)
	s.metrics.Observe(string(decision))
	return decision, nil
}

func (s *service) Status(ctx context.Context, tenantID uuid.UUID) (*Status, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	row, err := s.repo.Find(ctx, tenantID)
	if err != nil {
		return nil, storageError(err, "load abuse score")
	}
	if row == nil {
		row = &models.AbuseScore{
			TenantID:       tenantID,
			CurrentScore:   decimal.Zero,
			AbuseLevel:     enums.AbuseLevelNone,
			PolicyAction:   enums.PolicyActionNone,
			ApprovalStatus: enums.ApprovalStatusNone,
		}
	}
	return &Status{Score: row, Decision: Decide(row)}, nil
}

// SetApproval records a manual override. Approval lifts any suspension,
// permanent included; rejection denies. Both hold until the next RecordEvent.
func (s *service) SetApproval(ctx context.Context, tenantID uuid.UUID, status enums.ApprovalStatus, actorID string) (score *models.AbuseScore, err error) {
	ctx, span := tracing.StartSpan(ctx, "abuse.SetApproval", tracing.TenantID(tenantID.String()))
	defer func() { tracing.End(span, err) }()

	actorID = strings.TrimSpace(actorID)
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if status != enums.ApprovalStatusApproved && status != enums.ApprovalStatusRejected {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "approval status must be approved or rejected").
			WithDetails(map[string]any{"status": status})
	}
	if actorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}

	now := s.now().UTC()
	err = s.withScore(ctx, tenantID, false, func(tx *gorm.DB, repo Repository, row *models.AbuseScore) error {
		wasSuspended := row.IsSuspended
		row.ApprovalStatus = status
		row.ApprovedBy = &actorID
		row.ApprovedAt = &now
		if status == enums.ApprovalStatusApproved && wasSuspended {
			liftSuspension(row)
		}
		row.UpdatedAt = now
		if err := repo.Save(ctx, row); err != nil {
			return storageError(err, "save abuse score")
		}
		if wasSuspended && !row.IsSuspended {
			if err := s.emitLifted(ctx, tx, row, now); err != nil {
				return err
			}
		}
		if s.logg != nil {
			logCtx := s.logg.WithTenantID(ctx, tenantID.String())
			logCtx = s.logg.WithActorID(logCtx, actorID)
			logCtx = s.logg.WithField(logCtx, "approval_status", status)
			s.logg.Info(logCtx, "abuse approval override set")
		}
		score = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return score, nil
}

func (s *service) ListEvents(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AbuseEvent, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	events, err := s.repo.ListEvents(ctx, tenantID, limit)
	if err != nil {
		return nil, storageError(err, "list abuse events")
	}
	return events, nil
}

// Authorize implements the ledger policy gate. A throttle decision consumes
// one slot of the tenant's fixed window; limiter outages fail open.
func (s *service) Authorize(ctx context.Context, tenantID uuid.UUID) error {
	decision, err := s.Evaluate(ctx, tenantID)
	if err != nil {
		return err
	}
	details := map[string]any{"tenant_id": tenantID.String(), "decision": decision}
	switch decision {
	case enums.PolicyDecisionDeny:
		return pkgerrors.New(pkgerrors.CodePolicyDenied, "tenant is not allowed to spend").WithDetails(details)
	case enums.PolicyDecisionRequireApproval:
		return pkgerrors.New(pkgerrors.CodeApprovalRequired, "tenant spend requires approval").WithDetails(details)
	case enums.PolicyDecisionThrottle:
		if s.limiter == nil || s.throttleLimit <= 0 {
			return nil
		}
		allowed, count, limitErr := s.limiter.FixedWindowAllow(ctx, "abuse:"+tenantID.String(), s.throttleLimit, s.throttleWindow)
		if limitErr != nil {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithTenantID(ctx, tenantID.String()), "abuse throttle unavailable, allowing spend")
			}
			return nil
		}
		if !allowed {
			details["count"] = count
			details["limit"] = s.throttleLimit
			return pkgerrors.New(pkgerrors.CodeRateLimit, "tenant spend throttled").WithDetails(details)
		}
	}
	return nil
}

type scoreMutation func(tx *gorm.DB, repo Repository, row *models.AbuseScore) error

// withScore runs fn in a transaction holding the tenant's score row lock. With
// create set, a missing row is inserted first; otherwise it is NOT_FOUND.
func (s *service) withScore(ctx context.Context, tenantID uuid.UUID, create bool, fn scoreMutation) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.SetLockTimeout(ctx, s.lockTimeout); err != nil {
			return storageError(err, "set lock timeout")
		}
		if create {
			if err := repo.Ensure(ctx, tenantID, s.now().UTC()); err != nil {
				return storageError(err, "ensure abuse score")
			}
		}
		row, err := repo.Lock(ctx, tenantID)
		if err != nil {
			return storageError(err, "lock abuse score")
		}
		if row == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "abuse score not found").
				WithDetails(map[string]any{"tenant_id": tenantID.String()})
		}
		row.LastDecayAt = row.LastDecayAt.UTC()
		return fn(tx, repo, row)
	})
	return storageError(err, "commit abuse score")
}

func (s *service) emitSuspended(ctx context.Context, tx *gorm.DB, row *models.AbuseScore, reason string, now time.Time, actorID string) error {
	if s.outbox == nil {
		return nil
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventTenantSuspended,
		AggregateType: enums.AggregateTenant,
		AggregateID:   row.TenantID,
		Actor:         actorRef(actorID),
		Data: payloads.TenantSuspendedEvent{
			TenantID:       row.TenantID,
			Score:          row.CurrentScore.String(),
			Level:          row.AbuseLevel,
			SuspensionType: *row.SuspensionType,
			Until:          row.SuspensionEndsAt,
			Reason:         reason,
		},
		OccurredAt: now,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return storageError(err, "emit tenant suspended")
	}
	return nil
}

func (s *service) emitLifted(ctx context.Context, tx *gorm.DB, row *models.AbuseScore, now time.Time) error {
	if s.outbox == nil {
		return nil
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventTenantSuspensionLifted,
		AggregateType: enums.AggregateTenant,
		AggregateID:   row.TenantID,
		Data: payloads.TenantSuspensionLiftedEvent{
			TenantID:       row.TenantID,
			Score:          row.CurrentScore.String(),
			Level:          row.AbuseLevel,
			ApprovalStatus: row.ApprovalStatus,
		},
		OccurredAt: now,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return storageError(err, "emit suspension lifted")
	}
	return nil
}

func actorRef(actorID string) *outbox.ActorRef {
	return outbox.OperatorActor(actorID)
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
	if dbpkg.IsCheckViolation(err) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodePersistence, err, msg)
}
