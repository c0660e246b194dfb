package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
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
	"github.com/angelmondragon/custody-backend/pkg/pagination"
	"github.com/angelmondragon/custody-backend/pkg/tracing"
)

// Service is the balance ledger engine. Every mutation runs in one
// transaction holding the wallet row lock.
type Service interface {
	EnsureWallet(ctx context.Context, tenantID uuid.UUID, thresholds Thresholds) (*models.Wallet, error)
	SetThresholds(ctx context.Context, tenantID uuid.UUID, thresholds Thresholds) (*Balance, error)
	GetBalance(ctx context.Context, tenantID uuid.UUID) (*Balance, error)
	GetWalletBalance(ctx context.Context, walletID uuid.UUID) (*Balance, error)

	Credit(ctx context.Context, input CreditInput) (*models.LedgerEntry, error)
	Debit(ctx context.Context, input DebitInput) (*models.LedgerEntry, error)
	Hold(ctx context.Context, input HoldInput) (*models.LedgerEntry, error)
	Release(ctx context.Context, input ReleaseInput) (*models.LedgerEntry, error)
	Settle(ctx context.Context, input SettleInput) (*SettleResult, error)

	ListEntries(ctx context.Context, tenantID uuid.UUID, filter EntryFilter) (*EntryPage, error)
	ListOpenHolds(ctx context.Context, tenantID *uuid.UUID, olderThan time.Time, limit int) ([]models.LedgerEntry, error)
}

// PolicyGate decides whether a tenant may spend. It returns a typed rejection
// (POLICY_DENIED, APPROVAL_REQUIRED, RATE_LIMIT_EXCEEDED) or nil.
type PolicyGate interface {
	Authorize(ctx context.Context, tenantID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the ledger engine. Outbox, Gate, Logger and Metrics are
// optional.
type ServiceParams struct {
	Tx      txRunner
	Repo    Repository
	Outbox  outbox.Emitter
	Gate    PolicyGate
	Config  config.LedgerConfig
	Logger  *logger.Logger
	Metrics *metrics.LedgerMetrics
	Now     func() time.Time
}

type service struct {
	tx          txRunner
	repo        Repository
	outbox      outbox.Emitter
	gate        PolicyGate
	logg        *logger.Logger
	metrics     *metrics.LedgerMetrics
	locks       *walletLocks
	lockTimeout time.Duration
	now         func() time.Time
}

const defaultLockTimeout = 5 * time.Second

// NewService builds the ledger engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	timeout := params.Config.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:          params.Tx,
		repo:        params.Repo,
		outbox:      params.Outbox,
		gate:        params.Gate,
		logg:        params.Logger,
		metrics:     params.Metrics,
		locks:       newWalletLocks(),
		lockTimeout: timeout,
		now:         now,
	}, nil
}

func (s *service) EnsureWallet(ctx context.Context, tenantID uuid.UUID, thresholds Thresholds) (*models.Wallet, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if err := validateThresholds(thresholds); err != nil {
		return nil, err
	}
	existing, err := s.repo.FindWalletByTenant(ctx, tenantID)
	if err != nil {
		return nil, storageError(err, "load wallet")
	}
	if existing != nil {
		return existing, nil
	}

	wallet := &models.Wallet{
		TenantID:         tenantID,
		WarningThreshold: thresholds.Warning,
		MinimumThreshold: thresholds.Minimum,
	}
	if err := s.repo.CreateWallet(ctx, wallet); err != nil {
		if dbpkg.IsUniqueViolation(err, "idx_wallets_tenant") {
			existing, findErr := s.repo.FindWalletByTenant(ctx, tenantID)
			if findErr != nil {
				return nil, storageError(findErr, "load wallet")
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, storageError(err, "create wallet")
	}
	if s.logg != nil {
		logCtx := s.logg.WithTenantID(ctx, tenantID.String())
		logCtx = s.logg.WithWalletID(logCtx, wallet.ID.String())
		s.logg.Info(logCtx, "wallet provisioned")
	}
	return wallet, nil
}

func (s *service) SetThresholds(ctx context.Context, tenantID uuid.UUID, thresholds Thresholds) (*Balance, error) {
	if err := validateThresholds(thresholds); err != nil {
		return nil, err
	}
	var out *Balance
	err := s.withWallet(ctx, "set_thresholds", tenantID, func(ctx context.Context, tx *gorm.DB, repo Repository, wallet *models.Wallet) error {
		if err := repo.UpdateThresholds(ctx, wallet.ID, thresholds.Warning, thresholds.Minimum); err != nil {
			return storageError(err, "update thresholds")
		}
		wallet.WarningThreshold = thresholds.Warning
		wallet.MinimumThreshold = thresholds.Minimum
		out = balanceFromWallet(wallet)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) GetBalance(ctx context.Context, tenantID uuid.UUID) (*Balance, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	wallet, err := s.repo.FindWalletByTenant(ctx, tenantID)
	if err != nil {
		return nil, storageError(err, "load wallet")
	}
	if wallet == nil {
		return nil, walletNotFound(tenantID)
	}
	return balanceFromWallet(wallet), nil
}

func (s *service) GetWalletBalance(ctx context.Context, walletID uuid.UUID) (*Balance, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	}
	wallet, err := s.repo.FindWalletByID(ctx, walletID)
	if err != nil {
		return nil, storageError(err, "load wallet")
	}
	if wallet == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found").WithDetails(map[string]any{"wallet_id": walletID.String()})
	}
	return balanceFromWallet(wallet), nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (entry *models.LedgerEntry, err error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Credit", tracing.TenantID(input.TenantID.String()), tracing.Amount(input.Amount))
	replay := false
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "credit", input.TenantID, err, replay)
	}()

	if input.Type == "" {
		input.Type = enums.LedgerEntryTypeTopup
	}
	if err := validateCredit(input); err != nil {
		return nil, err
	}

	err = s.withWallet(ctx, "credit", input.TenantID, func(ctx context.Context, tx *gorm.DB, repo Repository, wallet *models.Wallet) error {
		if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
			prior, err := replayEntry(ctx, repo, wallet.ID, key, input.Type, input.Amount)
			if err != nil || prior != nil {
				entry, replay = prior, prior != nil
				return err
			}
		}

		now := s.now().UTC()
		before := wallet.AvailableBalance
		ok, err := repo.ApplyDelta(ctx, wallet.ID, WalletDelta{Available: input.Amount, Credited: input.Amount, At: now})
		if err != nil {
			return storageError(err, "credit wallet")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "wallet changed during credit")
		}

		entry = &models.LedgerEntry{
			WalletID:       wallet.ID,
			TenantID:       wallet.TenantID,
			Type:           input.Type,
			Amount:         input.Amount,
			BalanceKind:    enums.BalanceKindAvailable,
			BalanceBefore:  before,
			BalanceAfter:   before + input.Amount,
			ReferenceType:  optional(input.Reference.Type),
			ReferenceID:    optional(input.Reference.ID),
			Description:    optional(input.Description),
			Metadata:       input.Metadata,
			Status:         enums.LedgerEntryStatusCompleted,
			ActorID:        optional(input.ActorID),
			IdempotencyKey: optional(input.IdempotencyKey),
			CreatedAt:      now,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return storageError(err, "insert credit entry")
		}
		wallet.AvailableBalance = entry.BalanceAfter

		if input.Source != nil && s.outbox != nil {
			event := outbox.DomainEvent{
				EventType:     enums.EventWalletCredited,
				AggregateType: enums.AggregateWallet,
				AggregateID:   wallet.ID,
				Actor:         actorRef(input.ActorID),
				Data: payloads.WalletCreditedEvent{
					WalletID:         wallet.ID,
					TenantID:         wallet.TenantID,
					EntryID:          entry.ID,
					Amount:           input.Amount,
					AvailableBalance: wallet.AvailableBalance,
					Provider:         input.Source.Provider,
					ExternalEventID:  input.Source.EventID,
				},
				OccurredAt: now,
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return storageError(err, "emit wallet credited")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Debit(ctx context.Context, input DebitInput) (entry *models.LedgerEntry, err error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Debit", tracing.TenantID(input.TenantID.String()), tracing.Amount(input.Amount))
	replay := false
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "debit", input.TenantID, err, replay)
	}()

	if input.Type == "" {
		input.Type = enums.LedgerEntryTypeUsage
	}
	if err := validateDebit(input); err != nil {
		return nil, err
	}
	prior, err := s.priorEntry(ctx, input.TenantID, input.IdempotencyKey, input.Type, -input.Amount)
	if err != nil || prior != nil {
		replay = prior != nil
		return prior, err
	}
	if err := s.authorize(ctx, input.TenantID); err != nil {
		return nil, err
	}

	err = s.withWallet(ctx, "debit", input.TenantID, func(ctx context.Context, tx *gorm.DB, repo Repository, wallet *models.Wallet) error {
		if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
			prior, err := replayEntry(ctx, repo, wallet.ID, key, input.Type, -input.Amount)
			if err != nil || prior != nil {
				entry, replay = prior, prior != nil
				return err
			}
		}

		before := wallet.AvailableBalance
		if before < input.Amount {
			return insufficientFunds(wallet, input.Amount)
		}
		now := s.now().UTC()
		ok, err := repo.ApplyDelta(ctx, wallet.ID, WalletDelta{Available: -input.Amount, Debited: input.Amount, At: now})
		if err != nil {
			return storageError(err, "debit wallet")
		}
		if !ok {
			return insufficientFunds(wallet, input.Amount)
		}

		entry = &models.LedgerEntry{
			WalletID:       wallet.ID,
			TenantID:       wallet.TenantID,
			Type:           input.Type,
			Amount:         -input.Amount,
			BalanceKind:    enums.BalanceKindAvailable,
			BalanceBefore:  before,
			BalanceAfter:   before - input.Amount,
			ReferenceType:  optional(input.Reference.Type),
			ReferenceID:    optional(input.Reference.ID),
			Description:    optional(input.Description),
			Metadata:       input.Metadata,
			Status:         enums.LedgerEntryStatusCompleted,
			ActorID:        optional(input.ActorID),
			IdempotencyKey: optional(input.IdempotencyKey),
			CreatedAt:      now,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return storageError(err, "insert debit entry")
		}
		wallet.AvailableBalance = entry.BalanceAfter
		return s.signalLowBalance(ctx, tx, wallet, before, entry.BalanceAfter, now)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Hold(ctx context.Context, input HoldInput) (entry *models.LedgerEntry, err error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Hold", tracing.TenantID(input.TenantID.String()), tracing.Amount(input.Amount))
	replay := false
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "hold", input.TenantID, err, replay)
	}()

	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Amount <= 0 {
		return nil, invalidAmount(input.Amount)
	}
	if err := input.Metadata.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid metadata")
	}

	var key string
	if !input.Reference.empty() {
		key = HoldKey(input.Reference)
	}
	prior, err := s.priorEntry(ctx, input.TenantID, key, enums.LedgerEntryTypeHold, -input.Amount)
	if err != nil || prior != nil {
		replay = prior != nil
		return prior, err
	}
	if err := s.authorize(ctx, input.TenantID); err != nil {
		return nil, err
	}

	err = s.withWallet(ctx, "hold", input.TenantID, func(ctx context.Context, tx *gorm.DB, repo Repository, wallet *models.Wallet) error {
		if key != "" {
			prior, err := replayEntry(ctx, repo, wallet.ID, key, enums.LedgerEntryTypeHold, -input.Amount)
			if err != nil || prior != nil {
				entry, replay = prior, prior != nil
				return err
			}
		}

		before := wallet.AvailableBalance
		if before < input.Amount {
			return insufficientFunds(wallet, input.Amount)
		}
		now := s.now().UTC()
		ok, err := repo.ApplyDelta(ctx, wallet.ID, WalletDelta{Available: -input.Amount, Held: input.Amount, At: now})
		if err != nil {
			return storageError(err, "move funds to held")
		}
		if !ok {
			return insufficientFunds(wallet, input.Amount)
		}

		entry = &models.LedgerEntry{
			WalletID:       wallet.ID,
			TenantID:       wallet.TenantID,
			Type:           enums.LedgerEntryTypeHold,
			Amount:         -input.Amount,
			BalanceKind:    enums.BalanceKindAvailable,
			BalanceBefore:  before,
			BalanceAfter:   before - input.Amount,
			ReferenceType:  optional(input.Reference.Type),
			ReferenceID:    optional(input.Reference.ID),
			Description:    optional(input.Description),
			Metadata:       input.Metadata.With("held_after", fmt.Sprintf("%d", wallet.HeldBalance+input.Amount)),
			Status:         enums.LedgerEntryStatusPending,
			ActorID:        optional(input.ActorID),
			IdempotencyKey: optional(key),
			CreatedAt:      now,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return storageError(err, "insert hold entry")
		}
		wallet.AvailableBalance = entry.BalanceAfter
		wallet.HeldBalance += input.Amount
		return s.signalLowBalance(ctx, tx, wallet, before, entry.BalanceAfter, now)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Release(ctx context.Context, input ReleaseInput) (entry *models.LedgerEntry, err error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Release")
	var tenantID uuid.UUID
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "release", tenantID, err, false)
	}()

	hold, err := s.loadHold(ctx, input.HoldEntryID, input.TenantID)
	if err != nil {
		return nil, err
	}
	tenantID = hold.TenantID
	amount := HoldAmount(hold)

	err = s.withWallet(ctx, "release", hold.TenantID, func(ctx context.Context, tx *gorm.DB, repo Repository, wallet *models.Wallet) error {
		if err := ensureHoldOpen(ctx, repo, hold); err != nil {
			return err
		}
		now := s.now().UTC()
		before := wallet.AvailableBalance
		ok, err := repo.ApplyDelta(ctx, wallet.ID, WalletDelta{Available: amount, Held: -amount, At: now})
		if err != nil {
			return storageError(err, "release hold")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "held balance does not cover hold").
				WithDetails(map[string]any{"hold_entry_id": hold.ID.String(), "held": wallet.HeldBalance})
		}

		holdID := hold.ID
		entry = &models.LedgerEntry{
			WalletID:      wallet.ID,
			TenantID:      wallet.TenantID,
			Type:          enums.LedgerEntryTypeRelease,
			Amount:        amount,
			BalanceKind:   enums.BalanceKindAvailable,
			BalanceBefore: before,
			BalanceAfter:  before + amount,
			ReferenceType: hold.ReferenceType,
			ReferenceID:   hold.ReferenceID,
			Description:   optional(input.Reason),
			Metadata: hold.Metadata.
				With("reason", strings.TrimSpace(input.Reason)).
				With("held_after", fmt.Sprintf("%d", wallet.HeldBalance-amount)),
			Status:      enums.LedgerEntryStatusCompleted,
			ActorID:     optional(input.ActorID),
			HoldEntryID: &holdID,
			CreatedAt:   now,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return holdWriteError(err, hold.ID, "insert release entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Settle(ctx context.Context, input SettleInput) (result *SettleResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "ledger.Settle", tracing.Amount(input.ActualAmount))
	var tenantID uuid.UUID
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "settle", tenantID, err, false)
	}()

	if input.ActualAmount <= 0 {
		return nil, invalidAmount(input.ActualAmount)
	}
	hold, err := s.loadHold(ctx, input.HoldEntryID, input.TenantID)
	if err != nil {
		return nil, err
	}
	tenantID = hold.TenantID
	held := HoldAmount(hold)
	if input.ActualAmount > held {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "settlement exceeds held amount").
			WithDetails(map[string]any{"held": held, "actual": input.ActualAmount})
	}
	remainder := held - input.ActualAmount

	err = s.withWallet(ctx, "settle", hold.TenantID, func(ctx context.Context, tx *gorm.DB, repo Repository, wallet *models.Wallet) error {
		if err := ensureHoldOpen(ctx, repo, hold); err != nil {
			return err
		}
		now := s.now().UTC()
		availableBefore := wallet.AvailableBalance
		heldBefore := wallet.HeldBalance
		ok, err := repo.ApplyDelta(ctx, wallet.ID, WalletDelta{
			Available: remainder,
			Held:      -held,
			Debited:   input.ActualAmount,
			At:        now,
		})
		if err != nil {
			return storageError(err, "settle hold")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "held balance does not cover hold").
				WithDetails(map[string]any{"hold_entry_id": hold.ID.String(), "held": heldBefore})
		}

		// The remainder leaves held first, so the usage leg closes the held
		// side at the wallet's post-settlement balance.
		holdID := hold.ID
		heldAfter := heldBefore - held
		var release *models.LedgerEntry
		if remainder > 0 {
			release = &models.LedgerEntry{
				WalletID:      wallet.ID,
				TenantID:      wallet.TenantID,
				Type:          enums.LedgerEntryTypeRelease,
				Amount:        remainder,
				BalanceKind:   enums.BalanceKindAvailable,
				BalanceBefore: availableBefore,
				BalanceAfter:  availableBefore + remainder,
				ReferenceType: hold.ReferenceType,
				ReferenceID:   hold.ReferenceID,
				Description:   optional("unused hold returned on settlement"),
				Metadata: hold.Metadata.
					With("reason", "partial_settlement").
					With("held_after", fmt.Sprintf("%d", heldBefore-remainder)),
				Status:      enums.LedgerEntryStatusCompleted,
				ActorID:     optional(input.ActorID),
				HoldEntryID: &holdID,
				CreatedAt:   now,
			}
			if err := repo.CreateEntry(ctx, release); err != nil {
				return holdWriteError(err, hold.ID, "insert release entry")
			}
		}

		usage := models.LedgerEntry{
			WalletID:      wallet.ID,
			TenantID:      wallet.TenantID,
			Type:          enums.LedgerEntryTypeUsage,
			Amount:        -input.ActualAmount,
			BalanceKind:   enums.BalanceKindHeld,
			BalanceBefore: heldAfter + input.ActualAmount,
			BalanceAfter:  heldAfter,
			ReferenceType: hold.ReferenceType,
			ReferenceID:   hold.ReferenceID,
			Description:   optional(input.Description),
			Metadata:      hold.Metadata,
			Status:        enums.LedgerEntryStatusCompleted,
			ActorID:       optional(input.ActorID),
			HoldEntryID:   &holdID,
			CreatedAt:     now,
		}
		if err := repo.CreateEntry(ctx, &usage); err != nil {
			return holdWriteError(err, hold.ID, "insert usage entry")
		}
		entries := []models.LedgerEntry{usage}
		if release != nil {
			entries = append(entries, *release)
		}

		wallet.AvailableBalance = availableBefore + remainder
		wallet.HeldBalance = heldAfter
		wallet.TotalDebited += input.ActualAmount
		result = &SettleResult{Entries: entries, Balance: balanceFromWallet(wallet)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ListEntries(ctx context.Context, tenantID uuid.UUID, filter EntryFilter) (*EntryPage, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	for _, t := range filter.Types {
		if !t.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid entry type").WithDetails(map[string]any{"type": t})
		}
	}
	cursor, err := pagination.ParseCursor(filter.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter.cursor = cursor
	filter.Limit = pagination.NormalizeLimit(filter.Limit)

	wallet, err := s.repo.FindWalletByTenant(ctx, tenantID)
	if err != nil {
		return nil, storageError(err, "load wallet")
	}
	if wallet == nil {
		return nil, walletNotFound(tenantID)
	}
	entries, err := s.repo.ListEntries(ctx, wallet.ID, filter)
	if err != nil {
		return nil, storageError(err, "list entries")
	}

	page := &EntryPage{}
	var last *models.LedgerEntry
	page.Entries, last = pagination.Trim(entries, filter.Limit)
	if last != nil {
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (s *service) ListOpenHolds(ctx context.Context, tenantID *uuid.UUID, olderThan time.Time, limit int) ([]models.LedgerEntry, error) {
	filter := OpenHoldFilter{OlderThan: olderThan, Limit: limit}
	if tenantID != nil {
		wallet, err := s.repo.FindWalletByTenant(ctx, *tenantID)
		if err != nil {
			return nil, storageError(err, "load wallet")
		}
		if wallet == nil {
			return nil, walletNotFound(*tenantID)
		}
		filter.WalletID = &wallet.ID
	}
	holds, err := s.repo.ListOpenHolds(ctx, filter)
	if err != nil {
		return nil, storageError(err, "list open holds")
	}
	return holds, nil
}

type walletMutation func(ctx context.Context, tx *gorm.DB, repo Repository, wallet *models.Wallet) error

// withWallet takes the in-process wallet lock, then runs fn in a transaction
// holding the wallet row lock.
func (s *service) withWallet(ctx context.Context, op string, tenantID uuid.UUID, fn walletMutation) error {
	if tenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	start := time.Now()
	unlock, err := s.locks.acquire(lockCtx, tenantID.String())
	s.metrics.ObserveLockWait(op, time.Since(start))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeResourceLocked, err, "wallet is busy").
			WithDetails(map[string]any{"tenant_id": tenantID.String()})
	}
	defer unlock()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.SetLockTimeout(ctx, s.lockTimeout); err != nil {
			return storageError(err, "set lock timeout")
		}
		wallet, err := repo.LockWalletByTenant(ctx, tenantID)
		if err != nil {
			return storageError(err, "lock wallet")
		}
		if wallet == nil {
			return walletNotFound(tenantID)
		}
		return fn(ctx, tx, repo, wallet)
	})
	return storageError(err, "commit ledger transaction")
}

// priorEntry looks up an already-applied spend before the policy gate runs,
// so a retry of a committed debit or hold replays even after the tenant is
// blocked. The check is repeated under the wallet lock.
func (s *service) priorEntry(ctx context.Context, tenantID uuid.UUID, key string, typ enums.LedgerEntryType, amount int64) (*models.LedgerEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	wallet, err := s.repo.FindWalletByTenant(ctx, tenantID)
	if err != nil {
		return nil, storageError(err, "load wallet")
	}
	if wallet == nil {
		return nil, nil
	}
	return replayEntry(ctx, s.repo, wallet.ID, key, typ, amount)
}

func (s *service) authorize(ctx context.Context, tenantID uuid.UUID) error {
	if s.gate == nil {
		return nil
	}
	return s.gate.Authorize(ctx, tenantID)
}

func (s *service) loadHold(ctx context.Context, holdID, tenantID uuid.UUID) (*models.LedgerEntry, error) {
	if holdID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hold entry id is required")
	}
	hold, err := s.repo.FindEntry(ctx, holdID)
	if err != nil {
		return nil, storageError(err, "load hold")
	}
	// A hold owned by another tenant is reported as missing.
	if hold == nil || hold.Type != enums.LedgerEntryTypeHold || (tenantID != uuid.Nil && hold.TenantID != tenantID) {
		return nil, pkgerrors.New(pkgerrors.CodeHoldNotFound, "hold not found").
			WithDetails(map[string]any{"hold_entry_id": holdID.String()})
	}
	return hold, nil
}

func ensureHoldOpen(ctx context.Context, repo Repository, hold *models.LedgerEntry) error {
	closure, err := repo.FindHoldClosure(ctx, hold.ID)
	if err != nil {
		return storageError(err, "check hold closure")
	}
	if closure != nil {
		return holdClosed(hold.ID, closure.Type)
	}
	return nil
}

// signalLowBalance emits one event for the most severe threshold the
// mutation crossed, if any.
func (s *service) signalLowBalance(ctx context.Context, tx *gorm.DB, wallet *models.Wallet, before, after int64, now time.Time) error {
	if s.outbox == nil {
		return nil
	}
	threshold, kind, crossed := lowBalanceCrossing(wallet, before, after)
	if !crossed {
		return nil
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventWalletLowBalance,
		AggregateType: enums.AggregateWallet,
		AggregateID:   wallet.ID,
		Data: payloads.WalletLowBalanceEvent{
			WalletID:         wallet.ID,
			TenantID:         wallet.TenantID,
			AvailableBalance: after,
			Threshold:        threshold,
			ThresholdKind:    kind,
		},
		OccurredAt: now,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return storageError(err, "emit low balance")
	}
	return nil
}

func lowBalanceCrossing(wallet *models.Wallet, before, after int64) (int64, string, bool) {
	if m := wallet.MinimumThreshold; m > 0 && before >= m && after < m {
		return m, "minimum", true
	}
	if w := wallet.WarningThreshold; w > 0 && before >= w && after < w {
		return w, "warning", true
	}
	return 0, "", false
}

func (s *service) observe(ctx context.Context, op string, tenantID uuid.UUID, err error, replay bool) {
	outcome := metrics.OutcomeOK
	switch {
	case err != nil && pkgerrors.IsRetryable(err):
		outcome = metrics.OutcomeError
	case err != nil:
		outcome = metrics.OutcomeRejected
	case replay:
		outcome = metrics.OutcomeReplay
	}
	s.metrics.Observe(op, outcome)
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"operation": op, "outcome": outcome})
	if tenantID != uuid.Nil {
		logCtx = s.logg.WithTenantID(logCtx, tenantID.String())
	}
	switch outcome {
	case metrics.OutcomeError:
		s.logg.Error(logCtx, "ledger operation failed", err)
	case metrics.OutcomeRejected:
		logCtx = s.logg.WithField(logCtx, "code", string(pkgerrors.As(err).Code()))
		s.logg.Info(logCtx, "ledger operation rejected")
	case metrics.OutcomeReplay:
		s.logg.Debug(logCtx, "ledger operation replayed")
	default:
		s.logg.Info(logCtx, "ledger operation applied")
	}
}

func replayEntry(ctx context.Context, repo Repository, walletID uuid.UUID, key string, typ enums.LedgerEntryType, amount int64) (*models.LedgerEntry, error) {
	prior, err := repo.FindEntryByIdempotencyKey(ctx, walletID, key)
	if err != nil {
		return nil, storageError(err, "lookup idempotency key")
	}
	if prior == nil {
		return nil, nil
	}
	if prior.Type != typ || prior.Amount != amount {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key reused with different parameters").
			WithDetails(map[string]any{"idempotency_key": key, "entry_id": prior.ID.String()})
	}
	return prior, nil
}

func validateCredit(input CreditInput) error {
	if input.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Amount <= 0 {
		return invalidAmount(input.Amount)
	}
	switch input.Type {
	case enums.LedgerEntryTypeTopup, enums.LedgerEntryTypeRefund, enums.LedgerEntryTypeAdjustment, enums.LedgerEntryTypeBonus:
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "entry type cannot credit a wallet").WithDetails(map[string]any{"type": input.Type})
	}
	if err := input.Metadata.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid metadata")
	}
	return nil
}

func validateDebit(input DebitInput) error {
	if input.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Amount <= 0 {
		return invalidAmount(input.Amount)
	}
	switch input.Type {
	case enums.LedgerEntryTypeUsage, enums.LedgerEntryTypeAdjustment:
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "entry type cannot debit a wallet").WithDetails(map[string]any{"type": input.Type})
	}
	if err := input.Metadata.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid metadata")
	}
	return nil
}

func validateThresholds(t Thresholds) error {
	if t.Warning < 0 || t.Minimum < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "thresholds must be non-negative")
	}
	return nil
}

func invalidAmount(amount int64) error {
	return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive").WithDetails(map[string]any{"amount": amount})
}

func insufficientFunds(wallet *models.Wallet, requested int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient available balance").
		WithDetails(map[string]any{"available": wallet.AvailableBalance, "requested": requested})
}

func walletNotFound(tenantID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found").WithDetails(map[string]any{"tenant_id": tenantID.String()})
}

func holdClosed(holdID uuid.UUID, by enums.LedgerEntryType) error {
	return pkgerrors.New(pkgerrors.CodeHoldAlreadySettled, "hold already closed").
		WithDetails(map[string]any{"hold_entry_id": holdID.String(), "closed_by": by})
}

// holdWriteError maps the (hold_entry_id, type) unique index to the closed-hold
// rejection for writers that raced past the in-transaction check.
func holdWriteError(err error, holdID uuid.UUID, msg string) error {
	if dbpkg.IsUniqueViolation(err, "idx_ledger_entries_hold_type") {
		return holdClosed(holdID, "")
	}
	return storageError(err, msg)
}

// storageError classifies a repository failure. Typed errors pass through.
func storageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	switch {
	case dbpkg.IsLockContention(err):
		return pkgerrors.Wrap(pkgerrors.CodeResourceLocked, err, msg)
	case dbpkg.IsCheckViolation(err):
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodePersistence, err, msg)
}

func actorRef(actorID string) *outbox.ActorRef {
	return outbox.OperatorActor(actorID)
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
