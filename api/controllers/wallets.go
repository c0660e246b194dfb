package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/custody-backend/api/responses"
	"github.com/angelmondragon/custody-backend/api/validators"
	"github.com/angelmondragon/custody-backend/internal/ledger"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/custody-backend/pkg/db/types"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/pagination"
)

// WalletService is the slice of the ledger the wallet routes use.
type WalletService interface {
	EnsureWallet(ctx context.Context, tenantID uuid.UUID, thresholds ledger.Thresholds) (*models.Wallet, error)
	SetThresholds(ctx context.Context, tenantID uuid.UUID, thresholds ledger.Thresholds) (*ledger.Balance, error)
	GetBalance(ctx context.Context, tenantID uuid.UUID) (*ledger.Balance, error)
	ListEntries(ctx context.Context, tenantID uuid.UUID, filter ledger.EntryFilter) (*ledger.EntryPage, error)
	Credit(ctx context.Context, input ledger.CreditInput) (*models.LedgerEntry, error)
	Debit(ctx context.Context, input ledger.DebitInput) (*models.LedgerEntry, error)
}

type walletRequest struct {
	WarningThreshold int64 `json:"warning_threshold" validate:"min=0"`
	MinimumThreshold int64 `json:"minimum_threshold" validate:"min=0"`
}

type referenceRequest struct {
	Type string `json:"type" validate:"max=64"`
	ID   string `json:"id" validate:"max=128"`
}

func (r referenceRequest) toLedger() ledger.Reference {
	return ledger.Reference{Type: validators.SanitizeString(r.Type, 64), ID: validators.SanitizeString(r.ID, 128)}
}

type movementRequest struct {
	Amount      int64             `json:"amount"`
	Type        string            `json:"type"`
	Reference   referenceRequest  `json:"reference"`
	Description string            `json:"description" validate:"max=500"`
	Metadata    map[string]string `json:"metadata" validate:"max=32"`
}

// WalletEnsure provisions the tenant wallet, or updates its thresholds when
// it already exists.
func WalletEnsure(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req walletRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		thresholds := ledger.Thresholds{Warning: req.WarningThreshold, Minimum: req.MinimumThreshold}
		if _, err := svc.EnsureWallet(r.Context(), tenantID, thresholds); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.SetThresholds(r.Context(), tenantID, thresholds)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

func WalletBalance(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.GetBalance(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// WalletEntries pages through ledger entries newest first. Filters: type
// (comma separated), reference_type, reference_id, from, to, limit, cursor.
func WalletEntries(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		q := validators.NewQuery(r)
		filter := ledger.EntryFilter{
			ReferenceType: q.String("reference_type"),
			ReferenceID:   q.String("reference_id"),
			From:          q.Time("from"),
			To:            q.Time("to"),
			Limit:         q.Int("limit", pagination.DefaultLimit, 1, pagination.MaxLimit),
			Cursor:        q.String("cursor"),
		}
		q.Check(filter.From.IsZero() || filter.To.IsZero() || !filter.To.Before(filter.From), "to", "must not be before from")
		if err := q.Err(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		for _, raw := range q.List("type") {
			typ, err := enums.ParseLedgerEntryType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry type"))
				return
			}
			filter.Types = append(filter.Types, typ)
		}

		page, err := svc.ListEntries(r.Context(), tenantID, filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// WalletCredit applies an operator credit (topup, refund, adjustment, bonus).
// The Idempotency-Key header doubles as the ledger replay key.
func WalletCredit(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req movementRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		typ := enums.LedgerEntryTypeAdjustment
		if req.Type != "" {
			typ = enums.LedgerEntryType(strings.ToLower(strings.TrimSpace(req.Type)))
		}

		entry, err := svc.Credit(r.Context(), ledger.CreditInput{
			TenantID:       tenantID,
			Amount:         req.Amount,
			Type:           typ,
			Reference:      req.Reference.toLedger(),
			Description:    validators.SanitizeString(req.Description, 500),
			Metadata:       dbtypes.NewMetadata(req.Metadata),
			ActorID:        operatorActor(r),
			IdempotencyKey: requestKey(r, "credit"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}

// WalletDebit spends available funds directly (usage or adjustment).
func WalletDebit(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req movementRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		typ := enums.LedgerEntryTypeUsage
		if req.Type != "" {
			typ = enums.LedgerEntryType(strings.ToLower(strings.TrimSpace(req.Type)))
		}

		entry, err := svc.Debit(r.Context(), ledger.DebitInput{
			TenantID:       tenantID,
			Amount:         req.Amount,
			Type:           typ,
			Reference:      req.Reference.toLedger(),
			Description:    validators.SanitizeString(req.Description, 500),
			Metadata:       dbtypes.NewMetadata(req.Metadata),
			ActorID:        operatorActor(r),
			IdempotencyKey: requestKey(r, "debit"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}
