package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/custody-backend/api/responses"
	"github.com/angelmondragon/custody-backend/api/validators"
	"github.com/angelmondragon/custody-backend/internal/ledger"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/custody-backend/pkg/db/types"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/pagination"
)

// HoldService is the slice of the ledger the hold routes use.
type HoldService interface {
	Hold(ctx context.Context, input ledger.HoldInput) (*models.LedgerEntry, error)
	Release(ctx context.Context, input ledger.ReleaseInput) (*models.LedgerEntry, error)
	Settle(ctx context.Context, input ledger.SettleInput) (*ledger.SettleResult, error)
	ListOpenHolds(ctx context.Context, tenantID *uuid.UUID, olderThan time.Time, limit int) ([]models.LedgerEntry, error)
}

type holdRequest struct {
	Amount      int64             `json:"amount"`
	Reference   referenceRequest  `json:"reference"`
	Description string            `json:"description" validate:"max=500"`
	Metadata    map[string]string `json:"metadata" validate:"max=32"`
}

type releaseRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type settleRequest struct {
	ActualAmount int64  `json:"actual_amount"`
	Description  string `json:"description" validate:"max=500"`
}

// HoldCreate reserves funds. A reference makes the hold idempotent, so a
// dispatcher retry returns the original hold.
func HoldCreate(svc HoldService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req holdRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Hold(r.Context(), ledger.HoldInput{
			TenantID:    tenantID,
			Amount:      req.Amount,
			Reference:   req.Reference.toLedger(),
			Description: validators.SanitizeString(req.Description, 500),
			Metadata:    dbtypes.NewMetadata(req.Metadata),
			ActorID:     operatorActor(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}

func HoldRelease(svc HoldService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		holdID, err := uuidParam(r, "holdID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req releaseRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := svc.Release(r.Context(), ledger.ReleaseInput{
			TenantID:    tenantID,
			HoldEntryID: holdID,
			Reason:      validators.SanitizeString(req.Reason, 500),
			ActorID:     operatorActor(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entry)
	}
}

func HoldSettle(svc HoldService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		holdID, err := uuidParam(r, "holdID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req settleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Settle(r.Context(), ledger.SettleInput{
			TenantID:     tenantID,
			HoldEntryID:  holdID,
			ActualAmount: req.ActualAmount,
			Description:  validators.SanitizeString(req.Description, 500),
			ActorID:      operatorActor(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// HoldsOpen lists the tenant's unsettled holds, oldest first. older_than is
// optional.
func HoldsOpen(svc HoldService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q := validators.NewQuery(r)
		olderThan := q.Time("older_than")
		limit := q.Int("limit", pagination.MaxLimit, 1, pagination.MaxLimit)
		if err := q.Err(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		holds, err := svc.ListOpenHolds(r.Context(), &tenantID, olderThan, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"holds": holds})
	}
}
