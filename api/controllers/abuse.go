package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/custody-backend/api/middleware"
	"github.com/angelmondragon/custody-backend/api/responses"
	"github.com/angelmondragon/custody-backend/api/validators"
	"github.com/angelmondragon/custody-backend/internal/abuse"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/pagination"
)

// AbuseService is the slice of the abuse engine exposed over HTTP.
type AbuseService interface {
	RecordEvent(ctx context.Context, input abuse.RecordInput) (*models.AbuseScore, error)
	Decay(ctx context.Context, tenantID uuid.UUID, now time.Time) (*models.AbuseScore, error)
	Status(ctx context.Context, tenantID uuid.UUID) (*abuse.Status, error)
	SetApproval(ctx context.Context, tenantID uuid.UUID, status enums.ApprovalStatus, actorID string) (*models.AbuseScore, error)
	ListEvents(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.AbuseEvent, error)
}

type abuseEventRequest struct {
	Weight decimal.Decimal `json:"weight"`
	Reason string          `json:"reason" validate:"required,notblank,max=500"`
}

type approvalRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
}

// TenantPolicy returns the tenant's score and the spend decision it yields.
func TenantPolicy(svc AbuseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := svc.Status(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func AbuseEventCreate(svc AbuseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req abuseEventRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		score, err := svc.RecordEvent(r.Context(), abuse.RecordInput{
			TenantID: tenantID,
			Weight:   req.Weight,
			Reason:   validators.SanitizeString(req.Reason, 500),
			ActorID:  operatorActor(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, abuse.Status{Score: score, Decision: abuse.Decide(score)})
	}
}

func AbuseEventList(svc AbuseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		q := validators.NewQuery(r)
		limit := q.Int("limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err := q.Err(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		events, err := svc.ListEvents(r.Context(), tenantID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"events": events})
	}
}

// AbuseApproval sets the manual override. It holds until the next recorded event.
func AbuseApproval(svc AbuseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !middleware.RoleFromContext(r.Context()).CanOverridePolicy() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "policy override requires admin role"))
			return
		}
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req approvalRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := enums.ApprovalStatus(strings.ToLower(req.Status))
		score, err := svc.SetApproval(r.Context(), tenantID, status, operatorActor(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, abuse.Status{Score: score, Decision: abuse.Decide(score)})
	}
}

// AbuseDecay applies pending decay for one tenant now instead of waiting for
// the cron sweep.
func AbuseDecay(svc AbuseService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := requireTenant(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		score, err := svc.Decay(r.Context(), tenantID, time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, abuse.Status{Score: score, Decision: abuse.Decide(score)})
	}
}
