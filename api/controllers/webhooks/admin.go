package webhooks

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/custody-backend/api/middleware"
	"github.com/angelmondragon/custody-backend/api/responses"
	"github.com/angelmondragon/custody-backend/api/validators"
	"github.com/angelmondragon/custody-backend/internal/webhooks"
	"github.com/angelmondragon/custody-backend/pkg/db/models"
	"github.com/angelmondragon/custody-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/pagination"
)

// AdminService is the operator view over the dedup records.
type AdminService interface {
	Reprocess(ctx context.Context, eventID, actorID string) (*webhooks.IngestResult, error)
	Get(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	List(ctx context.Context, filter webhooks.ListFilter) ([]models.WebhookEvent, error)
}

// List filters by provider, result (comma separated) and before.
func List(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := validators.NewQuery(r)
		filter := webhooks.ListFilter{
			Provider: strings.ToLower(q.String("provider")),
			Before:   q.Time("before"),
			Limit:    q.Int("limit", pagination.DefaultLimit, 1, pagination.MaxLimit),
		}
		if err := q.Err(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		for _, raw := range q.List("result") {
			result, err := enums.ParseWebhookResult(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid result filter"))
				return
			}
			filter.Results = append(filter.Results, result)
		}

		records, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"events": records})
	}
}

func Detail(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, err := svc.Get(r.Context(), chi.URLParam(r, "eventID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// Reprocess retries a record stuck in error or received.
func Reprocess(svc AdminService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := "operator:" + middleware.OperatorIDFromContext(r.Context())
		result, err := svc.Reprocess(r.Context(), chi.URLParam(r, "eventID"), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
