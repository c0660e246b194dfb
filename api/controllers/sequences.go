package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/custody-backend/api/responses"
	"github.com/angelmondragon/custody-backend/api/validators"
	"github.com/angelmondragon/custody-backend/internal/sequences"
	"github.com/angelmondragon/custody-backend/pkg/logger"
)

// SequenceService allocates and inspects document numbers.
type SequenceService interface {
	Next(ctx context.Context, key sequences.Key) (*sequences.Issued, error)
	Peek(ctx context.Context, prefix string, year, month int) (*sequences.Issued, error)
	List(ctx context.Context, prefix string) ([]sequences.Issued, error)
}

type sequenceRequest struct {
	Prefix string `json:"prefix" validate:"required,max=16"`
	Year   int    `json:"year" validate:"required"`
	Month  int    `json:"month" validate:"required"`
}

// SequenceNext allocates the next number. Replays are served by the
// idempotency middleware so a retried call never burns a second number.
func SequenceNext(svc SequenceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sequenceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := sequences.NewKey(req.Prefix, req.Year, req.Month)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		issued, err := svc.Next(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, issued)
	}
}

// SequencePeek returns the last issued number for a period without allocating.
func SequencePeek(svc SequenceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := validators.NewQuery(r)
		year := q.Int("year", 0, 1970, 9999)
		month := q.Int("month", 0, 1, 12)
		prefix := q.String("prefix")
		q.Check((year == 0) == (month == 0), "month", "year and month must be given together")
		if err := q.Err(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if year == 0 || month == 0 {
			issued, err := svc.List(r.Context(), prefix)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, map[string]any{"counters": issued})
			return
		}
		issued, err := svc.Peek(r.Context(), prefix, year, month)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, issued)
	}
}
