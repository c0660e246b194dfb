package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/custody-backend/api/responses"
	"github.com/angelmondragon/custody-backend/internal/webhooks"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
)

const (
	EventIDHeader   = "X-Webhook-Id"
	SignatureHeader = "X-Webhook-Signature"
)

// IngestService records and applies provider notifications.
type IngestService interface {
	Ingest(ctx context.Context, input webhooks.IngestInput) (*webhooks.IngestResult, error)
}

// Ingest accepts a signed provider notification. Duplicates answer 200 with
// accepted=false so providers stop redelivering; a bad signature answers 401.
func Ingest(svc IngestService, maxBody int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		// One byte past the cap is enough for the service to reject oversize payloads.
		var body io.Reader = r.Body
		if maxBody > 0 {
			body = io.LimitReader(r.Body, maxBody+1)
		}
		payload, err := io.ReadAll(body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Ingest(ctx, webhooks.IngestInput{
			EventID:   strings.TrimSpace(r.Header.Get(EventIDHeader)),
			Provider:  chi.URLParam(r, "provider"),
			Payload:   payload,
			Signature: r.Header.Get(SignatureHeader),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
