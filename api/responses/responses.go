package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
	"github.com/angelmondragon/custody-backend/pkg/types"
)

// publicMessageCodes pass the typed message through instead of the generic
// public one; they describe caller mistakes or business rejections.
var publicMessageCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:         true,
	pkgerrors.CodeForbidden:          true,
	pkgerrors.CodeUnauthorized:       true,
	pkgerrors.CodeNotFound:           true,
	pkgerrors.CodeConflict:           true,
	pkgerrors.CodeInvalidAmount:      true,
	pkgerrors.CodeInsufficientFunds:  true,
	pkgerrors.CodeHoldNotFound:       true,
	pkgerrors.CodeHoldAlreadySettled: true,
	pkgerrors.CodeDuplicateEvent:     true,
	pkgerrors.CodeSignatureInvalid:   true,
	pkgerrors.CodePolicyDenied:       true,
	pkgerrors.CodeApprovalRequired:   true,
	pkgerrors.CodeRateLimit:          true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError maps err onto its public envelope. Server faults log at error;
// rejections the caller caused log at info.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if publicMessageCodes[typed.Code()] {
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:      string(typed.Code()),
			Message:   msg,
			Retryable: meta.Retryable,
		},
	}

	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	if logg != nil {
		dump := pkgerrors.Dump(err)
		if meta.HTTPStatus >= http.StatusInternalServerError {
			fields := dump.LogFields()
			fields["status"] = meta.HTTPStatus
			logg.Error(logg.WithFields(ctx, fields), "request.error", err)
		} else {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"error_code": dump.Code,
				"status":     meta.HTTPStatus,
				"error":      dump.TopMessage,
			}), "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
