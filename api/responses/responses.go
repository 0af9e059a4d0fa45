package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/types"
)

// RequestIDHeader is echoed into error bodies so support can find the log line.
const RequestIDHeader = "X-Request-Id"

// publicMessageCodes keep their own message in the response body. Every other
// code answers with the generic text from its metadata.
var publicMessageCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:             true,
	pkgerrors.CodeForbidden:              true,
	pkgerrors.CodeUnauthorized:           true,
	pkgerrors.CodeNotFound:               true,
	pkgerrors.CodeConflict:               true,
	pkgerrors.CodeStateConflict:          true,
	pkgerrors.CodeIdempotency:            true,
	pkgerrors.CodeRateLimit:              true,
	pkgerrors.CodeInsufficientFunds:      true,
	pkgerrors.CodeInvalidFulfillmentData: true,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError maps err onto its HTTP status and public envelope. 5xx answers
// are logged at error level with the unwrapped chain, 4xx at warn.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := types.APIError{
		Code:      string(typed.Code()),
		Message:   meta.PublicMessage,
		Retryable: meta.Retryable,
	}
	if publicMessageCodes[typed.Code()] && typed.Message() != "" {
		apiErr.Message = typed.Message()
	}
	if meta.DetailsAllowed && typed.Details() != nil {
		apiErr.Details = typed.Details()
	}

	if logg != nil {
		logError(ctx, logg, err, meta.HTTPStatus)
	}

	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{
		Error:     apiErr,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

func logError(ctx context.Context, logg *logger.Logger, err error, status int) {
	fields := pkgerrors.Dump(err).Fields(status >= http.StatusInternalServerError)
	fields["http_status"] = status
	if status < http.StatusInternalServerError {
		logg.Warn(logg.WithFields(ctx, fields), "request.rejected")
		return
	}
	delete(fields, "error")
	logg.Error(logg.WithFields(ctx, fields), "request.error", err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
