package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/coinsacademy/topup-backend/api/responses"
	"github.com/coinsacademy/topup-backend/internal/delivery"
	pkgerrors "github.com/coinsacademy/topup-backend/pkg/errors"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

const maxCallbackBytes = 64 << 10

// ProviderCallbackService resolves signed delivery callbacks.
type ProviderCallbackService interface {
	HandleProviderCallback(ctx context.Context, raw []byte, signature string) (*delivery.Resolution, error)
}

type callbackAck struct {
	Result string `json:"result"`
}

// ProviderWebhook accepts delivery outcome callbacks from the provider.
// Duplicates and callbacks for attempts we do not know yet are acknowledged
// with 200 so the provider stops redelivering; the reconciliation poller
// settles those attempts.
func ProviderWebhook(svc ProviderCallbackService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(delivery.SignatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "provider signature missing"))
			return
		}

		res, err := svc.HandleProviderCallback(ctx, payload, signature)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeUnknownAttempt) {
				if logg != nil {
					logg.Warn(ctx, "provider callback for unknown attempt")
				}
				responses.WriteSuccess(w, callbackAck{Result: delivery.ResultUnknown})
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, "provider callback "+res.Result)
		}
		responses.WriteSuccess(w, callbackAck{Result: res.Result})
	}
}
