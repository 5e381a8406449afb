package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/tradeyard-app/tradeyard-backend/api/responses"
	pkgerrors "github.com/tradeyard-app/tradeyard-backend/pkg/errors"
	"github.com/tradeyard-app/tradeyard-backend/pkg/logger"
)

// StripeWebhookService consumes a raw Stripe delivery. Signature checking,
// dedup, and metadata routing all live behind it.
type StripeWebhookService interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) error
}

// maxWebhookBody caps how much of a delivery we are willing to read.
const maxWebhookBody = 1 << 20

// StripeWebhook receives payment confirmations from Stripe.
func StripeWebhook(svc StripeWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		if err := svc.Handle(ctx, payload, sigHeader); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "received"})
	}
}
