package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/dispatchly/dispatchly-backend/api/responses"
	stripewebhook "github.com/dispatchly/dispatchly-backend/internal/webhooks/stripe"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	pkgstripe "github.com/dispatchly/dispatchly-backend/pkg/stripe"
)

const maxWebhookBytes = 1 << 20

type StripeEventProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (*stripewebhook.Result, error)
}

// StripeWebhook hands the raw body to the processor. Anything other than a
// client error is reported as 500 so the gateway redelivers the event.
func StripeWebhook(svc StripeEventProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Process(ctx, payload, r.Header.Get(pkgstripe.SignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, retryable(err))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func retryable(err error) error {
	typed := pkgerrors.As(err)
	if typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeInvalidSignature, pkgerrors.CodeMissingMetadata, pkgerrors.CodeValidation, pkgerrors.CodeInternal:
			return err
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "process webhook")
}
