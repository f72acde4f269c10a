package deliveries

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dispatchly/dispatchly-backend/api/middleware"
	"github.com/dispatchly/dispatchly-backend/api/responses"
	"github.com/dispatchly/dispatchly-backend/api/validators"
	"github.com/dispatchly/dispatchly-backend/internal/deliverycode"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
)

// CodeService is the delivery code surface exposed over HTTP.
type CodeService interface {
	Validate(ctx context.Context, input deliverycode.ValidateInput) (*deliverycode.ValidateResult, error)
	ResetLockout(ctx context.Context, deliveryID uuid.UUID, actor deliverycode.Actor) (*deliverycode.ResetResult, error)
	RequestResend(ctx context.Context, deliveryID uuid.UUID, actor deliverycode.Actor) error
}

type validateRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type resendResponse struct {
	DeliveryID uuid.UUID `json:"deliveryId"`
	Requested  bool      `json:"requested"`
}

var errUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "delivery code service unavailable")

type deliveryCall func(w http.ResponseWriter, r *http.Request, deliveryID uuid.UUID, actor deliverycode.Actor) (int, any, error)

// forDelivery resolves the caller and {deliveryId} ahead of call.
func forDelivery(svc CodeService, logg *logger.Logger, call deliveryCall) http.HandlerFunc {
	return responses.Handle(logg, func(w http.ResponseWriter, r *http.Request) (int, any, error) {
		if svc == nil {
			return 0, nil, errUnavailable
		}
		userID, role, err := middleware.Caller(r)
		if err != nil {
			return 0, nil, err
		}
		deliveryID, err := validators.ParseUUIDParam(r, "deliveryId")
		if err != nil {
			return 0, nil, err
		}
		return call(w, r, deliveryID, deliverycode.Actor{UserID: userID, Role: role})
	})
}

// Validate checks a handoff code submitted by the assigned driver.
// Failures carry their own codes: INVALID_CODE with attemptsRemaining, ATTEMPTS_EXCEEDED, ALREADY_VALIDATED, NOT_ASSIGNED.
func Validate(svc CodeService, logg *logger.Logger) http.HandlerFunc {
	return forDelivery(svc, logg, func(w http.ResponseWriter, r *http.Request, deliveryID uuid.UUID, actor deliverycode.Actor) (int, any, error) {
		var req validateRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			return 0, nil, err
		}
		result, err := svc.Validate(r.Context(), deliverycode.ValidateInput{
			DeliveryID: deliveryID,
			DriverID:   actor.UserID,
			Code:       req.Code,
		})
		return http.StatusOK, result, err
	})
}

// AdminResetCode clears a lockout by issuing a fresh code.
func AdminResetCode(svc CodeService, logg *logger.Logger) http.HandlerFunc {
	return forDelivery(svc, logg, func(_ http.ResponseWriter, r *http.Request, deliveryID uuid.UUID, actor deliverycode.Actor) (int, any, error) {
		result, err := svc.ResetLockout(r.Context(), deliveryID, actor)
		return http.StatusOK, result, err
	})
}

func AdminResendCode(svc CodeService, logg *logger.Logger) http.HandlerFunc {
	return forDelivery(svc, logg, func(_ http.ResponseWriter, r *http.Request, deliveryID uuid.UUID, actor deliverycode.Actor) (int, any, error) {
		if err := svc.RequestResend(r.Context(), deliveryID, actor); err != nil {
			return 0, nil, err
		}
		return http.StatusAccepted, resendResponse{DeliveryID: deliveryID, Requested: true}, nil
	})
}
