package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dispatchly/dispatchly-backend/api/middleware"
	"github.com/dispatchly/dispatchly-backend/api/responses"
	"github.com/dispatchly/dispatchly-backend/api/validators"
	"github.com/dispatchly/dispatchly-backend/internal/deliverycode"
	internalorders "github.com/dispatchly/dispatchly-backend/internal/orders"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/pagination"
)

// CodeReader is the slice of the delivery code service the company handoff view needs.
type CodeReader interface {
	CodesForOrder(ctx context.Context, orderID uuid.UUID, actor deliverycode.Actor) ([]deliverycode.DeliveryCode, error)
}

type deliveryRequest struct {
	PickupAddress  string          `json:"pickupAddress" validate:"required"`
	DropoffAddress string          `json:"dropoffAddress" validate:"required"`
	PackageType    string          `json:"packageType" validate:"required"`
	SuggestedPrice decimal.Decimal `json:"suggestedPrice"`
}

type createOrderRequest struct {
	City       string            `json:"city" validate:"required"`
	State      string            `json:"state" validate:"required"`
	TotalValue decimal.Decimal   `json:"totalValue"`
	Deliveries []deliveryRequest `json:"deliveries" validate:"required,min=1,dive"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=pending accepted driver_completed completed cancelled"`
}

type codesResponse struct {
	OrderID uuid.UUID                   `json:"orderId"`
	Codes   []deliverycode.DeliveryCode `json:"codes"`
}

var (
	errOrdersUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable")
	errCodesUnavailable  = pkgerrors.New(pkgerrors.CodeInternal, "delivery code service unavailable")
)

func actorFrom(r *http.Request) (internalorders.Actor, error) {
	userID, role, err := middleware.Caller(r)
	return internalorders.Actor{UserID: userID, Role: role}, err
}

// scoped is an endpoint addressed at one order by an authenticated caller.
type scoped func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID, actor internalorders.Actor) (any, error)

// onOrder resolves the caller and the {orderId} path parameter before calling fn.
// ready is false when the backing service was never wired.
func onOrder(logg *logger.Logger, ready bool, unavailable error, fn scoped) http.HandlerFunc {
	return responses.Handle(logg, func(w http.ResponseWriter, r *http.Request) (int, any, error) {
		if !ready {
			return 0, nil, unavailable
		}
		actor, err := actorFrom(r)
		if err != nil {
			return 0, nil, err
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			return 0, nil, err
		}
		out, err := fn(w, r, orderID, actor)
		return http.StatusOK, out, err
	})
}

func (d deliveryRequest) input() internalorders.DeliveryInput {
	return internalorders.DeliveryInput{
		PickupAddress:  d.PickupAddress,
		DropoffAddress: d.DropoffAddress,
		PackageType:    enums.PackageType(strings.ToLower(strings.TrimSpace(d.PackageType))),
		SuggestedPrice: d.SuggestedPrice,
	}
}

// Create posts a new pending order for the calling company.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, func(w http.ResponseWriter, r *http.Request) (int, any, error) {
		if svc == nil {
			return 0, nil, errOrdersUnavailable
		}
		actor, err := actorFrom(r)
		if err != nil {
			return 0, nil, err
		}
		var req createOrderRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			return 0, nil, err
		}

		input := internalorders.CreateOrderInput{
			CompanyID:  actor.UserID,
			City:       strings.TrimSpace(req.City),
			State:      strings.TrimSpace(req.State),
			TotalValue: req.TotalValue,
			Deliveries: make([]internalorders.DeliveryInput, len(req.Deliveries)),
		}
		for i, d := range req.Deliveries {
			input.Deliveries[i] = d.input()
		}
		order, err := svc.Create(r.Context(), input)
		return http.StatusCreated, order, err
	})
}

// Detail returns one order to a party allowed to see it.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(logg, svc != nil, errOrdersUnavailable,
		func(_ http.ResponseWriter, r *http.Request, orderID uuid.UUID, actor internalorders.Actor) (any, error) {
			return svc.Detail(r.Context(), orderID, actor)
		})
}

// PendingFeed lists claimable orders, oldest first, optionally narrowed to a city and state.
func PendingFeed(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, func(_ http.ResponseWriter, r *http.Request) (int, any, error) {
		if svc == nil {
			return 0, nil, errOrdersUnavailable
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			return 0, nil, err
		}
		q := r.URL.Query()
		feed, err := svc.PendingFeed(r.Context(), internalorders.PendingFeedParams{
			City:   strings.TrimSpace(q.Get("city")),
			State:  strings.TrimSpace(q.Get("state")),
			Limit:  limit,
			Cursor: strings.TrimSpace(q.Get("cursor")),
		})
		return http.StatusOK, feed, err
	})
}

// Accept lets the calling driver claim a pending order. Losers of a race receive 409.
func Accept(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(logg, svc != nil, errOrdersUnavailable,
		func(_ http.ResponseWriter, r *http.Request, orderID uuid.UUID, actor internalorders.Actor) (any, error) {
			return svc.Accept(r.Context(), orderID, actor.UserID)
		})
}

// Transition moves an order to the requested status.
func Transition(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(logg, svc != nil, errOrdersUnavailable,
		func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID, actor internalorders.Actor) (any, error) {
			var req transitionRequest
			if err := validators.DecodeJSONBody(w, r, &req); err != nil {
				return nil, err
			}
			return svc.Transition(r.Context(), internalorders.TransitionInput{
				OrderID: orderID,
				Target:  enums.OrderStatus(req.Status),
				Actor:   actor,
			})
		})
}

func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(logg, svc != nil, errOrdersUnavailable,
		func(_ http.ResponseWriter, r *http.Request, orderID uuid.UUID, actor internalorders.Actor) (any, error) {
			return svc.Cancel(r.Context(), orderID, actor)
		})
}

// DeliveryCodes hands the plaintext codes to the owning company so it can pass them to recipients.
func DeliveryCodes(codes CodeReader, logg *logger.Logger) http.HandlerFunc {
	return onOrder(logg, codes != nil, errCodesUnavailable,
		func(w http.ResponseWriter, r *http.Request, orderID uuid.UUID, actor internalorders.Actor) (any, error) {
			list, err := codes.CodesForOrder(r.Context(), orderID, deliverycode.Actor{UserID: actor.UserID, Role: actor.Role})
			if err != nil {
				return nil, err
			}
			w.Header().Set("Cache-Control", "no-store")
			return codesResponse{OrderID: orderID, Codes: list}, nil
		})
}
