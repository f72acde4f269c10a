package billing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchly/dispatchly-backend/api/middleware"
	"github.com/dispatchly/dispatchly-backend/api/responses"
	"github.com/dispatchly/dispatchly-backend/api/validators"
	billingsvc "github.com/dispatchly/dispatchly-backend/internal/billing"
	"github.com/dispatchly/dispatchly-backend/internal/credits"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/pagination"
)

// CheckoutService describes the billing methods used by the HTTP controllers.
type CheckoutService interface {
	ListPlans(ctx context.Context, role enums.UserRole) ([]billingsvc.Plan, error)
	CreateCheckoutSession(ctx context.Context, input billingsvc.CheckoutInput) (*billingsvc.CheckoutSession, error)
}

// CreditsReader exposes the caller's own credit status.
type CreditsReader interface {
	Get(ctx context.Context, userID uuid.UUID, role enums.UserRole) (*credits.Status, error)
}

// GrantLister reads a user's credit audit trail for operators.
type GrantLister interface {
	ListGrants(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditGrant, error)
}

const defaultGrantLimit = 20

var errBillingUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable")

type checkoutSessionRequest struct {
	PlanKey    string `json:"planKey" validate:"required,max=64"`
	SuccessURL string `json:"successUrl" validate:"required"`
	CancelURL  string `json:"cancelUrl" validate:"required"`
}

type planListResponse struct {
	Plans []billingsvc.Plan `json:"plans"`
}

type creditsResponse struct {
	ValidUntil string `json:"validUntil"`
	HasAccess  bool   `json:"hasAccess"`
}

type grantResponse struct {
	ID                 uuid.UUID          `json:"id"`
	Days               int                `json:"days"`
	PreviousValidUntil *time.Time         `json:"previousValidUntil,omitempty"`
	NewValidUntil      time.Time          `json:"newValidUntil"`
	Source             enums.CreditSource `json:"source"`
	SourceRef          *string            `json:"sourceRef,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
}

type grantListResponse struct {
	UserID uuid.UUID       `json:"userId"`
	Grants []grantResponse `json:"grants"`
}

// CheckoutSession opens a hosted payment page for a plan. Credits are granted later by the webhook.
func CheckoutSession(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, func(w http.ResponseWriter, r *http.Request) (int, any, error) {
		if svc == nil {
			return 0, nil, errBillingUnavailable
		}
		userID, role, err := middleware.Caller(r)
		if err != nil {
			return 0, nil, err
		}
		var req checkoutSessionRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			return 0, nil, err
		}

		session, err := svc.CreateCheckoutSession(r.Context(), billingsvc.CheckoutInput{
			UserID:     userID,
			Role:       role,
			PlanKey:    strings.TrimSpace(req.PlanKey),
			SuccessURL: strings.TrimSpace(req.SuccessURL),
			CancelURL:  strings.TrimSpace(req.CancelURL),
		})
		return http.StatusCreated, session, err
	})
}

// Plans lists the active catalogue for the caller's role.
func Plans(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, func(_ http.ResponseWriter, r *http.Request) (int, any, error) {
		if svc == nil {
			return 0, nil, errBillingUnavailable
		}
		_, role, err := middleware.Caller(r)
		if err != nil {
			return 0, nil, err
		}
		plans, err := svc.ListPlans(r.Context(), role)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, planListResponse{Plans: plans}, nil
	})
}

// CreditsMe reports the caller's expiry; 404 until the first purchase.
func CreditsMe(svc CreditsReader, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, func(_ http.ResponseWriter, r *http.Request) (int, any, error) {
		if svc == nil {
			return 0, nil, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable")
		}
		userID, role, err := middleware.Caller(r)
		if err != nil {
			return 0, nil, err
		}
		status, err := svc.Get(r.Context(), userID, role)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, creditsResponse{
			ValidUntil: status.ValidUntil.UTC().Format(time.RFC3339),
			HasAccess:  status.HasAccess,
		}, nil
	})
}

// AdminCreditGrants lists the newest credit extensions recorded for a user.
func AdminCreditGrants(svc GrantLister, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, func(_ http.ResponseWriter, r *http.Request) (int, any, error) {
		if svc == nil {
			return 0, nil, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable")
		}
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			return 0, nil, err
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultGrantLimit, 1, pagination.MaxLimit)
		if err != nil {
			return 0, nil, err
		}
		grants, err := svc.ListGrants(r.Context(), userID, limit)
		if err != nil {
			return 0, nil, err
		}

		out := grantListResponse{UserID: userID, Grants: make([]grantResponse, 0, len(grants))}
		for _, g := range grants {
			out.Grants = append(out.Grants, grantResponse{
				ID:                 g.ID,
				Days:               g.Days,
				PreviousValidUntil: g.PreviousValidUntil,
				NewValidUntil:      g.NewValidUntil.UTC(),
				Source:             g.Source,
				SourceRef:          g.SourceRef,
				CreatedAt:          g.CreatedAt.UTC(),
			})
		}
		return http.StatusOK, out, nil
	})
}
