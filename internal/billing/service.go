package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/checkout"
	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	pkgstripe "github.com/dispatchly/dispatchly-backend/pkg/stripe"
)

// Metadata keys read back by the webhook processor.
const (
	MetadataUserID  = "user_id"
	MetadataPlanKey = "plan_key"
)

const defaultCheckoutTimeout = 30 * time.Second

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo     Repository
	Sessions pkgstripe.CheckoutSessionCreator
	Checkout config.CheckoutConfig
	Timeout  time.Duration
	Logger   *logger.Logger
}

// Service sells prepaid plans through hosted checkout.
type Service struct {
	repo     Repository
	sessions pkgstripe.CheckoutSessionCreator
	allow    checkout.HostAllowList
	currency string
	timeout  time.Duration
	logg     *logger.Logger
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Sessions == nil {
		return nil, errors.New("checkout session creator is required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultCheckoutTimeout
	}
	currency := strings.ToLower(strings.TrimSpace(params.Checkout.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		repo:     params.Repo,
		sessions: params.Sessions,
		allow:    checkout.NewHostAllowList(params.Checkout.AllowedHosts),
		currency: currency,
		timeout:  timeout,
		logg:     params.Logger,
	}, nil
}

type Plan struct {
	Key          string         `json:"key"`
	Name         string         `json:"name"`
	TargetRole   enums.UserRole `json:"targetRole"`
	DurationDays int            `json:"durationDays"`
	Price        string         `json:"price"`
	Currency     string         `json:"currency"`
}

type CheckoutInput struct {
	UserID     uuid.UUID
	Role       enums.UserRole
	PlanKey    string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// ListPlans returns active plans; admins see the whole catalogue.
func (s *Service) ListPlans(ctx context.Context, role enums.UserRole) ([]Plan, error) {
	filter := role
	if role == enums.UserRoleAdmin {
		filter = ""
	}
	rows, err := s.repo.ListActivePlans(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	plans := make([]Plan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, toPlan(row))
	}
	return plans, nil
}

// ResolvePlan loads an active plan by key.
func (s *Service) ResolvePlan(ctx context.Context, key string) (*models.BillingPlan, error) {
	plan, err := s.repo.FindPlanByKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if !plan.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

// CreateCheckoutSession validates callbacks and plan before the gateway is contacted.
// Nothing is written locally; credits are granted only by the webhook.
func (s *Service) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutSession, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	key := strings.TrimSpace(input.PlanKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan key required").
			WithDetails(map[string]any{"field": "planKey"})
	}
	if err := checkout.ValidateCallbackURLs(s.allow, checkout.CallbackURLs{
		SuccessURL: input.SuccessURL,
		CancelURL:  input.CancelURL,
	}); err != nil {
		return nil, err
	}

	plan, err := s.ResolvePlan(ctx, key)
	if err != nil {
		return nil, err
	}
	if plan.TargetRole != input.Role {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "plan not available for role").
			WithDetails(map[string]any{"reason": "plan_role_mismatch"})
	}

	params := s.sessionParams(input, plan)
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.sessions.CreateCheckoutSession(callCtx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "payment gateway timed out")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	if session == nil || session.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "checkout session missing url")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":    input.UserID.String(),
			"plan_key":   plan.Key,
			"session_id": session.ID,
		})
		s.logg.Info(logCtx, "billing.checkout_session_created")
	}
	return &CheckoutSession{URL: session.URL, SessionID: session.ID}, nil
}

func (s *Service) sessionParams(input CheckoutInput, plan *models.BillingPlan) *stripe.CheckoutSessionParams {
	lineItem := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if plan.StripePriceID != nil && *plan.StripePriceID != "" {
		lineItem.Price = plan.StripePriceID
	} else {
		currency := plan.Currency
		if currency == "" {
			currency = s.currency
		}
		lineItem.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(currency),
			UnitAmount: stripe.Int64(minorUnits(plan.Price)),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(plan.Name),
			},
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(strings.TrimSpace(input.SuccessURL)),
		CancelURL:         stripe.String(strings.TrimSpace(input.CancelURL)),
		ClientReferenceID: stripe.String(input.UserID.String()),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{lineItem},
	}
	params.AddMetadata(MetadataUserID, input.UserID.String())
	params.AddMetadata(MetadataPlanKey, plan.Key)
	return params
}

func minorUnits(price decimal.Decimal) int64 {
	return price.Shift(2).Round(0).IntPart()
}

func toPlan(row models.BillingPlan) Plan {
	return Plan{
		Key:          row.Key,
		Name:         row.Name,
		TargetRole:   row.TargetRole,
		DurationDays: row.DurationDays,
		Price:        row.Price.StringFixed(2),
		Currency:     row.Currency,
	}
}
