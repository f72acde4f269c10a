package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dispatchly/dispatchly-backend/api/controllers"
	billingcontrollers "github.com/dispatchly/dispatchly-backend/api/controllers/billing"
	deliverycontrollers "github.com/dispatchly/dispatchly-backend/api/controllers/deliveries"
	ordercontrollers "github.com/dispatchly/dispatchly-backend/api/controllers/orders"
	webhookcontrollers "github.com/dispatchly/dispatchly-backend/api/controllers/webhooks"
	"github.com/dispatchly/dispatchly-backend/api/middleware"
	"github.com/dispatchly/dispatchly-backend/internal/notifications"
	"github.com/dispatchly/dispatchly-backend/internal/orders"
	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type redisClient interface {
	pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// deliveryCodes covers both the driver/admin endpoints and the company handoff view.
type deliveryCodes interface {
	deliverycontrollers.CodeService
	ordercontrollers.CodeReader
}

// RouterParams carries everything cmd/api constructs for the HTTP surface.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            pinger
	Redis         redisClient
	Metrics       prometheus.Gatherer
	Orders        orders.Service
	DeliveryCodes deliveryCodes
	Billing       billingcontrollers.CheckoutService
	Credits       billingcontrollers.CreditsReader
	CreditGrants  billingcontrollers.GrantLister
	Webhooks      webhookcontrollers.StripeEventProcessor
	Notifications notifications.Service
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	codePolicy := middleware.NewRateLimitPolicy(
		"delivery_code",
		"deliveryId",
		cfg.RateLimit.CodeWindow,
		cfg.RateLimit.CodeLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})
	if p.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Metrics, promhttp.HandlerOpts{}))
	}

	// Stripe authenticates by signature, not bearer token.
	r.Post("/api/v1/webhooks/stripe", webhookcontrollers.StripeWebhook(p.Webhooks, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, enums.UserRoleCompany)).
				Post("/", ordercontrollers.Create(p.Orders, logg))
			r.With(middleware.RequireRole(logg, enums.UserRoleDriver)).
				Get("/pending", ordercontrollers.PendingFeed(p.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
			r.With(middleware.RequireRole(logg, enums.UserRoleDriver)).
				Post("/{orderId}/accept", ordercontrollers.Accept(p.Orders, logg))
			r.Post("/{orderId}/transition", ordercontrollers.Transition(p.Orders, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(p.Orders, logg))
			r.With(middleware.RequireRole(logg, enums.UserRoleCompany)).
				Get("/{orderId}/delivery-codes", ordercontrollers.DeliveryCodes(p.DeliveryCodes, logg))
		})

		r.With(
			middleware.RequireRole(logg, enums.UserRoleDriver),
			middleware.RateLimit(codePolicy, p.Redis, logg),
		).Post("/deliveries/{deliveryId}/validate", deliverycontrollers.Validate(p.DeliveryCodes, logg))

		r.Route("/billing", func(r chi.Router) {
			r.Get("/plans", billingcontrollers.Plans(p.Billing, logg))
			r.With(middleware.RequireRole(logg, enums.UserRoleCompany, enums.UserRoleDriver)).
				Post("/checkout-session", billingcontrollers.CheckoutSession(p.Billing, logg))
		})
		r.Get("/credits/me", billingcontrollers.CreditsMe(p.Credits, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
		r.Post("/deliveries/{deliveryId}/reset-code", deliverycontrollers.AdminResetCode(p.DeliveryCodes, logg))
		r.Post("/deliveries/{deliveryId}/resend-code", deliverycontrollers.AdminResendCode(p.DeliveryCodes, logg))
		r.Get("/credits/{userId}/grants", billingcontrollers.AdminCreditGrants(p.CreditGrants, logg))
	})

	return r
}
