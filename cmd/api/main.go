package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dispatchly/dispatchly-backend/api"
	"github.com/dispatchly/dispatchly-backend/api/routes"
	"github.com/dispatchly/dispatchly-backend/internal/billing"
	"github.com/dispatchly/dispatchly-backend/internal/credits"
	"github.com/dispatchly/dispatchly-backend/internal/deliverycode"
	"github.com/dispatchly/dispatchly-backend/internal/notifications"
	"github.com/dispatchly/dispatchly-backend/internal/orders"
	stripewebhook "github.com/dispatchly/dispatchly-backend/internal/webhooks/stripe"
	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db"
	"github.com/dispatchly/dispatchly-backend/pkg/instance"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
	"github.com/dispatchly/dispatchly-backend/pkg/migrate"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/idempotency"
	"github.com/dispatchly/dispatchly-backend/pkg/redis"
	pkgstripe "github.com/dispatchly/dispatchly-backend/pkg/stripe"
)

const (
	serviceName             = "api"
	webhookIdempotencyScope = "stripe-webhook"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "reading .env:", err)
	}
	if err := run(); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "api server stopped", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceName
	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer dbClient.Close()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer redisClient.Close()

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return fmt.Errorf("bootstrap stripe: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router, err := buildRouter(cfg, logg, dbClient, redisClient, stripeClient, promRegistry)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	server := api.NewServer(cfg, router)
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     server.Addr,
		"instance": instance.ID(),
	})
	logg.Info(ctx, "api.listening")
	if err := api.Serve(ctx, server, cfg.App.ShutdownTimeout); err != nil {
		return err
	}
	logg.Info(ctx, "api.stopped")
	return nil
}

func buildRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	stripeClient *pkgstripe.Client,
	registry *prometheus.Registry,
) (http.Handler, error) {
	gdb := dbClient.DB()
	domainMetrics := metrics.NewDomainMetrics(registry)
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logg)

	creditsSvc, err := credits.NewService(credits.ServiceParams{
		Repo:    credits.NewRepository(gdb),
		Tx:      dbClient,
		Outbox:  outboxSvc,
		Logger:  logg,
		Metrics: domainMetrics,
	})
	if err != nil {
		return nil, err
	}

	codesSvc, err := deliverycode.NewService(deliverycode.ServiceParams{
		Repo:    deliverycode.NewRepository(gdb),
		Tx:      dbClient,
		Outbox:  outboxSvc,
		Logger:  logg,
		Metrics: domainMetrics,
	})
	if err != nil {
		return nil, err
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:    orders.NewRepository(gdb),
		Tx:      dbClient,
		Outbox:  outboxSvc,
		Access:  creditsSvc,
		Codes:   codesSvc,
		Policy:  cfg.OrderPolicy,
		Logger:  logg,
		Metrics: domainMetrics,
	})
	if err != nil {
		return nil, err
	}

	billingRepo := billing.NewRepository(gdb)
	billingSvc, err := billing.NewService(billing.ServiceParams{
		Repo:     billingRepo,
		Sessions: pkgstripe.NewCheckoutSessionCreator(stripeClient),
		Checkout: cfg.Checkout,
		Timeout:  cfg.Stripe.Timeout,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}

	tracker, err := idempotency.NewManager(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		return nil, err
	}
	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo: billingRepo,
		Credits:     creditsSvc,
		Verifier:    pkgstripe.VerifierFromClient(stripeClient),
		Guard:       tracker.Scoped(webhookIdempotencyScope),
		Tx:          dbClient,
		Logger:      logg,
		Metrics:     domainMetrics,
	})
	if err != nil {
		return nil, err
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(gdb))
	if err != nil {
		return nil, err
	}

	return routes.NewRouter(routes.RouterParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		Metrics:       registry,
		Orders:        ordersSvc,
		DeliveryCodes: codesSvc,
		Billing:       billingSvc,
		Credits:       creditsSvc,
		CreditGrants:  creditsSvc,
		Webhooks:      webhookSvc,
		Notifications: notificationsSvc,
	}), nil
}
