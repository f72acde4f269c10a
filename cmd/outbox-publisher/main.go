package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dispatchly/dispatchly-backend/api"
	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db"
	"github.com/dispatchly/dispatchly-backend/pkg/instance"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
	"github.com/dispatchly/dispatchly-backend/pkg/migrate"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/registry"
	"github.com/dispatchly/dispatchly-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "reading .env:", err)
	}
	if err := run(); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "outbox publisher stopped", err)
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
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer dbClient.Close()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer pubsubClient.Close()

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	relay, err := NewRelay(RelayParams{
		Outbox:  cfg.Outbox,
		Logger:  logg,
		DB:      dbClient,
		PubSub:  pubsubClient,
		Rows:    outbox.NewRepository(dbClient.DB()),
		DLQ:     outbox.NewDLQRepository(dbClient.DB()),
		Events:  events,
		Metrics: metrics.NewDomainMetrics(promRegistry),
	})
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return api.Serve(gctx, api.MetricsServer(cfg, promRegistry), cfg.App.ShutdownTimeout)
	})
	group.Go(func() error {
		logg.Info(gctx, "outbox.relay_started")
		if err := relay.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		logg.Info(gctx, "outbox.relay_stopped")
		return nil
	})
	return group.Wait()
}
