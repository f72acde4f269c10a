package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dispatchly/dispatchly-backend/api"
	"github.com/dispatchly/dispatchly-backend/internal/notifications"
	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db"
	"github.com/dispatchly/dispatchly-backend/pkg/instance"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/migrate"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/idempotency"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox/registry"
	"github.com/dispatchly/dispatchly-backend/pkg/pubsub"
	"github.com/dispatchly/dispatchly-backend/pkg/redis"
)

const serviceName = "worker"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "reading .env:", err)
	}
	if err := run(); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "worker stopped", err)
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

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer pubsubClient.Close()

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	tracker, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	if err != nil {
		return err
	}

	var subs []*pubsubv2.Subscriber
	for _, name := range pubsub.SubscriptionNames(cfg.PubSub) {
		subs = append(subs, pubsubClient.Subscription(name))
	}
	inbox, err := notifications.NewConsumer(notifications.ConsumerParams{
		Repo:          notifications.NewRepository(dbClient.DB()),
		Subscriptions: subs,
		Decoders:      registry.NewDecoderRegistryFromEvents(events),
		Idempotency:   tracker,
		Logger:        logg,
	})
	if err != nil {
		return err
	}

	worker, err := NewWorker(logg, inbox,
		probe{"database", dbClient.Ping},
		probe{"redis", redisClient.Ping},
		probe{"pubsub", pubsubClient.Ping},
	)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return api.Serve(gctx, api.MetricsServer(cfg, promRegistry), cfg.App.ShutdownTimeout)
	})
	group.Go(func() error {
		if err := worker.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		logg.Info(gctx, "worker.stopped")
		return nil
	})
	return group.Wait()
}
