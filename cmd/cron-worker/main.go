package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/api"
	"github.com/dispatchly/dispatchly-backend/internal/cron"
	"github.com/dispatchly/dispatchly-backend/internal/deliverycode"
	"github.com/dispatchly/dispatchly-backend/internal/notifications"
	"github.com/dispatchly/dispatchly-backend/pkg/config"
	"github.com/dispatchly/dispatchly-backend/pkg/db"
	"github.com/dispatchly/dispatchly-backend/pkg/instance"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
	"github.com/dispatchly/dispatchly-backend/pkg/migrate"
	"github.com/dispatchly/dispatchly-backend/pkg/outbox"
	"github.com/dispatchly/dispatchly-backend/pkg/redis"
)

const serviceName = "cron-worker"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "reading .env:", err)
	}
	if err := run(); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "cron worker stopped", err)
		os.Exit(1)
	}
}

// run owns every resource so deferred closes fire before the process exits.
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

	registry, err := buildJobs(cfg, logg, dbClient)
	if err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, cron.LockKey(cfg.App.Env), 0)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(promRegistry),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return api.Serve(gctx, api.MetricsServer(cfg, promRegistry), cfg.App.ShutdownTimeout)
	})
	group.Go(func() error {
		logg.Info(gctx, "starting cron worker")
		err := service.Run(gctx)
		if errors.Is(err, context.Canceled) {
			logg.Info(gctx, "cron worker shutting down gracefully")
			return nil
		}
		return err
	})
	return group.Wait()
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Registry, error) {
	gdb := dbClient.DB()
	outboxRepo := outbox.NewRepository(gdb)

	codes, err := deliverycode.NewService(deliverycode.ServiceParams{
		Repo:   deliverycode.NewRepository(gdb),
		Tx:     dbClient,
		Outbox: outbox.NewService(outboxRepo, logg),
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	outboxJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "outbox-retention",
		Logger:    logg,
		DB:        dbClient,
		Retention: cron.Days(cfg.Outbox.RetentionDays),
		Purge: func(_ context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
			return outboxRepo.DeletePublishedBefore(tx, cutoff)
		},
	})
	if err != nil {
		return nil, err
	}
	cleanupJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "notification-cleanup",
		Logger:    logg,
		DB:        dbClient,
		Retention: cfg.Cron.NotificationRetention,
		Purge:     notifications.NewRepository(gdb).DeleteReadBefore,
	})
	if err != nil {
		return nil, err
	}
	backfillJob, err := cron.NewDeliveryCodeBackfillJob(cron.DeliveryCodeBackfillJobParams{
		Logger:    logg,
		Codes:     codes,
		BatchSize: cfg.Cron.CodeBackfillBatchSize,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(outboxJob, cleanupJob, backfillJob)
}
