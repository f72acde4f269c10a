package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
)

// ListenAddr prefers the platform-assigned PORT over the configured one.
func ListenAddr(cfg *config.Config) string {
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	return ":" + port
}

// NewServer wraps handler in an http.Server bounded by the configured timeouts.
func NewServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ListenAddr(cfg),
		Handler:           handler,
		ReadTimeout:       cfg.App.ReadTimeout,
		ReadHeaderTimeout: cfg.App.ReadTimeout,
		WriteTimeout:      cfg.App.WriteTimeout,
		IdleTimeout:       cfg.App.IdleTimeout,
	}
}

// MetricsServer exposes only /metrics for background processes.
func MetricsServer(cfg *config.Config, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return NewServer(cfg, mux)
}

// Serve runs srv until ctx is done, then drains in-flight requests for up to grace.
func Serve(ctx context.Context, srv *http.Server, grace time.Duration) error {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), grace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
