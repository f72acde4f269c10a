package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dispatchly/dispatchly-backend/pkg/logger"
)

// probe is one dependency the worker must reach before it starts consuming.
type probe struct {
	name string
	ping func(context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

// Worker checks its dependencies once, then drains the inbox subscriptions
// until the context ends.
type Worker struct {
	logg     *logger.Logger
	probes   []probe
	consumer consumer
}

func NewWorker(logg *logger.Logger, c consumer, probes ...probe) (*Worker, error) {
	if logg == nil {
		return nil, errors.New("worker: logger required")
	}
	if c == nil {
		return nil, errors.New("worker: consumer required")
	}
	for _, p := range probes {
		if p.ping == nil {
			return nil, fmt.Errorf("worker: %s probe has no ping", p.name)
		}
	}
	return &Worker{logg: logg, probes: probes, consumer: c}, nil
}

func (w *Worker) Run(ctx context.Context) error {
	for _, p := range w.probes {
		if err := p.ping(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", p.name, err)
		}
	}
	w.logg.Info(ctx, "worker.ready")

	err := w.consumer.Run(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("consumer: %w", err)
}
