package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchly/dispatchly-backend/pkg/logger"
)

type consumerFunc func(ctx context.Context) error

func (f consumerFunc) Run(ctx context.Context) error { return f(ctx) }

func ok(name string) probe {
	return probe{name: name, ping: func(context.Context) error { return nil }}
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard})
}

func TestRunStopsBeforeConsumingWhenDependencyDown(t *testing.T) {
	consumed := false
	w, err := NewWorker(quietLogger(),
		consumerFunc(func(context.Context) error { consumed = true; return nil }),
		ok("database"),
		probe{name: "redis", ping: func(context.Context) error { return errors.New("connection refused") }},
		ok("pubsub"),
	)
	require.NoError(t, err)

	err = w.Run(context.Background())
	assert.ErrorContains(t, err, "redis not ready")
	assert.False(t, consumed)
}

func TestRunSurfacesConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	w, err := NewWorker(quietLogger(), consumerFunc(func(context.Context) error { return boom }), ok("database"))
	require.NoError(t, err)

	assert.ErrorIs(t, w.Run(context.Background()), boom)
}

func TestRunReturnsContextErrorOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := NewWorker(quietLogger(), consumerFunc(func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, err)

	assert.ErrorIs(t, w.Run(ctx), context.Canceled)
}

func TestNewWorkerValidates(t *testing.T) {
	_, err := NewWorker(quietLogger(), nil)
	assert.ErrorContains(t, err, "consumer required")

	_, err = NewWorker(quietLogger(), consumerFunc(nil), probe{name: "redis"})
	assert.ErrorContains(t, err, "redis probe")
}
