package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	releases int
	err      error
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name     string
	err      error
	runs     int
	deadline bool
}

func (j *testJob) Name() string { return j.name }

func (j *testJob) Run(ctx context.Context) error {
	j.runs++
	_, j.deadline = ctx.Deadline()
	return j.err
}

func newCronService(t *testing.T, lock Lock, m *metrics.CronJobMetrics, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
	})
	require.NoError(t, err)
	return svc
}

func seriesValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	series:
		for _, m := range family.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue series
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRunOnceRunsEveryJobDespiteFailures(t *testing.T) {
	ok := &testJob{name: "outbox-retention"}
	bad := &testJob{name: "notification-cleanup", err: errors.New("boom")}
	lock := &fakeLock{}
	reg := prometheus.NewRegistry()
	svc := newCronService(t, lock, metrics.NewCronJobMetrics(reg), bad, ok)

	require.NoError(t, svc.RunOnce(context.Background()))

	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, bad.runs)
	assert.True(t, ok.deadline, "job context carries the job timeout")
	assert.Equal(t, 1, lock.releases)
	assert.False(t, lock.held)
	assert.Equal(t, 1.0, seriesValue(t, reg, "cron_job_runs_total", map[string]string{"job": "outbox-retention", "outcome": "success"}))
	assert.Equal(t, 1.0, seriesValue(t, reg, "cron_job_runs_total", map[string]string{"job": "notification-cleanup", "outcome": "failure"}))
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	lock := &fakeLock{held: true}
	reg := prometheus.NewRegistry()
	svc := newCronService(t, lock, metrics.NewCronJobMetrics(reg), job)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, lock.releases, "must not release a lock it does not hold")
	assert.Equal(t, 1.0, seriesValue(t, reg, "cron_cycles_skipped_total", nil))
}

func TestRunOnceSurfacesLockError(t *testing.T) {
	job := &testJob{name: "job"}
	svc := newCronService(t, &fakeLock{err: errors.New("redis down")}, nil, job)

	assert.ErrorContains(t, svc.RunOnce(context.Background()), "redis down")
	assert.Zero(t, job.runs)
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := newCronService(t, &fakeLock{}, nil, &testJob{name: "job"})
	svc.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.Run(ctx), context.Canceled)
}
