package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PurgeFunc deletes rows older than cutoff inside tx and reports how many went.
type PurgeFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

// RetentionJobParams describe one table sweep, e.g. published outbox rows
// or read notifications.
type RetentionJobParams struct {
	Name      string
	Logger    *logger.Logger
	DB        txRunner
	Retention time.Duration
	Purge     PurgeFunc
}

func NewRetentionJob(params RetentionJobParams) (Job, error) {
	switch {
	case params.Name == "":
		return nil, errors.New("retention job name required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Purge == nil:
		return nil, errors.New("purge func required")
	case params.Retention <= 0:
		return nil, fmt.Errorf("%s: retention must be positive", params.Name)
	}
	return &retentionJob{params: params, now: time.Now}, nil
}

type retentionJob struct {
	params RetentionJobParams
	now    func() time.Time
}

func (j *retentionJob) Name() string { return j.params.Name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.params.Retention)
	var deleted int64
	err := j.params.DB.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.params.Purge(ctx, tx, cutoff)
		deleted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.params.Name, err)
	}
	j.params.Logger.Info(j.params.Logger.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "cron.retention_swept")
	return nil
}

// Days converts a day count from config into a retention window.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
