package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dispatchly/dispatchly-backend/pkg/logger"
)

const defaultBackfillBatch = 100

type codeBackfiller interface {
	BackfillMissing(ctx context.Context, limit int) (int, error)
}

type DeliveryCodeBackfillJobParams struct {
	Logger    *logger.Logger
	Codes     codeBackfiller
	BatchSize int
}

// NewDeliveryCodeBackfillJob issues codes that best-effort generation at acceptance left missing.
func NewDeliveryCodeBackfillJob(params DeliveryCodeBackfillJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Codes == nil {
		return nil, fmt.Errorf("delivery code service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBackfillBatch
	}
	return &deliveryCodeBackfillJob{
		logg:  params.Logger,
		codes: params.Codes,
		batch: batch,
	}, nil
}

type deliveryCodeBackfillJob struct {
	logg  *logger.Logger
	codes codeBackfiller
	batch int
}

func (j *deliveryCodeBackfillJob) Name() string { return "delivery-code-backfill" }

// Run reports partial failures but keeps whatever codes were issued.
func (j *deliveryCodeBackfillJob) Run(ctx context.Context) error {
	issued, err := j.codes.BackfillMissing(ctx, j.batch)
	failures := multierr.Errors(err)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"batch_size":     j.batch,
		"codes_issued":   issued,
		"orders_failing": len(failures),
	})
	if err != nil {
		j.logg.Warn(logCtx, "delivery code backfill incomplete")
		return fmt.Errorf("delivery code backfill: %w", err)
	}
	j.logg.Info(logCtx, "delivery code backfill complete")
	return nil
}
