package billing

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// Repository exposes the plan catalogue and the gateway event log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListActivePlans(ctx context.Context, role enums.UserRole) ([]models.BillingPlan, error)
	FindPlanByKey(ctx context.Context, key string) (*models.BillingPlan, error)
	// InsertEventIfAbsent reports false when the event id was already recorded.
	InsertEventIfAbsent(ctx context.Context, event *models.BillingEvent) (bool, error)
	UpdateEvent(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a billing repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ListActivePlans filters by target role unless role is empty.
func (r *repository) ListActivePlans(ctx context.Context, role enums.UserRole) ([]models.BillingPlan, error) {
	query := r.db.WithContext(ctx).
		Model(&models.BillingPlan{}).
		Where(map[string]any{"active": true})
	if role != "" {
		query = query.Where(map[string]any{"target_role": role})
	}
	var plans []models.BillingPlan
	if err := query.Order("duration_days ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) FindPlanByKey(ctx context.Context, key string) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	err := r.db.WithContext(ctx).
		Where(map[string]any{"key": key}).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) InsertEventIfAbsent(ctx context.Context, event *models.BillingEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateEvent(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}
