package deliverycode

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// Repository holds the conditional statements behind code issue and verification.
// Every write carries validated_at IS NULL so a validated delivery is frozen.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.OrderDelivery, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderDelivery, error)
	SetCodeIfMissing(ctx context.Context, deliveryID uuid.UUID, hash, plain string, at time.Time) (bool, error)
	ReplaceCode(ctx context.Context, deliveryID uuid.UUID, hash, plain string, at time.Time) (bool, error)
	IncrementAttempt(ctx context.Context, deliveryID, driverID uuid.UUID) (bool, error)
	MarkValidated(ctx context.Context, deliveryID uuid.UUID, at time.Time) (bool, error)
	ListOrdersMissingCodes(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the delivery code repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.OrderDelivery, error) {
	var row models.OrderDelivery
	if err := r.db.WithContext(ctx).Where("id = ?", deliveryID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var row models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderDelivery, error) {
	var rows []models.OrderDelivery
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("position ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) SetCodeIfMissing(ctx context.Context, deliveryID uuid.UUID, hash, plain string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderDelivery{}).
		Where("id = ? AND validated_at IS NULL AND code_hash IS NULL", deliveryID).
		Updates(map[string]any{
			"code_hash":         hash,
			"code_plain":        plain,
			"code_generated_at": at,
			"updated_at":        at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReplaceCode issues a new code and clears the lockout counter.
func (r *repository) ReplaceCode(ctx context.Context, deliveryID uuid.UUID, hash, plain string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderDelivery{}).
		Where("id = ? AND validated_at IS NULL", deliveryID).
		Updates(map[string]any{
			"code_hash":           hash,
			"code_plain":          plain,
			"code_generated_at":   at,
			"validation_attempts": 0,
			"updated_at":          at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IncrementAttempt consumes one attempt only while the delivery is still verifiable by driverID.
func (r *repository) IncrementAttempt(ctx context.Context, deliveryID, driverID uuid.UUID) (bool, error) {
	inProgress := r.db.Model(&models.Order{}).
		Select("id").
		Where("driver_user_id = ? AND status = ?", driverID, enums.OrderStatusAccepted)
	res := r.db.WithContext(ctx).
		Model(&models.OrderDelivery{}).
		Where("id = ?", deliveryID).
		Where("validated_at IS NULL").
		Where("validation_attempts < ?", MaxAttempts).
		Where("code_hash IS NOT NULL").
		Where("order_id IN (?)", inProgress).
		UpdateColumn("validation_attempts", gorm.Expr("validation_attempts + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkValidated(ctx context.Context, deliveryID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderDelivery{}).
		Where("id = ? AND validated_at IS NULL", deliveryID).
		Updates(map[string]any{
			"validated_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type orderIDRow struct {
	ID uuid.UUID `gorm:"column:id"`
}

// ListOrdersMissingCodes returns accepted orders with at least one unvalidated delivery lacking a code.
func (r *repository) ListOrdersMissingCodes(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []orderIDRow
	err := r.db.WithContext(ctx).Raw(`
SELECT o.id AS id
FROM orders o
WHERE o.status = ?
  AND EXISTS (
    SELECT 1 FROM order_deliveries d
    WHERE d.order_id = o.id AND d.code_hash IS NULL AND d.validated_at IS NULL
  )
ORDER BY o.accepted_at ASC, o.id ASC
LIMIT ?`, enums.OrderStatusAccepted, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}
