package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	"github.com/dispatchly/dispatchly-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order and its deliveries.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindWithDeliveries(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Deliveries", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ClaimPending is the acceptance guard: one statement that succeeds only while the order is
// unclaimed and the driver holds no other accepted order. ux_orders_driver_open backs the
// NOT EXISTS for claims racing on different orders.
func (r *repository) ClaimPending(ctx context.Context, orderID, driverID uuid.UUID, at time.Time) (bool, error) {
	openOrders := r.db.Model(&models.Order{}).
		Select("1").
		Where("driver_user_id = ? AND status = ?", driverID, enums.OrderStatusAccepted)
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND driver_user_id IS NULL", orderID, enums.OrderStatusPending).
		Where("NOT EXISTS (?)", openOrders).
		Updates(map[string]any{
			"status":         enums.OrderStatusAccepted,
			"driver_user_id": driverID,
			"accepted_at":    at,
			"updated_at":     at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DriverHasOpenOrder(ctx context.Context, driverID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("driver_user_id = ? AND status = ?", driverID, enums.OrderStatusAccepted).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CountUnvalidatedDeliveries(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderDelivery{}).
		Where("order_id = ? AND validated_at IS NULL", orderID).
		Count(&count).Error
	return count, err
}

func (r *repository) UpdateStatusIf(ctx context.Context, cond StatusCondition, updates map[string]any) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", cond.OrderID, cond.From)
	if cond.CompanyID != nil {
		query = query.Where("company_user_id = ?", *cond.CompanyID)
	}
	if cond.DriverID != nil {
		query = query.Where("driver_user_id = ?", *cond.DriverID)
	}
	if cond.AllValidated {
		query = query.Where("NOT EXISTS (SELECT 1 FROM order_deliveries d WHERE d.order_id = orders.id AND d.validated_at IS NULL)")
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListPending pages the driver feed oldest first, matching idx_orders_pending_region.
func (r *repository) ListPending(ctx context.Context, params listPendingParams) ([]models.Order, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Preload("Deliveries").
		Where("status = ?", enums.OrderStatusPending)
	if params.State != "" {
		query = query.Where("state = ?", params.State)
	}
	if params.City != "" {
		query = query.Where("city = ?", params.City)
	}

	var rows []models.Order
	query = pagination.Seek(query, params.Cursor, pagination.OldestFirst)
	if err := query.Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return rows, next, nil
}
