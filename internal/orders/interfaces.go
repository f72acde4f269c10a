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

// Repository defines persistence operations for orders and their deliveries.
// Status writes are conditional on the observed status and party; callers treat
// a false result as a lost race.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	Find(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindWithDeliveries(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ClaimPending(ctx context.Context, orderID, driverID uuid.UUID, at time.Time) (bool, error)
	DriverHasOpenOrder(ctx context.Context, driverID uuid.UUID) (bool, error)
	CountUnvalidatedDeliveries(ctx context.Context, orderID uuid.UUID) (int64, error)
	UpdateStatusIf(ctx context.Context, cond StatusCondition, updates map[string]any) (bool, error)
	ListPending(ctx context.Context, params listPendingParams) ([]models.Order, *pagination.Cursor, error)
}

// StatusCondition is the WHERE clause of a guarded status write.
type StatusCondition struct {
	OrderID   uuid.UUID
	From      enums.OrderStatus
	CompanyID *uuid.UUID
	DriverID  *uuid.UUID
	// AllValidated additionally requires every delivery to carry validated_at.
	AllValidated bool
}

type listPendingParams struct {
	City   string
	State  string
	Limit  int
	Cursor *pagination.Cursor
}

// AccessChecker reports whether a user holds unexpired credits.
type AccessChecker interface {
	HasAccess(ctx context.Context, userID uuid.UUID, role enums.UserRole) (bool, error)
}

// CodeIssuer fills in delivery codes after acceptance.
type CodeIssuer interface {
	GenerateForOrder(ctx context.Context, orderID uuid.UUID) (int, error)
}
