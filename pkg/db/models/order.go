package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// Order is a company's delivery request. Rows are never deleted.
type Order struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CompanyUserID     uuid.UUID         `gorm:"column:company_user_id;type:uuid;not null"`
	DriverUserID      *uuid.UUID        `gorm:"column:driver_user_id;type:uuid"`
	Status            enums.OrderStatus `gorm:"column:status;type:order_status;not null"`
	TotalValue        decimal.Decimal   `gorm:"column:total_value;type:numeric(12,2);not null"`
	Currency          string            `gorm:"column:currency;not null;default:usd"`
	City              string            `gorm:"column:city;not null"`
	State             string            `gorm:"column:state;not null"`
	AcceptedAt        *time.Time        `gorm:"column:accepted_at"`
	DriverCompletedAt *time.Time        `gorm:"column:driver_completed_at"`
	CompletedAt       *time.Time        `gorm:"column:completed_at"`
	CancelledAt       *time.Time        `gorm:"column:cancelled_at"`
	CancelledBy       *uuid.UUID        `gorm:"column:cancelled_by;type:uuid"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Deliveries []OrderDelivery `gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// IsParty reports whether userID is the owning company or the assigned driver.
func (o Order) IsParty(userID uuid.UUID) bool {
	if o.CompanyUserID == userID {
		return true
	}
	return o.DriverUserID != nil && *o.DriverUserID == userID
}
