package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// OrderDelivery is one pickup/dropoff leg of an order. Code fields are frozen once ValidatedAt is set.
type OrderDelivery struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	Position           int               `gorm:"column:position;not null"`
	PickupAddress      string            `gorm:"column:pickup_address;not null"`
	DropoffAddress     string            `gorm:"column:dropoff_address;not null"`
	PackageType        enums.PackageType `gorm:"column:package_type;type:package_type;not null"`
	SuggestedPrice     decimal.Decimal   `gorm:"column:suggested_price;type:numeric(12,2);not null"`
	CodeHash           *string           `gorm:"column:code_hash"`
	CodePlain          *string           `gorm:"column:code_plain"`
	CodeGeneratedAt    *time.Time        `gorm:"column:code_generated_at"`
	ValidationAttempts int               `gorm:"column:validation_attempts;not null;default:0"`
	ValidatedAt        *time.Time        `gorm:"column:validated_at"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrderDelivery) TableName() string { return "order_deliveries" }

func (d *OrderDelivery) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// HasCode reports whether a verification code was generated.
func (d OrderDelivery) HasCode() bool {
	return d.CodeHash != nil && *d.CodeHash != ""
}
