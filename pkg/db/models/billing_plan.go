package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// BillingPlan is a prepaid time package sold through hosted checkout.
type BillingPlan struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Key           string          `gorm:"column:key;not null;uniqueIndex"`
	Name          string          `gorm:"column:name;not null"`
	TargetRole    enums.UserRole  `gorm:"column:target_role;not null"`
	DurationDays  int             `gorm:"column:duration_days;not null"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency      string          `gorm:"column:currency;not null"`
	StripePriceID *string         `gorm:"column:stripe_price_id"`
	Active        bool            `gorm:"column:active;not null;default:true"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (BillingPlan) TableName() string { return "billing_plans" }
