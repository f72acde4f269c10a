package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// BillingEvent is the idempotency log of payment gateway events, unique on EventID.
type BillingEvent struct {
	ID          uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	EventID     string                   `gorm:"column:event_id;not null;uniqueIndex:ux_billing_events_event_id"`
	EventType   string                   `gorm:"column:event_type;not null"`
	Livemode    bool                     `gorm:"column:livemode;not null;default:false"`
	Payload     json.RawMessage          `gorm:"column:payload;type:jsonb;not null"`
	Status      enums.BillingEventStatus `gorm:"column:status;not null"`
	UserID      *uuid.UUID               `gorm:"column:user_id;type:uuid"`
	PlanKey     *string                  `gorm:"column:plan_key"`
	ReceivedAt  time.Time                `gorm:"column:received_at;autoCreateTime"`
	ProcessedAt *time.Time               `gorm:"column:processed_at"`
}

func (BillingEvent) TableName() string { return "billing_events" }

func (e *BillingEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
