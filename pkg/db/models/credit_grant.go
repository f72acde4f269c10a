package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

// CreditGrant is the append-only audit trail of credit extensions.
type CreditGrant struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	UserID             uuid.UUID          `gorm:"column:user_id;type:uuid;not null"`
	Days               int                `gorm:"column:days;not null"`
	PreviousValidUntil *time.Time         `gorm:"column:previous_valid_until"`
	NewValidUntil      time.Time          `gorm:"column:new_valid_until;not null"`
	Source             enums.CreditSource `gorm:"column:source;not null"`
	SourceRef          *string            `gorm:"column:source_ref"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (CreditGrant) TableName() string { return "credit_grants" }

func (g *CreditGrant) BeforeCreate(*gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}
