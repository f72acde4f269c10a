package models

import (
	"time"

	"github.com/google/uuid"
)

// Credits holds a user's subscription expiry. Version guards every write.
type Credits struct {
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	ValidUntil time.Time `gorm:"column:valid_until;not null"`
	Version    int64     `gorm:"column:version;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Credits) TableName() string { return "credits" }
