package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
)

// Repository manages persistence for credits and their grant audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, userID uuid.UUID) (*models.Credits, error)
	InsertIfAbsent(ctx context.Context, row *models.Credits) (bool, error)
	CompareAndSwap(ctx context.Context, userID uuid.UUID, version int64, validUntil time.Time) (bool, error)
	CreateGrant(ctx context.Context, grant *models.CreditGrant) error
	ListGrants(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditGrant, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Find returns gorm.ErrRecordNotFound when the user never had credits.
func (r *repository) Find(ctx context.Context, userID uuid.UUID) (*models.Credits, error) {
	var row models.Credits
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) InsertIfAbsent(ctx context.Context, row *models.Credits) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompareAndSwap writes validUntil only if the row still carries version.
func (r *repository) CompareAndSwap(ctx context.Context, userID uuid.UUID, version int64, validUntil time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Credits{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]any{
			"valid_until": validUntil,
			"version":     gorm.Expr("version + 1"),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateGrant(ctx context.Context, grant *models.CreditGrant) error {
	return r.db.WithContext(ctx).Create(grant).Error
}

func (r *repository) ListGrants(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditGrant, error) {
	if limit <= 0 {
		limit = 20
	}
	var grants []models.CreditGrant
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&grants).Error
	return grants, err
}
