package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/pagination"
)

// Repository persists the per-user inbox.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// page selects one keyset page of a user's inbox.
type page struct {
	userID     uuid.UUID
	limit      int
	after      *pagination.Cursor
	unreadOnly bool
}

// CreateIfAbsent writes the entry unless one already exists for the same user and event.
func (r *Repository) CreateIfAbsent(ctx context.Context, n *models.Notification) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	return res.RowsAffected == 1, res.Error
}

// List returns newest entries first and the cursor of the following page, if any.
func (r *Repository) List(ctx context.Context, p page) ([]models.Notification, *pagination.Cursor, error) {
	q := r.owned(ctx, p.userID)
	if p.unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var rows []models.Notification
	err := pagination.Seek(q, p.after, pagination.NewestFirst).
		Limit(pagination.LimitWithBuffer(p.limit)).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, p.limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return rows, next, nil
}

// MarkRead stamps read_at once; found is false when the user owns no such entry.
func (r *Repository) MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (found bool, err error) {
	var row models.Notification
	err = r.owned(ctx, userID).Select("id", "read_at").Where("id = ?", id).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	case err != nil:
		return false, err
	case row.ReadAt != nil:
		return true, nil
	}
	err = r.owned(ctx, userID).
		Where("id = ? AND read_at IS NULL", id).
		UpdateColumn("read_at", at).Error
	return true, err
}

func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res := r.owned(ctx, userID).Where("read_at IS NULL").UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}

// DeleteReadBefore removes read entries created before cutoff. Unread entries are kept.
func (r *Repository) DeleteReadBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.WithContext(ctx).
		Where("read_at IS NOT NULL AND created_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}

func (r *Repository) owned(ctx context.Context, userID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
}
