package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
)

// Page sizes accepted by every keyset listing.
const (
	DefaultLimit = 25
	MaxLimit     = 100
)

const cursorSep = "|"

var errCursorShape = errors.New("cursor is not <timestamp>|<uuid>")

// Order is the direction a keyset walks (created_at, id).
type Order int

const (
	OldestFirst Order = iota
	NewestFirst
)

// Cursor is the (created_at, id) key of the last row on a page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// NormalizeLimit maps a non-positive limit to DefaultLimit and caps it at MaxLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// LimitWithBuffer is the row count to fetch so Trim can tell whether another page exists.
func LimitWithBuffer(limit int) int { return NormalizeLimit(limit) + 1 }

// EncodeCursor renders a cursor safe to pass back as a query parameter.
func EncodeCursor(c Cursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + cursorSep + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor reverses EncodeCursor. Blank input yields nil.
func ParseCursor(value string) (*Cursor, error) {
	if value = strings.TrimSpace(value); value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("cursor encoding: %w", err)
	}
	stamp, id, ok := strings.Cut(string(raw), cursorSep)
	if !ok {
		return nil, errCursorShape
	}

	var c Cursor
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
		return nil, fmt.Errorf("cursor timestamp: %w", err)
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("cursor id: %w", err)
	}
	return &c, nil
}

// DecodeCursor is ParseCursor for request input: a malformed cursor is the caller's fault.
func DecodeCursor(value string) (*Cursor, error) {
	c, err := ParseCursor(value)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return c, nil
}

// Seek orders query by (created_at, id) and resumes after cursor when one is given.
func Seek(query *gorm.DB, cursor *Cursor, order Order) *gorm.DB {
	cmp, dir := ">", "ASC"
	if order == NewestFirst {
		cmp, dir = "<", "DESC"
	}
	if cursor != nil {
		query = query.Where(
			fmt.Sprintf("((created_at %s ?) OR (created_at = ? AND id %s ?))", cmp, cmp),
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}
	return query.Order(fmt.Sprintf("created_at %s, id %s", dir, dir))
}

// Trim cuts a page fetched with LimitWithBuffer back to size and reports the
// cursor for the next page, or nil on the last one.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	normalized := NormalizeLimit(limit)
	if len(rows) <= normalized {
		return rows, nil
	}
	rows = rows[:normalized]
	next := key(rows[len(rows)-1])
	return rows, &next
}
