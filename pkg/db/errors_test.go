package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_billing_events_event_id"}
	pqErr := &pq.Error{Code: "23505", Constraint: "ux_orders_driver_open"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pgconn any", err: fmt.Errorf("insert: %w", pgErr), want: true},
		{name: "pgconn matching constraint", err: pgErr, constraint: "ux_billing_events_event_id", want: true},
		{name: "pgconn other constraint", err: pgErr, constraint: "ux_orders_driver_open", want: false},
		{name: "pgconn other code", err: &pgconn.PgError{Code: "42501"}, want: false},
		{name: "pq matching constraint", err: pqErr, constraint: "ux_orders_driver_open", want: true},
		{name: "message fallback", err: errors.New(`ERROR: duplicate key value violates unique constraint "ux_x"`), constraint: "ux_x", want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: billing_events.event_id"), want: true},
		{name: "permission denied", err: errors.New("permission denied for table billing_events"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err, tt.constraint))
		})
	}
}
