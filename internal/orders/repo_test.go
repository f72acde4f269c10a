package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchly/dispatchly-backend/pkg/db"
	"github.com/dispatchly/dispatchly-backend/pkg/db/dbtest"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

func TestRepositoryClaimPending(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()
	order := dbtest.SeedOrder(t, conn, dbtest.OrderSeed{})
	driverID := uuid.New()

	ok, err := repo.ClaimPending(ctx, order.ID, driverID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimPending(ctx, order.ID, uuid.New(), now)
	require.NoError(t, err)
	assert.False(t, ok, "second claim on the same order must match nothing")

	other := dbtest.SeedOrder(t, conn, dbtest.OrderSeed{})
	ok, err = repo.ClaimPending(ctx, other.ID, driverID, now)
	require.NoError(t, err)
	assert.False(t, ok, "driver with an accepted order must not claim another")

	open, err := repo.DriverHasOpenOrder(ctx, driverID)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestDriverOpenIndexRejectsSecondAcceptedOrder(t *testing.T) {
	conn := dbtest.Open(t)
	driverID := uuid.New()
	dbtest.SeedOrder(t, conn, dbtest.OrderSeed{DriverID: &driverID, Status: enums.OrderStatusAccepted})
	second := dbtest.SeedOrder(t, conn, dbtest.OrderSeed{})

	err := conn.Model(&models.Order{}).Where("id = ?", second.ID).Updates(map[string]any{
		"status":         enums.OrderStatusAccepted,
		"driver_user_id": driverID,
	}).Error
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err, driverOpenIndex))
}

func TestRepositoryUpdateStatusIfAllValidated(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	driverID := uuid.New()
	order := dbtest.SeedOrder(t, conn, dbtest.OrderSeed{DriverID: &driverID, Status: enums.OrderStatusAccepted, Prices: []string{"4.00", "6.00"}})

	cond := StatusCondition{OrderID: order.ID, From: enums.OrderStatusAccepted, DriverID: &driverID, AllValidated: true}
	updates := map[string]any{"status": enums.OrderStatusDriverCompleted}

	ok, err := repo.UpdateStatusIf(ctx, cond, updates)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, conn.Model(&models.OrderDelivery{}).Where("order_id = ?", order.ID).
		Updates(map[string]any{"code_hash": "x", "validated_at": time.Now().UTC()}).Error)

	stranger := uuid.New()
	ok, err = repo.UpdateStatusIf(ctx, StatusCondition{OrderID: order.ID, From: enums.OrderStatusAccepted, DriverID: &stranger}, updates)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.UpdateStatusIf(ctx, cond, updates)
	require.NoError(t, err)
	assert.True(t, ok)

	remaining, err := repo.CountUnvalidatedDeliveries(ctx, order.ID)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestRepositoryFindWithDeliveriesOrdersByPosition(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	order := dbtest.SeedOrder(t, conn, dbtest.OrderSeed{Prices: []string{"1.00", "2.00", "3.00"}})

	found, err := repo.FindWithDeliveries(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, found.Deliveries, 3)
	for i, d := range found.Deliveries {
		assert.Equal(t, i+1, d.Position)
	}
	assert.Equal(t, "6.00", found.TotalValue.StringFixed(2))
}
