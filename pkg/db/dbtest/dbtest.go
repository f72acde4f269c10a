// Package dbtest opens throwaway sqlite databases carrying the same tables,
// checks and partial unique indexes as the Postgres migrations.
package dbtest

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dispatchly/dispatchly-backend/pkg/db"
	"github.com/dispatchly/dispatchly-backend/pkg/db/models"
	"github.com/dispatchly/dispatchly-backend/pkg/enums"
)

const schema = `
CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  company_user_id TEXT NOT NULL,
  driver_user_id TEXT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  total_value NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  city TEXT NOT NULL,
  state TEXT NOT NULL,
  accepted_at DATETIME NULL,
  driver_completed_at DATETIME NULL,
  completed_at DATETIME NULL,
  cancelled_at DATETIME NULL,
  cancelled_by TEXT NULL,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  CONSTRAINT chk_orders_total_value CHECK (total_value >= 0 AND total_value <= 100000),
  CONSTRAINT chk_orders_driver_status CHECK (
    (status IN ('accepted', 'driver_completed', 'completed') AND driver_user_id IS NOT NULL)
    OR (status IN ('pending', 'cancelled') AND driver_user_id IS NULL)
  )
);
CREATE UNIQUE INDEX ux_orders_driver_open ON orders (driver_user_id) WHERE status = 'accepted';
CREATE TABLE order_deliveries (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  position INTEGER NOT NULL,
  pickup_address TEXT NOT NULL,
  dropoff_address TEXT NOT NULL,
  package_type TEXT NOT NULL,
  suggested_price NUMERIC NOT NULL,
  code_hash TEXT NULL,
  code_plain TEXT NULL,
  code_generated_at DATETIME NULL,
  validation_attempts INTEGER NOT NULL DEFAULT 0,
  validated_at DATETIME NULL,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  CONSTRAINT chk_deliveries_attempts CHECK (validation_attempts >= 0 AND validation_attempts <= 5),
  CONSTRAINT chk_deliveries_validated_has_code CHECK (validated_at IS NULL OR code_hash IS NOT NULL)
);
CREATE UNIQUE INDEX ux_order_deliveries_position ON order_deliveries (order_id, position);
CREATE TABLE credits (
  user_id TEXT PRIMARY KEY,
  valid_until DATETIME NOT NULL,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE TABLE credit_grants (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  days INTEGER NOT NULL,
  previous_valid_until DATETIME NULL,
  new_valid_until DATETIME NOT NULL,
  source TEXT NOT NULL,
  source_ref TEXT NULL,
  created_at DATETIME NOT NULL
);
CREATE TABLE billing_plans (
  id TEXT PRIMARY KEY,
  "key" TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  target_role TEXT NOT NULL,
  duration_days INTEGER NOT NULL,
  price NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  stripe_price_id TEXT NULL,
  active BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE TABLE billing_events (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  livemode BOOLEAN NOT NULL DEFAULT 0,
  payload TEXT NOT NULL,
  status TEXT NOT NULL,
  user_id TEXT NULL,
  plan_key TEXT NULL,
  received_at DATETIME NOT NULL,
  processed_at DATETIME NULL
);
CREATE UNIQUE INDEX ux_billing_events_event_id ON billing_events (event_id);
CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME NOT NULL,
  published_at DATETIME NULL,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NULL
);
CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT NULL,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX ux_outbox_dlq_event ON outbox_dlq (event_id);
CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  event_id TEXT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  link TEXT NULL,
  read_at DATETIME NULL,
  created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX ux_notifications_user_event ON notifications (user_id, event_id);
`

const planSeed = `
INSERT INTO billing_plans (id, "key", name, target_role, duration_days, price, currency, stripe_price_id, active, created_at, updated_at) VALUES
  ('7c1f3e4a-0000-4000-8000-000000000001', 'driver_30d', 'Driver 30 days', 'driver', 30, 19.99, 'usd', NULL, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP),
  ('7c1f3e4a-0000-4000-8000-000000000002', 'driver_90d', 'Driver 90 days', 'driver', 90, 49.99, 'usd', NULL, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP),
  ('7c1f3e4a-0000-4000-8000-000000000003', 'company_30d', 'Company 30 days', 'company', 30, 39.99, 'usd', NULL, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP),
  ('7c1f3e4a-0000-4000-8000-000000000004', 'company_365d', 'Company 365 days', 'company', 365, 349.00, 'usd', NULL, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
`

// Open returns an isolated in-memory database with the full schema and the default plans.
// A single connection is used so concurrent callers serialize like row locks would.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                db.UTCNow,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(schema+planSeed, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return conn
}

// Client wraps Open in the shared transaction helper.
func Client(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.FromGorm(conn), conn
}

// OrderSeed describes an order inserted directly, bypassing the order service.
type OrderSeed struct {
	CompanyID uuid.UUID
	DriverID  *uuid.UUID
	Status    enums.OrderStatus
	City      string
	State     string
	Prices    []string
}

// SeedOrder inserts an order and one delivery per price. Defaults: pending, Austin TX, one $10 delivery.
func SeedOrder(t testing.TB, conn *gorm.DB, seed OrderSeed) models.Order {
	t.Helper()
	if seed.CompanyID == uuid.Nil {
		seed.CompanyID = uuid.New()
	}
	if seed.Status == "" {
		seed.Status = enums.OrderStatusPending
	}
	if seed.City == "" {
		seed.City = "Austin"
	}
	if seed.State == "" {
		seed.State = "TX"
	}
	if len(seed.Prices) == 0 {
		seed.Prices = []string{"10.00"}
	}

	total := decimal.Zero
	deliveries := make([]models.OrderDelivery, 0, len(seed.Prices))
	for i, raw := range seed.Prices {
		price := decimal.RequireFromString(raw)
		total = total.Add(price)
		deliveries = append(deliveries, models.OrderDelivery{
			Position:       i + 1,
			PickupAddress:  "100 Congress Ave",
			DropoffAddress: "200 Lamar Blvd",
			PackageType:    enums.PackageTypeSmall,
			SuggestedPrice: price,
		})
	}

	order := models.Order{
		CompanyUserID: seed.CompanyID,
		DriverUserID:  seed.DriverID,
		Status:        seed.Status,
		TotalValue:    total,
		Currency:      "usd",
		City:          seed.City,
		State:         seed.State,
		Deliveries:    deliveries,
	}
	if seed.Status.HasDriver() {
		acceptedAt := db.UTCNow()
		order.AcceptedAt = &acceptedAt
	}
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}
