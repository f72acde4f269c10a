package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected exactly one %s migration", suffix)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func assertContainsAll(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOrdersMigrationGuardsAcceptance(t *testing.T) {
	content := readMigration(t, "create_orders")
	assertContainsAll(t, content, []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CONSTRAINT chk_orders_driver_status CHECK",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_driver_open",
		"WHERE status = 'accepted'",
		"DROP TABLE IF EXISTS orders",
	})
}

func TestDeliveriesMigrationBoundsFields(t *testing.T) {
	content := readMigration(t, "create_order_deliveries")
	assertContainsAll(t, content, []string{
		"CHECK (char_length(pickup_address) BETWEEN 5 AND 500)",
		"CHECK (char_length(dropoff_address) BETWEEN 5 AND 500)",
		"CHECK (suggested_price >= 0 AND suggested_price <= 10000)",
		"CHECK (validation_attempts >= 0 AND validation_attempts <= 5)",
		"FOREIGN KEY (order_id) REFERENCES orders(id)",
	})
}

func TestBillingMigrationEnforcesEventUniqueness(t *testing.T) {
	content := readMigration(t, "create_billing")
	assertContainsAll(t, content, []string{
		"CREATE TABLE IF NOT EXISTS billing_events",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_billing_events_event_id ON billing_events (event_id)",
		"('driver_30d', 'Driver 30 days', 'driver', 30",
		"ON CONFLICT (key) DO NOTHING",
	})
}
