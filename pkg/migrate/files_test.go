package migrate_test

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchly/dispatchly-backend/pkg/migrate"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, migrate.Validate(migrate.Embedded()))
}

func TestValidateRejects(t *testing.T) {
	good := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	cases := map[string]fstest.MapFS{
		"empty":        {},
		"bad name":     {"create_orders.sql": {Data: []byte(good)}},
		"duplicate":    {"20260301090000_a.sql": {Data: []byte(good)}, "20260301090000_b.sql": {Data: []byte(good)}},
		"missing down": {"20260301090000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, migrate.Validate(fsys))
		})
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)

	path, err := migrate.CreateSQLMigration(dir, "Add Driver Rating!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20261001083000_add_driver_rating.sql"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- +goose Down")
	require.NoError(t, migrate.Validate(os.DirFS(dir)))

	_, err = migrate.CreateSQLMigration(dir, "add driver rating", now)
	assert.Error(t, err, "same version must not overwrite")

	_, err = migrate.CreateSQLMigration(dir, "!!!", now)
	assert.Error(t, err)
}
