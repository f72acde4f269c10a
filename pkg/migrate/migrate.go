// Package migrate applies the goose SQL migrations embedded in the binary.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are written during development.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Embedded returns the migrations compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Step is one line of migration output.
type Step struct {
	Version int64
	Path    string
	State   string
}

func (s Step) String() string {
	return fmt.Sprintf("%-8s %d %s", s.State, s.Version, s.Path)
}

// Run executes up, down, redo or status against db using the migrations in fsys.
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, command string) ([]Step, error) {
	p, err := newProvider(db, fsys)
	if err != nil {
		return nil, err
	}

	switch command {
	case "up":
		results, err := p.Up(ctx)
		return applied(results), wrap("up", err)
	case "down":
		res, err := p.Down(ctx)
		return applied([]*goose.MigrationResult{res}), wrap("down", err)
	case "redo":
		down, err := p.Down(ctx)
		if err != nil {
			return applied([]*goose.MigrationResult{down}), wrap("redo", err)
		}
		up, err := p.UpByOne(ctx)
		return applied([]*goose.MigrationResult{down, up}), wrap("redo", err)
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return nil, wrap("status", err)
		}
		steps := make([]Step, 0, len(statuses))
		for _, st := range statuses {
			steps = append(steps, Step{Version: st.Source.Version, Path: st.Source.Path, State: string(st.State)})
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("unsupported migrate command %q", command)
	}
}

// MigrateToVersion moves the schema up or down until version is the latest applied.
func MigrateToVersion(ctx context.Context, db *sql.DB, fsys fs.FS, version string) ([]Step, error) {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", version, err)
	}
	p, err := newProvider(db, fsys)
	if err != nil {
		return nil, err
	}
	current, err := p.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current < target:
		results, err = p.UpTo(ctx, target)
	case current > target:
		results, err = p.DownTo(ctx, target)
	}
	return applied(results), wrap(fmt.Sprintf("migrate to %d", target), err)
}

func newProvider(db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if fsys == nil {
		fsys = Embedded()
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return p, nil
}

func applied(results []*goose.MigrationResult) []Step {
	steps := make([]Step, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		state := r.Direction
		if r.Error != nil {
			state = "failed"
		}
		steps = append(steps, Step{Version: r.Source.Version, Path: r.Source.Path, State: state})
	}
	return steps
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
