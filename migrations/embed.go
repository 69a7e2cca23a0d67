// Package migrations embeds the SQL schema so the service binary is
// self-contained. Two dialects are shipped: sqlite (tests, single-node dev)
// and postgres (production).
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
)

// FS contains all *.sql migration files embedded at compile time.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dialect maps a sqlx driver name onto the migration directory to apply.
func Dialect(driverName string) (string, error) {
	switch driverName {
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "postgres", "pgx":
		return "postgres", nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driverName)
	}
}

// Apply runs every migration not yet recorded in schema_migrations, in
// lexical order. It is safe to call on every start-up.
func Apply(ctx context.Context, db *sqlx.DB) error {
	dialect, err := Dialect(db.DriverName())
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("migrations: create bookkeeping table: %w", err)
	}

	entries, err := fs.ReadDir(FS, dialect)
	if err != nil {
		return fmt.Errorf("migrations: read %s: %w", dialect, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied int
		if err := db.GetContext(ctx, &applied,
			db.Rebind(`SELECT COUNT(1) FROM schema_migrations WHERE version = ?`), name); err != nil {
			return fmt.Errorf("migrations: check %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		body, err := FS.ReadFile(path.Join(dialect, name))
		if err != nil {
			return fmt.Errorf("migrations: read %s: %w", name, err)
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrations: begin %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrations: apply %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`),
			name, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrations: record %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrations: commit %s: %w", name, err)
		}
	}

	return nil
}
