// Package dbtest opens throwaway SQLite databases with the full schema
// applied, for use by package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/migrations"
)

// Open returns a migrated SQLite database living in t.TempDir. It is closed
// by t.Cleanup.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := stores.Open(context.Background(), "sqlite", dsn, stores.PoolConfig{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

// SeedUser inserts an active user with the given password hash.
func SeedUser(t testing.TB, db *sqlx.DB, username, email, passwordHash string) *stores.User {
	t.Helper()

	u := &stores.User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := stores.NewUserStore(db).Create(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u
}
