// Package pgtest connects tests to a local Postgres and skips them when none
// is reachable.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"shelfshare/migrations"
)

// Open connects using DATABASE_URL or the PG* variables and applies the
// schema. Tables are shared between packages, so tests work on fresh ids
// instead of emptying them.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			getEnv("PGHOST", "localhost"),
			getEnv("PGPORT", "5432"),
			getEnv("PGUSER", "user"),
			getEnv("PGPASSWORD", "password"),
			getEnv("PGDATABASE", "testdb"),
		)
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return db
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
