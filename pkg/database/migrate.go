package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	//go:embed migrations/postgres.sql
	postgresSchema string

	//go:embed migrations/sqlite.sql
	sqliteSchema string
)

// MigratePostgres applies the server schema. Statements are idempotent.
func MigratePostgres(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// MigrateSQLite applies the device-local queue schema.
func MigrateSQLite(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}
