package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// NewSQLite opens the device-local store backing the offline scan queue and
// applies its schema. Timestamps are written in SQLite's own text format so
// that range comparisons in SQL order correctly. A single connection
// serialises writers, which also keeps ":memory:" databases shared across
// calls.
func NewSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if !strings.Contains(path, "?") {
		dsn = path + "?_time_format=sqlite&_pragma=busy_timeout(5000)"
		if path != ":memory:" {
			dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
		}
	}

	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(time.Duration(0))

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	var integrity string
	if err := db.GetContext(ctx, &integrity, "PRAGMA integrity_check"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite integrity check: %w", err)
	}
	if integrity != "ok" {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite integrity check: %s", integrity)
	}

	if err := MigrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
