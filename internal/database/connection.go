// Package database owns the Postgres connection pool and the
// repository operations: UpsertImageStatus,
// BulkInsertDetections, NearestProfiles (delegated to internal/vector),
// LockProfileForUpdate, UpdateProfile, InsertProfile.
package database

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/config"
)

// Open establishes the Postgres connection pool used by every
// repository, built on the pgx driver for protocol quality and wrapped
// in sqlx for struct-scanning convenience.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, cfg.SSLMode)

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 25))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return db, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// DSN builds the libpq-style connection string used by lib/pq's
// Listener, which manages its own raw connection outside the sqlx pool
// above (used only for LISTEN/NOTIFY queue wake-ups, never for regular
// queries).
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, cfg.SSLMode)
}

// Stats exposes pool occupancy for observability endpoints.
type Stats struct {
	Available          bool
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
}

func GetStats(db *sqlx.DB) Stats {
	if db == nil {
		return Stats{Available: false}
	}
	s := db.Stats()
	return Stats{
		Available:         true,
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
	}
}
