package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daap14/blueprints/internal/database/migrations"
)

// migrationLockID serializes schema migration across service instances.
const migrationLockID = 727_384_113

// DB wraps a pgxpool.Pool for blueprint storage.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new DB by parsing the given database URL and establishing a connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Pool returns the underlying pgxpool.Pool for repository use.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Migrate applies the embedded PostgreSQL migrations that have not run yet.
// Each file runs in its own transaction under a transaction-scoped advisory
// lock.
func (db *DB) Migrate(ctx context.Context) error {
	pending, err := loadMigrations(migrations.Postgres, "postgres")
	if err != nil {
		return err
	}

	_, err = db.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, migrationTable))
	if err != nil {
		return fmt.Errorf("ensuring migration table: %w", err)
	}

	for _, m := range pending {
		err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
				return fmt.Errorf("acquiring migration lock: %w", err)
			}

			var applied bool
			err := tx.QueryRow(ctx,
				fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE name = $1)`, migrationTable),
				m.name,
			).Scan(&applied)
			if err != nil {
				return fmt.Errorf("checking migration: %w", err)
			}
			if applied {
				return nil
			}

			if _, err := tx.Exec(ctx, m.up); err != nil {
				return fmt.Errorf("executing migration: %w", err)
			}
			_, err = tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1)`, migrationTable), m.name)
			if err != nil {
				return fmt.Errorf("recording migration: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}

	return nil
}
