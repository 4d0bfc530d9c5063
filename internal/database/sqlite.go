package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/daap14/blueprints/internal/database/migrations"
)

// OpenSQLite opens the SQLite database at path with foreign keys enforced and
// applies the embedded SQLite migrations. The handle is limited to a single
// connection so that SQLite sees exactly one writer at a time.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := migrateSQLite(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return sqlDB, nil
}

func migrateSQLite(ctx context.Context, sqlDB *sql.DB) error {
	pending, err := loadMigrations(migrations.SQLite, "sqlite")
	if err != nil {
		return err
	}

	_, err = sqlDB.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name       TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`, migrationTable))
	if err != nil {
		return fmt.Errorf("ensuring migration table: %w", err)
	}

	for _, m := range pending {
		if err := applySQLiteMigration(ctx, sqlDB, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}

func applySQLiteMigration(ctx context.Context, sqlDB *sql.DB, m migration) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var found int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE name = ?`, migrationTable), m.name,
	).Scan(&found)
	if err != nil {
		return fmt.Errorf("checking migration: %w", err)
	}
	if found > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, m.up); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (name, applied_at) VALUES (?, ?)`, migrationTable),
		m.name, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}
