package blueprint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteRepository implements Repository on a SQLite database opened by
// database.OpenSQLite. Every multi-statement operation runs in a transaction.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a Repository backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Create inserts the blueprint row and its points in one transaction.
func (r *SQLiteRepository) Create(ctx context.Context, bp *Blueprint) error {
	k := bp.Key()
	if err := checkPoints("create", k, bp.Points...); err != nil {
		return err
	}
	now := r.now()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO blueprints (author, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			bp.Author, bp.Name, toMillis(now), toMillis(now),
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading blueprint id: %w", err)
		}
		return sqliteInsertPoints(ctx, tx, id, bp.Points)
	})
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return duplicateKey("create", k)
		}
		return backendFailure("create", k, fmt.Errorf("inserting blueprint: %w", err))
	}
	bp.CreatedAt = fromMillis(toMillis(now))
	bp.UpdatedAt = bp.CreatedAt
	return nil
}

func sqliteInsertPoints(ctx context.Context, tx *sql.Tx, id int64, pts []Point) error {
	if len(pts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO points (blueprint_id, position, x, y) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing point insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range pts {
		if _, err := stmt.ExecContext(ctx, id, i, p.X, p.Y); err != nil {
			return fmt.Errorf("inserting point %d: %w", i, err)
		}
	}
	return nil
}

// Get retrieves a single blueprint by author and name.
func (r *SQLiteRepository) Get(ctx context.Context, author, name string) (*Blueprint, error) {
	k := Key{Author: author, Name: name}
	var out []Blueprint
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = sqliteQuery(ctx, tx, `WHERE author = ? AND name = ?`, author, name)
		return err
	})
	if err != nil {
		return nil, backendFailure("get", k, err)
	}
	if len(out) == 0 {
		return nil, notFound("get", k)
	}
	return &out[0], nil
}

// List retrieves all blueprints in creation order.
func (r *SQLiteRepository) List(ctx context.Context) ([]Blueprint, error) {
	var out []Blueprint
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = sqliteQuery(ctx, tx, "")
		return err
	})
	if err != nil {
		return nil, backendFailure("list", Key{}, err)
	}
	return out, nil
}

// ListByAuthor retrieves the author's blueprints in creation order.
func (r *SQLiteRepository) ListByAuthor(ctx context.Context, author string) ([]Blueprint, error) {
	k := Key{Author: author}
	var out []Blueprint
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = sqliteQuery(ctx, tx, `WHERE author = ?`, author)
		return err
	})
	if err != nil {
		return nil, backendFailure("list by author", k, err)
	}
	if len(out) == 0 {
		return nil, notFound("list by author", k)
	}
	return out, nil
}

// sqliteQuery loads the blueprints matching where, then their points, inside
// the caller's transaction.
func sqliteQuery(ctx context.Context, tx *sql.Tx, where string, args ...any) ([]Blueprint, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, author, name, created_at, updated_at FROM blueprints `+where+` ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing blueprints: %w", err)
	}

	var ids []int64
	blueprints := []Blueprint{}
	index := map[int64]int{}
	for rows.Next() {
		var (
			id                   int64
			bp                   Blueprint
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&id, &bp.Author, &bp.Name, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning blueprint row: %w", err)
		}
		bp.CreatedAt = fromMillis(createdAt)
		bp.UpdatedAt = fromMillis(updatedAt)
		bp.Points = []Point{}
		index[id] = len(blueprints)
		ids = append(ids, id)
		blueprints = append(blueprints, bp)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating blueprint rows: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return blueprints, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	idArgs := make([]any, len(ids))
	for i, id := range ids {
		idArgs[i] = id
	}
	pointRows, err := tx.QueryContext(ctx,
		`SELECT blueprint_id, x, y FROM points WHERE blueprint_id IN (`+placeholders+`) ORDER BY blueprint_id, position`,
		idArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing points: %w", err)
	}
	defer pointRows.Close()

	for pointRows.Next() {
		var id int64
		var p Point
		if err := pointRows.Scan(&id, &p.X, &p.Y); err != nil {
			return nil, fmt.Errorf("scanning point row: %w", err)
		}
		i := index[id]
		blueprints[i].Points = append(blueprints[i].Points, p)
	}
	if err := pointRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating point rows: %w", err)
	}
	return blueprints, nil
}

func sqliteLookup(ctx context.Context, tx *sql.Tx, author, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM blueprints WHERE author = ? AND name = ?`, author, name,
	).Scan(&id)
	return id, err
}

// AddPoint appends one point after the current last position.
func (r *SQLiteRepository) AddPoint(ctx context.Context, author, name string, p Point) error {
	k := Key{Author: author, Name: name}
	if err := checkPoints("add point", k, p); err != nil {
		return err
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		id, err := sqliteLookup(ctx, tx, author, name)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO points (blueprint_id, position, x, y)
			SELECT ?, COALESCE(MAX(position) + 1, 0), ?, ? FROM points WHERE blueprint_id = ?`,
			id, p.X, p.Y, id,
		)
		if err != nil {
			return fmt.Errorf("inserting point: %w", err)
		}
		return r.touch(ctx, tx, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("add point", k)
		}
		return backendFailure("add point", k, err)
	}
	return nil
}

// ReplacePoints swaps the whole point sequence inside one transaction.
func (r *SQLiteRepository) ReplacePoints(ctx context.Context, author, name string, pts []Point) error {
	k := Key{Author: author, Name: name}
	if err := checkPoints("replace points", k, pts...); err != nil {
		return err
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		id, err := sqliteLookup(ctx, tx, author, name)
		if err != nil {
			return err
		}
		if err := sqliteReplacePoints(ctx, tx, id, pts); err != nil {
			return err
		}
		return r.touch(ctx, tx, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("replace points", k)
		}
		return backendFailure("replace points", k, err)
	}
	return nil
}

func sqliteReplacePoints(ctx context.Context, tx *sql.Tx, id int64, pts []Point) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE blueprint_id = ?`, id); err != nil {
		return fmt.Errorf("clearing points: %w", err)
	}
	return sqliteInsertPoints(ctx, tx, id, pts)
}

func (r *SQLiteRepository) touch(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE blueprints SET updated_at = ? WHERE id = ?`, toMillis(r.now()), id); err != nil {
		return fmt.Errorf("touching blueprint: %w", err)
	}
	return nil
}

// Update renames the blueprint to bp's key and replaces its points in one
// transaction.
func (r *SQLiteRepository) Update(ctx context.Context, author, name string, bp *Blueprint) error {
	from := Key{Author: author, Name: name}
	if err := checkPoints("update", from, bp.Points...); err != nil {
		return err
	}
	now := r.now()
	var createdAt int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		id, err := sqliteLookup(ctx, tx, author, name)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE blueprints SET author = ?, name = ?, updated_at = ? WHERE id = ?`,
			bp.Author, bp.Name, toMillis(now), id,
		)
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT created_at FROM blueprints WHERE id = ?`, id).Scan(&createdAt); err != nil {
			return fmt.Errorf("reading created_at: %w", err)
		}
		return sqliteReplacePoints(ctx, tx, id, bp.Points)
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return notFound("update", from)
		case isSQLiteUniqueViolation(err):
			return duplicateKey("update", bp.Key())
		}
		return backendFailure("update", from, fmt.Errorf("updating blueprint: %w", err))
	}
	bp.CreatedAt = fromMillis(createdAt)
	bp.UpdatedAt = fromMillis(toMillis(now))
	return nil
}

// Delete removes a blueprint; its points go with it through ON DELETE CASCADE.
func (r *SQLiteRepository) Delete(ctx context.Context, author, name string) error {
	k := Key{Author: author, Name: name}
	result, err := r.db.ExecContext(ctx, `DELETE FROM blueprints WHERE author = ? AND name = ?`, author, name)
	if err != nil {
		return backendFailure("delete", k, fmt.Errorf("deleting blueprint: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return backendFailure("delete", k, fmt.Errorf("reading affected rows: %w", err))
	}
	if n == 0 {
		return notFound("delete", k)
	}
	return nil
}

// Ping verifies the database handle is usable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

var _ Repository = (*SQLiteRepository)(nil)
