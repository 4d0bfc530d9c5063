package blueprint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new Repository backed by the given connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// selectBlueprints reads blueprints with their points aggregated in position
// order. Being a single statement, it observes one consistent snapshot.
const selectBlueprints = `
	SELECT b.author, b.name, b.created_at, b.updated_at,
	       COALESCE(array_agg(p.x ORDER BY p.position) FILTER (WHERE p.position IS NOT NULL), '{}'),
	       COALESCE(array_agg(p.y ORDER BY p.position) FILTER (WHERE p.position IS NOT NULL), '{}')
	FROM blueprints b
	LEFT JOIN points p ON p.blueprint_id = b.id`

// scanBlueprint scans a single Blueprint from a row.
func scanBlueprint(row pgx.Row) (*Blueprint, error) {
	var bp Blueprint
	var xs, ys []int32
	if err := row.Scan(&bp.Author, &bp.Name, &bp.CreatedAt, &bp.UpdatedAt, &xs, &ys); err != nil {
		return nil, err
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("point coordinates out of step: %d x values, %d y values", len(xs), len(ys))
	}
	bp.Points = make([]Point, len(xs))
	for i := range xs {
		bp.Points[i] = Point{X: int(xs[i]), Y: int(ys[i])}
	}
	return &bp, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create inserts the blueprint row and its points in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, bp *Blueprint) error {
	k := bp.Key()
	if err := checkPoints("create", k, bp.Points...); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO blueprints (author, name)
			VALUES ($1, $2)
			RETURNING id, created_at, updated_at`,
			bp.Author, bp.Name,
		).Scan(&id, &bp.CreatedAt, &bp.UpdatedAt)
		if err != nil {
			return err
		}
		return insertPoints(ctx, tx, id, bp.Points)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return duplicateKey("create", k)
		}
		return backendFailure("create", k, fmt.Errorf("inserting blueprint: %w", err))
	}
	return nil
}

// insertPoints copies pts into the points table at positions 0..len(pts)-1.
func insertPoints(ctx context.Context, tx pgx.Tx, id int64, pts []Point) error {
	if len(pts) == 0 {
		return nil
	}
	rows := make([][]any, len(pts))
	for i, p := range pts {
		rows[i] = []any{id, int32(i), int32(p.X), int32(p.Y)}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"points"},
		[]string{"blueprint_id", "position", "x", "y"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copying points: %w", err)
	}
	return nil
}

// Get retrieves a single blueprint by author and name.
func (r *PostgresRepository) Get(ctx context.Context, author, name string) (*Blueprint, error) {
	k := Key{Author: author, Name: name}
	query := selectBlueprints + ` WHERE b.author = $1 AND b.name = $2 GROUP BY b.id`

	bp, err := scanBlueprint(r.pool.QueryRow(ctx, query, author, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("get", k)
		}
		return nil, backendFailure("get", k, fmt.Errorf("scanning blueprint row: %w", err))
	}
	return bp, nil
}

// List retrieves all blueprints in creation order.
func (r *PostgresRepository) List(ctx context.Context) ([]Blueprint, error) {
	blueprints, err := r.list(ctx, selectBlueprints+` GROUP BY b.id ORDER BY b.id ASC`)
	if err != nil {
		return nil, backendFailure("list", Key{}, err)
	}
	return blueprints, nil
}

// ListByAuthor retrieves the author's blueprints in creation order.
func (r *PostgresRepository) ListByAuthor(ctx context.Context, author string) ([]Blueprint, error) {
	k := Key{Author: author}
	blueprints, err := r.list(ctx, selectBlueprints+` WHERE b.author = $1 GROUP BY b.id ORDER BY b.id ASC`, author)
	if err != nil {
		return nil, backendFailure("list by author", k, err)
	}
	if len(blueprints) == 0 {
		return nil, notFound("list by author", k)
	}
	return blueprints, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Blueprint, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing blueprints: %w", err)
	}
	defer rows.Close()

	blueprints := []Blueprint{}
	for rows.Next() {
		bp, err := scanBlueprint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning blueprint row: %w", err)
		}
		blueprints = append(blueprints, *bp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating blueprint rows: %w", err)
	}
	return blueprints, nil
}

// lockBlueprint resolves the surrogate id of (author, name) and holds a row
// lock on it until tx ends. It returns pgx.ErrNoRows when the key is absent.
func lockBlueprint(ctx context.Context, tx pgx.Tx, author, name string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`SELECT id FROM blueprints WHERE author = $1 AND name = $2 FOR UPDATE`,
		author, name,
	).Scan(&id)
	return id, err
}

// AddPoint appends one point after the current last position.
func (r *PostgresRepository) AddPoint(ctx context.Context, author, name string, p Point) error {
	k := Key{Author: author, Name: name}
	if err := checkPoints("add point", k, p); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		id, err := lockBlueprint(ctx, tx, author, name)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO points (blueprint_id, position, x, y)
			SELECT $1::bigint, COALESCE(MAX(position) + 1, 0), $2::integer, $3::integer
			FROM points WHERE blueprint_id = $1::bigint`,
			id, int32(p.X), int32(p.Y),
		)
		if err != nil {
			return fmt.Errorf("inserting point: %w", err)
		}
		return touch(ctx, tx, id)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("add point", k)
		}
		return backendFailure("add point", k, err)
	}
	return nil
}

// ReplacePoints swaps the whole point sequence inside one transaction, so no
// reader observes the intermediate empty state.
func (r *PostgresRepository) ReplacePoints(ctx context.Context, author, name string, pts []Point) error {
	k := Key{Author: author, Name: name}
	if err := checkPoints("replace points", k, pts...); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		id, err := lockBlueprint(ctx, tx, author, name)
		if err != nil {
			return err
		}
		if err := replacePoints(ctx, tx, id, pts); err != nil {
			return err
		}
		return touch(ctx, tx, id)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("replace points", k)
		}
		return backendFailure("replace points", k, err)
	}
	return nil
}

func replacePoints(ctx context.Context, tx pgx.Tx, id int64, pts []Point) error {
	if _, err := tx.Exec(ctx, `DELETE FROM points WHERE blueprint_id = $1`, id); err != nil {
		return fmt.Errorf("clearing points: %w", err)
	}
	return insertPoints(ctx, tx, id, pts)
}

func touch(ctx context.Context, tx pgx.Tx, id int64) error {
	if _, err := tx.Exec(ctx, `UPDATE blueprints SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touching blueprint: %w", err)
	}
	return nil
}

// Update renames the blueprint to bp's key and replaces its points in one
// transaction. The unique constraint on (author, name) rejects a rename onto
// a different blueprint; renaming onto itself updates the same row.
func (r *PostgresRepository) Update(ctx context.Context, author, name string, bp *Blueprint) error {
	from := Key{Author: author, Name: name}
	if err := checkPoints("update", from, bp.Points...); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		id, err := lockBlueprint(ctx, tx, author, name)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			UPDATE blueprints SET author = $1, name = $2, updated_at = NOW()
			WHERE id = $3
			RETURNING created_at, updated_at`,
			bp.Author, bp.Name, id,
		).Scan(&bp.CreatedAt, &bp.UpdatedAt)
		if err != nil {
			return err
		}
		return replacePoints(ctx, tx, id, bp.Points)
	})
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return notFound("update", from)
		case isUniqueViolation(err):
			return duplicateKey("update", bp.Key())
		}
		return backendFailure("update", from, fmt.Errorf("updating blueprint: %w", err))
	}
	return nil
}

// Delete removes a blueprint; its points go with it through ON DELETE CASCADE.
func (r *PostgresRepository) Delete(ctx context.Context, author, name string) error {
	k := Key{Author: author, Name: name}
	result, err := r.pool.Exec(ctx, `DELETE FROM blueprints WHERE author = $1 AND name = $2`, author, name)
	if err != nil {
		return backendFailure("delete", k, fmt.Errorf("deleting blueprint: %w", err))
	}

	if result.RowsAffected() == 0 {
		return notFound("delete", k)
	}

	return nil
}

// Ping verifies the database connection is alive.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

var _ Repository = (*PostgresRepository)(nil)
