package blueprint_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daap14/blueprints/internal/blueprint"
	"github.com/daap14/blueprints/internal/database"
)

// --- Backends ---

type backend struct {
	name     string
	parallel bool
	open     func(t *testing.T) blueprint.Repository
}

func backends() []backend {
	return []backend{
		{
			name:     "memory",
			parallel: true,
			open: func(t *testing.T) blueprint.Repository {
				return blueprint.NewMemoryRepository(4)
			},
		},
		{
			name:     "memory_single_shard",
			parallel: true,
			open: func(t *testing.T) blueprint.Repository {
				return blueprint.NewMemoryRepository(1)
			},
		},
		{
			name:     "sqlite",
			parallel: true,
			open: func(t *testing.T) blueprint.Repository {
				t.Helper()
				db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "blueprints.db"))
				require.NoError(t, err)
				t.Cleanup(func() { _ = db.Close() })
				return blueprint.NewSQLiteRepository(db)
			},
		},
		{
			name: "postgres",
			open: func(t *testing.T) blueprint.Repository {
				t.Helper()
				dsn := os.Getenv("TEST_DATABASE_URL")
				if dsn == "" {
					t.Skip("TEST_DATABASE_URL not set; skipping postgres repository tests")
				}
				ctx := context.Background()
				db, err := database.New(ctx, dsn)
				require.NoError(t, err)
				t.Cleanup(db.Close)
				require.NoError(t, db.Migrate(ctx))
				_, err = db.Pool().Exec(ctx, "TRUNCATE blueprints CASCADE")
				require.NoError(t, err)
				return blueprint.NewPostgresRepository(db.Pool())
			},
		},
	}
}

// forEachBackend runs fn once per storage backend against a fresh, empty store.
func forEachBackend(t *testing.T, fn func(t *testing.T, repo blueprint.Repository)) {
	t.Helper()
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			if b.parallel {
				t.Parallel()
			}
			fn(t, b.open(t))
		})
	}
}

func mustCreate(t *testing.T, repo blueprint.Repository, author, name string, pts ...blueprint.Point) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), blueprint.New(author, name, pts...)))
}

func pts(coords ...int) []blueprint.Point {
	out := make([]blueprint.Point, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		out = append(out, blueprint.Point{X: coords[i], Y: coords[i+1]})
	}
	return out
}

func keysOf(bps []blueprint.Blueprint) []string {
	out := make([]string, len(bps))
	for i := range bps {
		out[i] = bps[i].Key().String()
	}
	return out
}

// ===== Create / Get =====

func TestRepository_CreateAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()

		bp := blueprint.New("ann", "house", pts(1, 1, 2, 2, 3, 3)...)
		require.NoError(t, repo.Create(ctx, bp))
		assert.False(t, bp.CreatedAt.IsZero())

		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, "ann", got.Author)
		assert.Equal(t, "house", got.Name)
		assert.Equal(t, pts(1, 1, 2, 2, 3, 3), got.Points)
		assert.False(t, got.CreatedAt.IsZero())
		assert.False(t, got.UpdatedAt.IsZero())
	})
}

func TestRepository_CreateWithoutPoints(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		mustCreate(t, repo, "ann", "empty")

		got, err := repo.Get(context.Background(), "ann", "empty")
		require.NoError(t, err)
		assert.Empty(t, got.Points)
	})
}

func TestRepository_CreateDuplicate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1)...)

		err := repo.Create(ctx, blueprint.New("ann", "house", pts(9, 9)...))
		require.Error(t, err)
		assert.True(t, errors.Is(err, blueprint.ErrDuplicateKey))
		assert.False(t, errors.Is(err, blueprint.ErrBackendFailure))

		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, pts(1, 1), got.Points, "existing blueprint must be untouched")
	})
}

func TestRepository_KeysAreCaseSensitive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		mustCreate(t, repo, "ann", "house")
		mustCreate(t, repo, "Ann", "house")
		mustCreate(t, repo, "ann", "House")

		all, err := repo.List(context.Background())
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestRepository_GetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		_, err := repo.Get(context.Background(), "ann", "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, blueprint.ErrNotFound))

		var storeErr *blueprint.Error
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "get", storeErr.Op)
		assert.Equal(t, "ann", storeErr.Author)
		assert.Equal(t, "missing", storeErr.Name)
	})
}

func TestRepository_GetReturnsCopy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1, 2, 2)...)

		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		got.Points[0] = blueprint.Point{X: 100, Y: 100}
		got.AddPoint(blueprint.Point{X: 7, Y: 7})

		again, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, pts(1, 1, 2, 2), again.Points)
	})
}

func TestRepository_CreateKeepsCallerSliceIndependent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		bp := blueprint.New("ann", "house", pts(1, 1)...)
		require.NoError(t, repo.Create(ctx, bp))

		bp.Points[0] = blueprint.Point{X: 5, Y: 5}

		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, pts(1, 1), got.Points)
	})
}

// ===== List / ListByAuthor =====

func TestRepository_ListEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		all, err := repo.List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestRepository_ListInCreationOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		mustCreate(t, repo, "bob", "zeta")
		mustCreate(t, repo, "ann", "alpha", pts(1, 2)...)
		mustCreate(t, repo, "ann", "beta")

		all, err := repo.List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"bob/zeta", "ann/alpha", "ann/beta"}, keysOf(all))
		assert.Equal(t, pts(1, 2), all[1].Points)
	})
}

func TestRepository_ListByAuthor(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		mustCreate(t, repo, "ann", "house", pts(1, 1)...)
		mustCreate(t, repo, "bob", "garage")
		mustCreate(t, repo, "ann", "shed", pts(2, 2, 3, 3)...)

		got, err := repo.ListByAuthor(context.Background(), "ann")
		require.NoError(t, err)
		assert.Equal(t, []string{"ann/house", "ann/shed"}, keysOf(got))
		assert.Equal(t, pts(2, 2, 3, 3), got[1].Points)
	})
}

func TestRepository_ListByAuthorUnknown(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		mustCreate(t, repo, "ann", "house")

		_, err := repo.ListByAuthor(context.Background(), "zoe")
		require.Error(t, err)
		assert.True(t, errors.Is(err, blueprint.ErrNotFound))

		var storeErr *blueprint.Error
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "zoe", storeErr.Author)
		assert.Empty(t, storeErr.Name)
	})
}

// ===== AddPoint / ReplacePoints =====

func TestRepository_AddPointAppendsAtTail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1)...)

		require.NoError(t, repo.AddPoint(ctx, "ann", "house", blueprint.Point{X: 2, Y: 2}))
		require.NoError(t, repo.AddPoint(ctx, "ann", "house", blueprint.Point{X: 1, Y: 1}))

		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, pts(1, 1, 2, 2, 1, 1), got.Points)
	})
}

func TestRepository_AddPointToEmptyBlueprint(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "empty")

		require.NoError(t, repo.AddPoint(ctx, "ann", "empty", blueprint.Point{X: -3, Y: 4}))

		got, err := repo.Get(ctx, "ann", "empty")
		require.NoError(t, err)
		assert.Equal(t, pts(-3, 4), got.Points)
	})
}

func TestRepository_AddPointMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		err := repo.AddPoint(context.Background(), "ann", "missing", blueprint.Point{X: 1, Y: 1})
		assert.True(t, errors.Is(err, blueprint.ErrNotFound))
	})
}

func TestRepository_AddPointConcurrent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house")

		const n = 100
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- repo.AddPoint(ctx, "ann", "house", blueprint.Point{X: i, Y: -i})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		require.Len(t, got.Points, n, "no append may be lost")

		seen := make(map[blueprint.Point]bool, n)
		for _, p := range got.Points {
			seen[p] = true
		}
		for i := 0; i < n; i++ {
			assert.True(t, seen[blueprint.Point{X: i, Y: -i}], "point %d missing", i)
		}
	})
}

func TestRepository_ReplacePoints(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1, 2, 2)...)

		require.NoError(t, repo.ReplacePoints(ctx, "ann", "house", pts(5, 5, 6, 6, 7, 7)))
		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, pts(5, 5, 6, 6, 7, 7), got.Points)

		require.NoError(t, repo.ReplacePoints(ctx, "ann", "house", nil))
		got, err = repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Empty(t, got.Points)
	})
}

func TestRepository_ReplacePointsMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		err := repo.ReplacePoints(context.Background(), "ann", "missing", pts(1, 1))
		assert.True(t, errors.Is(err, blueprint.ErrNotFound))
	})
}

func TestRepository_RejectsOutOfRangeCoordinates(t *testing.T) {
	if strconv.IntSize == 32 {
		t.Skip("int cannot exceed the coordinate range")
	}
	tooBig := blueprint.MaxCoordinate
	tooBig++
	tooSmall := blueprint.MinCoordinate
	tooSmall--

	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1)...)

		assertInvalid := func(t *testing.T, err error, op string) {
			t.Helper()
			require.Error(t, err)
			assert.True(t, errors.Is(err, blueprint.ErrInvalidPoint), "got %v", err)
			var storeErr *blueprint.Error
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, op, storeErr.Op)
		}

		assertInvalid(t, repo.Create(ctx, blueprint.New("ann", "big", blueprint.Point{X: tooBig, Y: 0})), "create")
		_, err := repo.Get(ctx, "ann", "big")
		assert.True(t, errors.Is(err, blueprint.ErrNotFound), "rejected create stores nothing")

		assertInvalid(t, repo.AddPoint(ctx, "ann", "house", blueprint.Point{X: 0, Y: tooSmall}), "add point")
		assertInvalid(t, repo.ReplacePoints(ctx, "ann", "house", []blueprint.Point{{X: 2, Y: 2}, {X: tooBig, Y: tooBig}}), "replace points")
		assertInvalid(t, repo.Update(ctx, "ann", "house", blueprint.New("ann", "villa", blueprint.Point{X: tooSmall, Y: 0})), "update")

		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, pts(1, 1), got.Points, "rejected writes leave the blueprint untouched")

		edge := []blueprint.Point{{X: blueprint.MinCoordinate, Y: blueprint.MaxCoordinate}}
		require.NoError(t, repo.ReplacePoints(ctx, "ann", "house", edge))
		got, err = repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, edge, got.Points)
	})
}

// ===== Update =====

func TestRepository_UpdateRenamesAndReplacesPoints(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1)...)
		mustCreate(t, repo, "ann", "other")

		update := blueprint.New("bob", "villa", pts(9, 9, 8, 8)...)
		require.NoError(t, repo.Update(ctx, "ann", "house", update))
		assert.False(t, update.CreatedAt.IsZero())

		_, err := repo.Get(ctx, "ann", "house")
		assert.True(t, errors.Is(err, blueprint.ErrNotFound), "old key must be gone")

		got, err := repo.Get(ctx, "bob", "villa")
		require.NoError(t, err)
		assert.Equal(t, pts(9, 9, 8, 8), got.Points)

		all, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob/villa", "ann/other"}, keysOf(all), "rename keeps creation order")
	})
}

func TestRepository_UpdateSameKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1)...)

		require.NoError(t, repo.Update(ctx, "ann", "house", blueprint.New("ann", "house", pts(2, 2)...)))

		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, pts(2, 2), got.Points)
	})
}

func TestRepository_UpdateOntoExistingKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1)...)
		mustCreate(t, repo, "bob", "villa", pts(2, 2)...)

		err := repo.Update(ctx, "ann", "house", blueprint.New("bob", "villa", pts(3, 3)...))
		require.Error(t, err)
		assert.True(t, errors.Is(err, blueprint.ErrDuplicateKey))

		var storeErr *blueprint.Error
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "bob", storeErr.Author)
		assert.Equal(t, "villa", storeErr.Name)

		src, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Equal(t, pts(1, 1), src.Points)

		dst, err := repo.Get(ctx, "bob", "villa")
		require.NoError(t, err)
		assert.Equal(t, pts(2, 2), dst.Points)
	})
}

func TestRepository_UpdateMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		err := repo.Update(context.Background(), "ann", "missing", blueprint.New("ann", "found"))
		assert.True(t, errors.Is(err, blueprint.ErrNotFound))
	})
}

// Concurrent renames must never make a blueprint appear twice or vanish from
// a listing.
func TestRepository_RenameVisibleUnderExactlyOneKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "a", pts(1, 1)...)
		mustCreate(t, repo, "ann", "anchor")

		const rounds = 50
		done := make(chan struct{})
		renameErr := make(chan error, 1)
		go func() {
			defer close(done)
			from, to := "a", "b"
			for i := 0; i < rounds; i++ {
				if err := repo.Update(ctx, "ann", from, blueprint.New("ann", to, pts(i, i)...)); err != nil {
					renameErr <- err
					return
				}
				from, to = to, from
			}
		}()

		for {
			select {
			case <-done:
				select {
				case err := <-renameErr:
					require.NoError(t, err)
				default:
				}
				return
			default:
			}
			all, err := repo.List(ctx)
			require.NoError(t, err)
			count := 0
			for _, k := range keysOf(all) {
				if k == "ann/a" || k == "ann/b" {
					count++
				}
			}
			require.Equal(t, 1, count, "renamed blueprint seen %d times in %v", count, keysOf(all))
		}
	})
}

// ===== Delete =====

func TestRepository_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1, 2, 2)...)

		require.NoError(t, repo.Delete(ctx, "ann", "house"))

		_, err := repo.Get(ctx, "ann", "house")
		assert.True(t, errors.Is(err, blueprint.ErrNotFound))

		_, err = repo.ListByAuthor(ctx, "ann")
		assert.True(t, errors.Is(err, blueprint.ErrNotFound))

		err = repo.Delete(ctx, "ann", "house")
		assert.True(t, errors.Is(err, blueprint.ErrNotFound), "second delete reports not found")
	})
}

func TestRepository_DeleteRemovesPoints(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		ctx := context.Background()
		mustCreate(t, repo, "ann", "house", pts(1, 1, 2, 2)...)
		require.NoError(t, repo.Delete(ctx, "ann", "house"))

		mustCreate(t, repo, "ann", "house")
		got, err := repo.Get(ctx, "ann", "house")
		require.NoError(t, err)
		assert.Empty(t, got.Points, "recreated blueprint must not inherit old points")
	})
}

func TestRepository_Ping(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo blueprint.Repository) {
		assert.NoError(t, repo.Ping(context.Background()))
	})
}

// ===== Memory specifics =====

func TestMemoryRepository_NonPositiveShardsUsesDefault(t *testing.T) {
	t.Parallel()

	repo := blueprint.NewMemoryRepository(0)
	ctx := context.Background()
	for i := 0; i < blueprint.DefaultShards*2; i++ {
		require.NoError(t, repo.Create(ctx, blueprint.New("ann", fmt.Sprintf("bp-%02d", i))))
	}

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, blueprint.DefaultShards*2)
	for i := range all {
		assert.Equal(t, fmt.Sprintf("bp-%02d", i), all[i].Name)
	}
}

func TestMemoryRepository_ConcurrentWritersOnDistinctKeys(t *testing.T) {
	t.Parallel()

	repo := blueprint.NewMemoryRepository(8)
	ctx := context.Background()

	const authors = 20
	var wg sync.WaitGroup
	for a := 0; a < authors; a++ {
		wg.Add(1)
		go func(a int) {
			defer wg.Done()
			author := fmt.Sprintf("author-%d", a)
			assert.NoError(t, repo.Create(ctx, blueprint.New(author, "plan")))
			for i := 0; i < 10; i++ {
				assert.NoError(t, repo.AddPoint(ctx, author, "plan", blueprint.Point{X: a, Y: i}))
			}
		}(a)
	}
	wg.Wait()

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, authors)
	for _, bp := range all {
		assert.Len(t, bp.Points, 10)
	}
}
