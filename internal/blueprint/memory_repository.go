package blueprint

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultShards is the shard count used when NewMemoryRepository is given a
// non-positive value.
const DefaultShards = 32

type record struct {
	bp  *Blueprint
	seq uint64
}

type shard struct {
	mu    sync.RWMutex
	items map[Key]*record
}

// MemoryRepository implements Repository on an in-process map split into
// independently locked shards. Writers on different keys only contend when
// their keys hash to the same shard. Multi-shard operations acquire shard
// locks in ascending index order.
type MemoryRepository struct {
	shards []*shard

	seq atomic.Uint64

	now func() time.Time
}

// NewMemoryRepository creates an empty in-memory Repository with n shards.
func NewMemoryRepository(n int) *MemoryRepository {
	if n <= 0 {
		n = DefaultShards
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{items: make(map[Key]*record)}
	}
	return &MemoryRepository{
		shards: shards,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) shardIndex(k Key) int {
	h := fnv.New32a()
	h.Write([]byte(k.Author))
	h.Write([]byte{0})
	h.Write([]byte(k.Name))
	return int(h.Sum32() % uint32(len(r.shards)))
}

// Create inserts a copy of bp. The existence check and the insert happen
// under the same shard lock.
func (r *MemoryRepository) Create(_ context.Context, bp *Blueprint) error {
	k := bp.Key()
	if err := checkPoints("create", k, bp.Points...); err != nil {
		return err
	}
	sh := r.shards[r.shardIndex(k)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.items[k]; ok {
		return duplicateKey("create", k)
	}

	stored := bp.Clone()
	now := r.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	sh.items[k] = &record{bp: stored, seq: r.seq.Add(1)}

	bp.CreatedAt = now
	bp.UpdatedAt = now
	return nil
}

// Get returns a copy of the blueprint with its full, unfiltered point sequence.
func (r *MemoryRepository) Get(_ context.Context, author, name string) (*Blueprint, error) {
	k := Key{Author: author, Name: name}
	sh := r.shards[r.shardIndex(k)]

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rec, ok := sh.items[k]
	if !ok {
		return nil, notFound("get", k)
	}
	return rec.bp.Clone(), nil
}

// List returns a snapshot of every blueprint in creation order.
func (r *MemoryRepository) List(_ context.Context) ([]Blueprint, error) {
	return r.snapshot(func(*record) bool { return true }), nil
}

// ListByAuthor returns a snapshot of the author's blueprints in creation
// order, or ErrNotFound when the author owns none.
func (r *MemoryRepository) ListByAuthor(_ context.Context, author string) ([]Blueprint, error) {
	out := r.snapshot(func(rec *record) bool { return rec.bp.Author == author })
	if len(out) == 0 {
		return nil, notFound("list by author", Key{Author: author})
	}
	return out, nil
}

// snapshot read-locks every shard before copying so that no concurrent
// rename can make a blueprint appear twice or not at all.
func (r *MemoryRepository) snapshot(keep func(*record) bool) []Blueprint {
	for _, sh := range r.shards {
		sh.mu.RLock()
	}
	recs := make([]*record, 0)
	for _, sh := range r.shards {
		for _, rec := range sh.items {
			if keep(rec) {
				recs = append(recs, rec)
			}
		}
	}
	out := make([]Blueprint, len(recs))
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	for i, rec := range recs {
		out[i] = *rec.bp.Clone()
	}
	for i := len(r.shards) - 1; i >= 0; i-- {
		r.shards[i].mu.RUnlock()
	}
	return out
}

// AddPoint appends p at the tail of the blueprint's points.
func (r *MemoryRepository) AddPoint(_ context.Context, author, name string, p Point) error {
	k := Key{Author: author, Name: name}
	if err := checkPoints("add point", k, p); err != nil {
		return err
	}
	sh := r.shards[r.shardIndex(k)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.items[k]
	if !ok {
		return notFound("add point", k)
	}
	rec.bp.AddPoint(p)
	rec.bp.UpdatedAt = r.now()
	return nil
}

// ReplacePoints installs a copy of pts as the blueprint's whole point sequence.
func (r *MemoryRepository) ReplacePoints(_ context.Context, author, name string, pts []Point) error {
	k := Key{Author: author, Name: name}
	if err := checkPoints("replace points", k, pts...); err != nil {
		return err
	}
	sh := r.shards[r.shardIndex(k)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.items[k]
	if !ok {
		return notFound("replace points", k)
	}
	rec.bp.Points = clonePoints(pts)
	rec.bp.UpdatedAt = r.now()
	return nil
}

// Update re-keys the blueprint stored under (author, name) to bp's key and
// replaces its points with bp's. Both shards involved are held for the whole
// operation, so readers see the blueprint under exactly one key.
func (r *MemoryRepository) Update(_ context.Context, author, name string, bp *Blueprint) error {
	from := Key{Author: author, Name: name}
	to := bp.Key()
	if err := checkPoints("update", from, bp.Points...); err != nil {
		return err
	}

	unlock := r.lockPair(r.shardIndex(from), r.shardIndex(to))
	defer unlock()

	src := r.shards[r.shardIndex(from)]
	dst := r.shards[r.shardIndex(to)]

	rec, ok := src.items[from]
	if !ok {
		return notFound("update", from)
	}
	if to != from {
		if _, taken := dst.items[to]; taken {
			return duplicateKey("update", to)
		}
	}

	updated := rec.bp.Clone()
	updated.Author = to.Author
	updated.Name = to.Name
	updated.Points = clonePoints(bp.Points)
	updated.UpdatedAt = r.now()

	delete(src.items, from)
	dst.items[to] = &record{bp: updated, seq: rec.seq}

	bp.CreatedAt = updated.CreatedAt
	bp.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *MemoryRepository) lockPair(i, j int) func() {
	if i == j {
		r.shards[i].mu.Lock()
		return r.shards[i].mu.Unlock
	}
	if j < i {
		i, j = j, i
	}
	r.shards[i].mu.Lock()
	r.shards[j].mu.Lock()
	return func() {
		r.shards[j].mu.Unlock()
		r.shards[i].mu.Unlock()
	}
}

// Delete removes the blueprint together with all of its points.
func (r *MemoryRepository) Delete(_ context.Context, author, name string) error {
	k := Key{Author: author, Name: name}
	sh := r.shards[r.shardIndex(k)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.items[k]; !ok {
		return notFound("delete", k)
	}
	delete(sh.items, k)
	return nil
}

// Ping always succeeds for the in-memory store.
func (r *MemoryRepository) Ping(_ context.Context) error {
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
