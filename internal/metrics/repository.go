package metrics

import (
	"context"
	"time"

	"github.com/daap14/blueprints/internal/blueprint"
)

// InstrumentedRepository decorates a blueprint.Repository with operation
// counters and latency histograms.
type InstrumentedRepository struct {
	next    blueprint.Repository
	metrics *Metrics
}

// NewInstrumentedRepository wraps next so that every call is recorded on m.
func NewInstrumentedRepository(next blueprint.Repository, m *Metrics) *InstrumentedRepository {
	return &InstrumentedRepository{next: next, metrics: m}
}

func (r *InstrumentedRepository) observe(op string, start time.Time, err error) {
	r.metrics.RecordStoreOperation(op, err, time.Since(start))
}

func (r *InstrumentedRepository) Create(ctx context.Context, bp *blueprint.Blueprint) (err error) {
	defer func(start time.Time) { r.observe("create", start, err) }(time.Now())
	return r.next.Create(ctx, bp)
}

func (r *InstrumentedRepository) Get(ctx context.Context, author, name string) (bp *blueprint.Blueprint, err error) {
	defer func(start time.Time) { r.observe("get", start, err) }(time.Now())
	return r.next.Get(ctx, author, name)
}

func (r *InstrumentedRepository) List(ctx context.Context) (bps []blueprint.Blueprint, err error) {
	defer func(start time.Time) { r.observe("list", start, err) }(time.Now())
	return r.next.List(ctx)
}

func (r *InstrumentedRepository) ListByAuthor(ctx context.Context, author string) (bps []blueprint.Blueprint, err error) {
	defer func(start time.Time) { r.observe("list_by_author", start, err) }(time.Now())
	return r.next.ListByAuthor(ctx, author)
}

func (r *InstrumentedRepository) AddPoint(ctx context.Context, author, name string, p blueprint.Point) (err error) {
	defer func(start time.Time) { r.observe("add_point", start, err) }(time.Now())
	return r.next.AddPoint(ctx, author, name, p)
}

func (r *InstrumentedRepository) ReplacePoints(ctx context.Context, author, name string, pts []blueprint.Point) (err error) {
	defer func(start time.Time) { r.observe("replace_points", start, err) }(time.Now())
	return r.next.ReplacePoints(ctx, author, name, pts)
}

func (r *InstrumentedRepository) Update(ctx context.Context, author, name string, bp *blueprint.Blueprint) (err error) {
	defer func(start time.Time) { r.observe("update", start, err) }(time.Now())
	return r.next.Update(ctx, author, name, bp)
}

func (r *InstrumentedRepository) Delete(ctx context.Context, author, name string) (err error) {
	defer func(start time.Time) { r.observe("delete", start, err) }(time.Now())
	return r.next.Delete(ctx, author, name)
}

// Ping is passed through without being recorded.
func (r *InstrumentedRepository) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

var _ blueprint.Repository = (*InstrumentedRepository)(nil)
