package service

import (
	"context"
	"log/slog"

	"github.com/daap14/blueprints/internal/blueprint"
	"github.com/daap14/blueprints/internal/filter"
)

// BlueprintService composes a Repository with the filter chosen at startup.
// Only single-blueprint reads go through the filter; collection reads and
// all writes reach the repository untouched.
type BlueprintService struct {
	repo   blueprint.Repository
	filter filter.Filter
}

// NewBlueprintService creates a BlueprintService. A nil filter selects Identity.
func NewBlueprintService(repo blueprint.Repository, f filter.Filter) *BlueprintService {
	if f == nil {
		f = filter.Identity{}
	}
	return &BlueprintService{repo: repo, filter: f}
}

// GetAll returns every blueprint, unfiltered.
func (s *BlueprintService) GetAll(ctx context.Context) ([]blueprint.Blueprint, error) {
	return s.repo.List(ctx)
}

// GetByAuthor returns the author's blueprints, unfiltered.
func (s *BlueprintService) GetByAuthor(ctx context.Context, author string) ([]blueprint.Blueprint, error) {
	return s.repo.ListByAuthor(ctx, author)
}

// Get returns one blueprint passed through the active filter.
func (s *BlueprintService) Get(ctx context.Context, author, name string) (*blueprint.Blueprint, error) {
	bp, err := s.repo.Get(ctx, author, name)
	if err != nil {
		return nil, err
	}
	return s.filter.Apply(bp), nil
}

// Create stores a new blueprint.
func (s *BlueprintService) Create(ctx context.Context, bp *blueprint.Blueprint) error {
	if err := s.repo.Create(ctx, bp); err != nil {
		return err
	}
	slog.Info("blueprint created", "author", bp.Author, "name", bp.Name, "points", len(bp.Points))
	return nil
}

// AddPoint appends one point to an existing blueprint.
func (s *BlueprintService) AddPoint(ctx context.Context, author, name string, p blueprint.Point) error {
	if err := s.repo.AddPoint(ctx, author, name, p); err != nil {
		return err
	}
	slog.Debug("point added", "author", author, "name", name, "x", p.X, "y", p.Y)
	return nil
}

// Update renames the blueprint at (author, name) to bp's key and replaces its points.
func (s *BlueprintService) Update(ctx context.Context, author, name string, bp *blueprint.Blueprint) error {
	if err := s.repo.Update(ctx, author, name, bp); err != nil {
		return err
	}
	slog.Info("blueprint updated",
		"author", author, "name", name,
		"newAuthor", bp.Author, "newName", bp.Name,
		"points", len(bp.Points),
	)
	return nil
}

// Delete removes a blueprint and its points.
func (s *BlueprintService) Delete(ctx context.Context, author, name string) error {
	if err := s.repo.Delete(ctx, author, name); err != nil {
		return err
	}
	slog.Info("blueprint deleted", "author", author, "name", name)
	return nil
}

// Ping reports whether the underlying store is reachable.
func (s *BlueprintService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
