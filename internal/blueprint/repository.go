package blueprint

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no blueprint exists for the requested key or author.
var ErrNotFound = errors.New("blueprint not found")

// ErrDuplicateKey is returned when a create or rename targets a key already
// held by a different blueprint.
var ErrDuplicateKey = errors.New("blueprint already exists")

// ErrBackendFailure is returned when the underlying storage cannot serve the
// request. It is never used to report a missing blueprint.
var ErrBackendFailure = errors.New("blueprint storage unavailable")

// ErrInvalidPoint is returned when a write carries a point whose coordinates
// fall outside [MinCoordinate, MaxCoordinate]. Nothing is stored.
var ErrInvalidPoint = errors.New("point coordinates out of range")

// Error carries the operation and key that failed together with the error
// kind (one of the sentinels above) and the optional underlying cause.
type Error struct {
	Op     string
	Author string
	Name   string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	target := e.Author
	if e.Name != "" {
		target += "/" + e.Name
	}
	msg := fmt.Sprintf("%s %q: %v", e.Op, target, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func notFound(op string, k Key) error {
	return &Error{Op: op, Author: k.Author, Name: k.Name, Kind: ErrNotFound}
}

func duplicateKey(op string, k Key) error {
	return &Error{Op: op, Author: k.Author, Name: k.Name, Kind: ErrDuplicateKey}
}

func backendFailure(op string, k Key, err error) error {
	return &Error{Op: op, Author: k.Author, Name: k.Name, Kind: ErrBackendFailure, Err: err}
}

// checkPoints rejects the first out-of-range point in pts.
func checkPoints(op string, k Key, pts ...Point) error {
	for i, p := range pts {
		if !p.InRange() {
			return &Error{Op: op, Author: k.Author, Name: k.Name, Kind: ErrInvalidPoint,
				Err: fmt.Errorf("point %d is (%d, %d)", i, p.X, p.Y)}
		}
	}
	return nil
}

// Repository is the source of truth for blueprint existence and content.
// Operations on the same key are linearizable; reads return copies that the
// caller may keep or mutate freely. Writes carrying a point outside
// [MinCoordinate, MaxCoordinate] fail with ErrInvalidPoint on every backend.
type Repository interface {
	Create(ctx context.Context, bp *Blueprint) error
	Get(ctx context.Context, author, name string) (*Blueprint, error)
	List(ctx context.Context) ([]Blueprint, error)
	ListByAuthor(ctx context.Context, author string) ([]Blueprint, error)
	AddPoint(ctx context.Context, author, name string, p Point) error
	ReplacePoints(ctx context.Context, author, name string, pts []Point) error
	Update(ctx context.Context, author, name string, bp *Blueprint) error
	Delete(ctx context.Context, author, name string) error
	Ping(ctx context.Context) error
}
