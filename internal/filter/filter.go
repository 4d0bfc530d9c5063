// Package filter holds the read-time transformations applied to a
// blueprint's point sequence. Filters are pure: they never fail and never
// modify their input.
package filter

import (
	"fmt"
	"strings"

	"github.com/daap14/blueprints/internal/blueprint"
)

// Filter transforms a blueprint on its way out of the service.
type Filter interface {
	Apply(bp *blueprint.Blueprint) *blueprint.Blueprint
}

// Kind selects one of the available filters.
type Kind string

const (
	KindIdentity      Kind = "identity"
	KindRedundancy    Kind = "redundancy"
	KindUndersampling Kind = "undersampling"
)

var filters = map[Kind]Filter{
	KindIdentity:      Identity{},
	KindRedundancy:    Redundancy{},
	KindUndersampling: Undersampling{},
}

// ParseKind maps a configuration value to a Kind. The empty string selects
// the identity filter.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == "" {
		return KindIdentity, nil
	}
	if _, ok := filters[k]; !ok {
		return "", fmt.Errorf("unknown filter %q", s)
	}
	return k, nil
}

// New returns the filter for k.
func New(k Kind) (Filter, error) {
	f, ok := filters[k]
	if !ok {
		return nil, fmt.Errorf("unknown filter kind %q", k)
	}
	return f, nil
}

// Identity returns its input unchanged: the result is the very same pointer.
type Identity struct{}

func (Identity) Apply(bp *blueprint.Blueprint) *blueprint.Blueprint {
	return bp
}

// Redundancy collapses runs of consecutive equal points into one. A point
// equal to a non-adjacent earlier point is kept.
type Redundancy struct{}

func (Redundancy) Apply(bp *blueprint.Blueprint) *blueprint.Blueprint {
	out := make([]blueprint.Point, 0, len(bp.Points))
	for _, p := range bp.Points {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	return bp.WithPoints(out)
}

// Undersampling keeps the points at even indices (0, 2, 4, ...), so a
// sequence of length n yields ceil(n/2) points: two points become one, and
// empty or single-point sequences are returned whole.
type Undersampling struct{}

func (Undersampling) Apply(bp *blueprint.Blueprint) *blueprint.Blueprint {
	out := make([]blueprint.Point, 0, (len(bp.Points)+1)/2)
	for i := 0; i < len(bp.Points); i += 2 {
		out = append(out, bp.Points[i])
	}
	return bp.WithPoints(out)
}
