package validation

import (
	"fmt"
	"strings"

	"github.com/daap14/blueprints/internal/blueprint"
)

// MaxPoints bounds the number of points accepted in a single request body.
const MaxPoints = 10000

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PointInput mirrors a point as received on the wire.
type PointInput struct {
	X *int
	Y *int
}

// BlueprintRequest mirrors the fields needed for create and update validation.
type BlueprintRequest struct {
	Author string
	Name   string
	Points []PointInput
}

// ValidateBlueprintRequest validates a create or full-replace request body.
// Returns a slice of field errors; empty slice means valid.
func ValidateBlueprintRequest(req BlueprintRequest) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(req.Author) == "" {
		errs = append(errs, FieldError{Field: "author", Message: "author is required"})
	}
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, FieldError{Field: "name", Message: "name is required"})
	}

	if len(req.Points) > MaxPoints {
		errs = append(errs, FieldError{Field: "points", Message: fmt.Sprintf("points must contain at most %d entries", MaxPoints)})
		return errs
	}
	for i, p := range req.Points {
		errs = append(errs, validatePoint(fmt.Sprintf("points[%d]", i), p)...)
	}

	return errs
}

// ValidatePoint validates the body of a point append request.
func ValidatePoint(p PointInput) []FieldError {
	return validatePoint("", p)
}

func validatePoint(prefix string, p PointInput) []FieldError {
	var errs []FieldError
	field := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}

	if p.X == nil {
		errs = append(errs, FieldError{Field: field("x"), Message: "x is required"})
	} else if !fitsInt32(*p.X) {
		errs = append(errs, FieldError{Field: field("x"), Message: "x must be a 32-bit integer"})
	}
	if p.Y == nil {
		errs = append(errs, FieldError{Field: field("y"), Message: "y is required"})
	} else if !fitsInt32(*p.Y) {
		errs = append(errs, FieldError{Field: field("y"), Message: "y must be a 32-bit integer"})
	}
	return errs
}

func fitsInt32(v int) bool {
	return v >= blueprint.MinCoordinate && v <= blueprint.MaxCoordinate
}
