package graph

import (
	"fmt"
	"strings"
	"time"
)

// Strength grades how firmly a relationship is asserted by its source text.
type Strength int

const (
	// StrengthLow marks weakly supported or speculative relationships.
	StrengthLow Strength = iota

	// StrengthMedium is the default grade when the source gives no hint.
	StrengthMedium

	// StrengthHigh marks relationships the source asserts directly.
	StrengthHigh
)

// String returns the string representation of the strength grade.
func (s Strength) String() string {
	switch s {
	case StrengthLow:
		return "low"
	case StrengthMedium:
		return "medium"
	case StrengthHigh:
		return "high"
	default:
		return fmt.Sprintf("Strength(%d)", int(s))
	}
}

// IsValid returns true if the strength is a defined grade.
func (s Strength) IsValid() bool {
	return s >= StrengthLow && s <= StrengthHigh
}

// ParseStrength maps a free-text strength hint from the extraction service to
// a Strength grade. Unknown or empty hints default to StrengthMedium.
func ParseStrength(hint string) Strength {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "high", "strong":
		return StrengthHigh
	case "low", "weak":
		return StrengthLow
	default:
		return StrengthMedium
	}
}

// Relationship represents a directed edge between two entities in the same
// layer. Cross-layer references are never Relationships; they are Links.
type Relationship struct {
	// Source is the source entity ID.
	Source string `json:"source"`

	// Target is the target entity ID.
	Target string `json:"target"`

	// Type is the classified relation type (see InferType). Never empty once
	// the relationship has passed through classification.
	Type string `json:"type"`

	// Strength grades how firmly the relation is asserted.
	Strength Strength `json:"strength"`

	// Description is the free-text relation description from extraction.
	Description string `json:"description,omitempty"`

	// Layer names the layer both endpoints live in.
	Layer string `json:"layer"`

	// CreatedAt is the timestamp when the relationship was created. Used to
	// break strength ties when duplicate relationships collapse during a
	// merge (earliest wins).
	CreatedAt time.Time `json:"created_at"`
}

// NewRelationship creates a relationship between two entity IDs with the
// relation type inferred from the description and medium strength.
func NewRelationship(source, target, description string) *Relationship {
	return &Relationship{
		Source:      source,
		Target:      target,
		Type:        InferType(description),
		Strength:    StrengthMedium,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}

// WithStrength sets the strength grade and returns the relationship for
// chaining.
func (r *Relationship) WithStrength(s Strength) *Relationship {
	r.Strength = s
	return r
}

// WithLayer sets the owning layer and returns the relationship for chaining.
func (r *Relationship) WithLayer(layer string) *Relationship {
	r.Layer = layer
	return r
}

// Key returns the identity key used for duplicate detection: relationships
// with equal (source, target, type) collapse into one edge.
func (r *Relationship) Key() string {
	return r.Source + "|" + r.Target + "|" + r.Type
}

// Validate checks that the relationship has all required fields populated.
func (r *Relationship) Validate() error {
	if r.Source == "" {
		return fmt.Errorf("%w: relationship source cannot be empty", ErrValidation)
	}
	if r.Target == "" {
		return fmt.Errorf("%w: relationship target cannot be empty", ErrValidation)
	}
	if r.Layer == "" {
		return fmt.Errorf("%w: relationship layer is required", ErrValidation)
	}
	if !r.Strength.IsValid() {
		return fmt.Errorf("%w: invalid strength %d", ErrValidation, int(r.Strength))
	}
	return nil
}
