package graph

import (
	"fmt"
	"time"
)

// Link represents a directed cross-layer reference edge created by the
// linker. The direction runs from the higher-priority layer to the
// lower-priority one by convention, but links are queryable both ways.
// Links are keyed by (Source, Target): re-linking upserts rather than
// appending duplicates.
type Link struct {
	// Source is the entity ID in the source layer.
	Source string `json:"source"`

	// SourceLayer names the layer the source entity lives in.
	SourceLayer string `json:"source_layer"`

	// Target is the entity ID in the target layer.
	Target string `json:"target"`

	// TargetLayer names the layer the target entity lives in.
	TargetLayer string `json:"target_layer"`

	// Similarity is the embedding similarity at creation time, in [0, 1].
	// Always at or above the configured link threshold.
	Similarity float64 `json:"similarity"`

	// CreatedAt is the timestamp when the link was created.
	CreatedAt time.Time `json:"created_at"`
}

// Key returns the upsert identity of the link.
func (l *Link) Key() string {
	return l.Source + "|" + l.Target
}

// Validate checks that the link has both endpoints, distinct layers, and a
// similarity within [0, 1].
func (l *Link) Validate() error {
	if l.Source == "" || l.Target == "" {
		return fmt.Errorf("%w: link endpoints cannot be empty", ErrValidation)
	}
	if l.SourceLayer == "" || l.TargetLayer == "" {
		return fmt.Errorf("%w: link endpoint layers are required", ErrValidation)
	}
	if l.SourceLayer == l.TargetLayer {
		return fmt.Errorf("%w: link endpoints must be in different layers", ErrValidation)
	}
	if l.Similarity < 0 || l.Similarity > 1 {
		return fmt.Errorf("%w: similarity %f outside [0, 1]", ErrValidation, l.Similarity)
	}
	return nil
}
