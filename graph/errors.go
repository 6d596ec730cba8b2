package graph

import "errors"

// Sentinel errors for graph model operations.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrValidation indicates that an entity, relationship, or link failed
	// structural validation (missing required fields, description out of
	// bounds, malformed endpoints). The wrapped message names the offending
	// field.
	//
	// Example:
	//	if err := entity.Validate(); errors.Is(err, graph.ErrValidation) {
	//	    log.Errorf("bad entity: %v", err)
	//	}
	ErrValidation = errors.New("validation failed")

	// ErrEntityNotFound indicates that a referenced entity does not exist in
	// the layer namespace it was looked up in. Merge and link operations wrap
	// missing-entity store errors in this sentinel.
	ErrEntityNotFound = errors.New("entity not found")
)
