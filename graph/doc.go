// Package graph defines the canonical in-memory model for the layered
// knowledge graph: entities, same-layer relationships, and cross-layer links.
//
// An Entity belongs to exactly one layer for its whole life. Relationships
// connect two entities within one layer; references between layers are
// expressed only as Link edges carrying the embedding similarity that
// justified them.
//
// Relation types form a closed vocabulary. Free-text relation descriptions
// from the extraction service are classified by InferType, with RELATED_TO as
// the fallback so no relationship is ever untyped:
//
//	rel := graph.NewRelationship(aspirin.ID, fever.ID, "commonly used to treat fever").
//	    WithStrength(graph.StrengthHigh).
//	    WithLayer("literature")
//	// rel.Type == graph.RelTreats
package graph
