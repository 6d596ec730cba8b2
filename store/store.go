package store

import (
	"context"
	"errors"

	"github.com/trinity-ai/trinity/graph"
)

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when a requested entity or edge does not exist
	// in the namespace it was looked up in.
	ErrNotFound = errors.New("store: not found")

	// ErrTransient is returned (or wrapped) by backends for failures that are
	// expected to clear on retry, such as connection drops or timeouts. The
	// Retrying wrapper retries these with bounded exponential backoff.
	ErrTransient = errors.New("store: transient failure")

	// ErrStorage is returned when a backend operation failed permanently,
	// including transient failures that exhausted their retry budget. The
	// triggering operation aborts without partial writes.
	ErrStorage = errors.New("store: storage operation failed")

	// ErrBatchInvalid is returned by BatchUpsert when the batch references
	// entities that exist neither in the batch nor in the namespace. The
	// whole batch is rejected; no partial writes remain.
	ErrBatchInvalid = errors.New("store: invalid batch")
)

// GraphStore is the narrow capability interface to the property-graph
// backend. Every method is scoped by a namespace; namespaces never observe
// each other's writes. Implementations must make BatchUpsert transactional:
// a failed batch leaves no partial writes.
type GraphStore interface {
	// UpsertEntity creates or replaces a single entity.
	UpsertEntity(ctx context.Context, namespace string, e *graph.Entity) error

	// UpsertRelationship creates or replaces a relationship keyed by
	// (source, target, type). Both endpoints must exist in the namespace;
	// returns ErrNotFound otherwise.
	UpsertRelationship(ctx context.Context, namespace string, r *graph.Relationship) error

	// GetEntity returns the entity with the given ID, or ErrNotFound.
	GetEntity(ctx context.Context, namespace, id string) (*graph.Entity, error)

	// Neighbors returns the entities reachable from id within depth hops,
	// in either edge direction, together with the relationships traversed.
	// The starting entity itself is not included.
	Neighbors(ctx context.Context, namespace, id string, depth int) ([]*graph.Entity, []*graph.Relationship, error)

	// DeleteEntity removes an entity and every relationship touching it.
	// Returns ErrNotFound if the entity does not exist.
	DeleteEntity(ctx context.Context, namespace, id string) error

	// DeleteRelationship removes a single relationship by its identity key.
	DeleteRelationship(ctx context.Context, namespace, source, target, relType string) error

	// BatchUpsert writes entities and relationships as one transaction.
	// Relationship endpoints must exist in the namespace or in the batch
	// itself; otherwise the whole batch fails with ErrBatchInvalid and
	// nothing is written.
	BatchUpsert(ctx context.Context, namespace string, entities []*graph.Entity, rels []*graph.Relationship) error

	// Entities lists every entity in the namespace, ordered by ID.
	Entities(ctx context.Context, namespace string) ([]*graph.Entity, error)

	// Relationships lists every relationship in the namespace, ordered by
	// identity key.
	Relationships(ctx context.Context, namespace string) ([]*graph.Relationship, error)

	// Clear removes all entities and relationships in the namespace.
	Clear(ctx context.Context, namespace string) error
}

// LinkStore holds cross-layer link edges. Links live outside any layer
// namespace so that clearing a layer can cascade to the links touching it
// without the layers sharing storage.
type LinkStore interface {
	// UpsertLinks writes a batch of links keyed by (source, target) as one
	// transaction. Re-linking the same pair replaces the existing edge.
	UpsertLinks(ctx context.Context, links []*graph.Link) error

	// LinksFor returns every link whose source or target is the given entity
	// in the given layer.
	LinksFor(ctx context.Context, layer, entityID string) ([]*graph.Link, error)

	// LinksBetween returns every link from sourceLayer to targetLayer.
	LinksBetween(ctx context.Context, sourceLayer, targetLayer string) ([]*graph.Link, error)

	// DeleteLink removes a single link. Returns ErrNotFound if absent.
	DeleteLink(ctx context.Context, source, target string) error

	// DeleteLayerLinks removes every link touching the given layer, in
	// either direction. Used by layer-clear cascades.
	DeleteLayerLinks(ctx context.Context, layer string) error

	// CountLayerLinks returns the number of links touching the given layer.
	CountLayerLinks(ctx context.Context, layer string) (int, error)
}

// Match is a single vector search hit.
type Match struct {
	// ID is the entity ID of the matched vector.
	ID string `json:"id"`

	// Score is the cosine similarity in [0, 1], higher is closer.
	Score float64 `json:"score"`
}

// VectorStore is the narrow capability interface to the vector-similarity
// backend. All vectors in one deployment share a fixed dimensionality; the
// first insert into a namespace fixes its dimension and later mismatches
// fail.
type VectorStore interface {
	// Insert stores a vector under the given ID, replacing any previous
	// vector for that ID.
	Insert(ctx context.Context, namespace, id string, vec []float64) error

	// Search returns up to topK matches ranked by similarity descending,
	// ties broken by ID lexical order for determinism.
	Search(ctx context.Context, namespace string, vec []float64, topK int) ([]Match, error)

	// Delete removes the vectors with the given IDs. Missing IDs are
	// ignored.
	Delete(ctx context.Context, namespace string, ids ...string) error

	// Clear removes all vectors in the namespace.
	Clear(ctx context.Context, namespace string) error

	// Dim returns the namespace's vector dimensionality, or 0 if the
	// namespace holds no vectors yet.
	Dim(ctx context.Context, namespace string) (int, error)
}
