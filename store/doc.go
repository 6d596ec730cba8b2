// Package store defines the capability interfaces the core consumes from its
// property-graph and vector-similarity backends, plus the retry wrappers that
// absorb transient backend failures.
//
// The core never talks to a backend directly: every operation goes through
// GraphStore, VectorStore, or LinkStore, scoped by a namespace. A layer's
// namespace is the unit of isolation: two namespaces never observe each
// other's writes, which is what makes layer isolation testable.
//
// Retry happens here, not in business logic. Wrap a backend once:
//
//	gs := store.NewRetryingGraphStore(backend, store.DefaultRetryPolicy(), logger)
//
// Transient failures (wrapped ErrTransient) are retried with bounded
// exponential backoff; exhaustion surfaces as ErrStorage and the triggering
// operation aborts without partial writes.
package store
