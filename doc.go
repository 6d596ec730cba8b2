// Package trinity implements a hierarchical multi-layer knowledge graph.
//
// Knowledge lives in named layers (for example "patient", "literature",
// "dictionary"), each isolated in its own storage namespace and ordered by
// priority. The package provides:
//
//   - layer: the registry owning layer lifecycle and priority ordering
//   - graph: the entity, relationship and link data model
//   - store: narrow capability interfaces to graph, vector and link backends,
//     with in-memory and Redis implementations
//   - merge: similarity-based entity de-duplication within a layer
//   - link: cross-layer reference edges between two layers
//   - retrieve: multi-mode, multi-layer query execution with ranked context
//     assembly
//   - export: layer statistics and graph serialization
//   - llm: interfaces to the external extraction, embedding, grading and
//     rewriting collaborators
//
// The root package ties these together behind a single Client:
//
//	client, err := trinity.New(
//	    trinity.WithLayers(
//	        layer.Config{Name: "patient", Priority: 1},
//	        layer.Config{Name: "dictionary", Priority: 2},
//	    ),
//	    trinity.WithEmbedder(embedder),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	report, err := client.InsertEntities(ctx, "patient", entities, rels)
//	...
//	qc, err := client.Query(ctx, "how is hypertension treated",
//	    []string{"patient", "dictionary"}, retrieve.DefaultOptions())
//
// Answer generation is deliberately outside this package: Query returns an
// assembled QueryContext, never generated text.
package trinity
