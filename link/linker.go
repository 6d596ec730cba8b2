// Package link builds directed cross-layer reference edges between two
// layers. A higher-priority layer "borrows" authoritative context from a
// lower-priority one, such as a patient-data entity pointing at its
// canonical dictionary entry, without the entity ever leaving its own layer.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/store"
)

// DefaultThreshold is the similarity at or above which a cross-layer link is
// created.
const DefaultThreshold = 0.75

// DefaultTopK bounds the per-entity search against the target layer. The
// linker is O(|source entities| x search cost), never a full cross product.
const DefaultTopK = 5

// defaultConcurrency bounds the per-entity search fan-out.
const defaultConcurrency = 8

// Linker creates and queries cross-layer links.
type Linker struct {
	graphs      store.GraphStore
	vectors     store.VectorStore
	links       store.LinkStore
	registry    *layer.Registry
	topK        int
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Linker.
type Option func(*Linker)

// WithTopK bounds the per-entity vector search against the target layer.
func WithTopK(k int) Option {
	return func(l *Linker) {
		if k > 0 {
			l.topK = k
		}
	}
}

// WithLogger sets the linker's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Linker) { l.logger = logger }
}

// NewLinker creates a Linker over the given stores and registry.
func NewLinker(graphs store.GraphStore, vectors store.VectorStore, links store.LinkStore, registry *layer.Registry, opts ...Option) *Linker {
	l := &Linker{
		graphs:      graphs,
		vectors:     vectors,
		links:       links,
		registry:    registry,
		topK:        DefaultTopK,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Link builds reference edges from every entity in layerA to its single best
// match in layerB with similarity at or above threshold. Links upsert by
// (source, target): re-running with identical embeddings and threshold
// produces the same edge set. The discovered edges are written as one batch.
// Returns the number of links created or refreshed.
func (l *Linker) Link(ctx context.Context, layerA, layerB string, threshold float64) (int, error) {
	if layerA == layerB {
		return 0, fmt.Errorf("%w: cannot link layer %q to itself", graph.ErrValidation, layerA)
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	src, err := l.registry.Ready(layerA)
	if err != nil {
		return 0, err
	}
	dst, err := l.registry.Ready(layerB)
	if err != nil {
		return 0, err
	}

	// Hold both layers' advisory read locks for the whole scan so a merge on
	// either side cannot shift entities mid-run.
	src.RLock()
	defer src.RUnlock()
	dst.RLock()
	defer dst.RUnlock()

	entities, err := l.graphs.Entities(ctx, src.Namespace)
	if err != nil {
		return 0, err
	}

	// One slot per source entity; the fan-out writes disjoint indices so no
	// lock is needed.
	found := make([]*graph.Link, len(entities))
	createdAt := l.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, e := range entities {
		g.Go(func() error {
			if len(e.Embedding) == 0 {
				return nil
			}
			matches, err := l.vectors.Search(gctx, dst.Namespace, e.Embedding, l.topK)
			if err != nil {
				return err
			}
			if len(matches) == 0 || matches[0].Score < threshold {
				return nil
			}
			found[i] = &graph.Link{
				Source:      e.ID,
				SourceLayer: src.Name,
				Target:      matches[0].ID,
				TargetLayer: dst.Name,
				Similarity:  matches[0].Score,
				CreatedAt:   createdAt,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	batch := make([]*graph.Link, 0, len(found))
	for _, lk := range found {
		if lk != nil {
			batch = append(batch, lk)
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := l.links.UpsertLinks(ctx, batch); err != nil {
		return 0, err
	}

	l.logger.Info("layers linked",
		"source", layerA, "target", layerB, "threshold", threshold, "links", len(batch))
	return len(batch), nil
}

// Unlink removes a single cross-layer link.
func (l *Linker) Unlink(ctx context.Context, source, target string) error {
	return l.links.DeleteLink(ctx, source, target)
}

// LinkedEntity is one hop of cross-layer context reachable from an entity.
type LinkedEntity struct {
	// Entity is the entity on the far side of the link.
	Entity *graph.Entity `json:"entity"`

	// Layer names the far entity's layer.
	Layer string `json:"layer"`

	// Similarity is the link's similarity score.
	Similarity float64 `json:"similarity"`

	// Outgoing is true when the queried entity is the link's source.
	Outgoing bool `json:"outgoing"`
}

// LinkedContext returns the entities linked to the given entity across all
// layers, following links in both directions, ordered by similarity
// descending, then far-layer priority ascending, then entity ID.
func (l *Linker) LinkedContext(ctx context.Context, layerName, entityID string) ([]*LinkedEntity, error) {
	if _, err := l.registry.Ready(layerName); err != nil {
		return nil, err
	}

	links, err := l.links.LinksFor(ctx, layerName, entityID)
	if err != nil {
		return nil, err
	}

	out := make([]*LinkedEntity, 0, len(links))
	for _, lk := range links {
		farLayer, farID := lk.TargetLayer, lk.Target
		outgoing := true
		if lk.TargetLayer == layerName && lk.Target == entityID {
			farLayer, farID = lk.SourceLayer, lk.Source
			outgoing = false
		}
		far, err := l.registry.Ready(farLayer)
		if err != nil {
			// Far layer was closed or removed; skip rather than fail the
			// whole context assembly.
			l.logger.Warn("skipping link into unavailable layer", "layer", farLayer, "error", err)
			continue
		}
		far.RLock()
		e, err := l.graphs.GetEntity(ctx, far.Namespace, farID)
		far.RUnlock()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: linked entity %q in layer %q", graph.ErrEntityNotFound, farID, farLayer)
			}
			return nil, err
		}
		out = append(out, &LinkedEntity{
			Entity:     e,
			Layer:      farLayer,
			Similarity: lk.Similarity,
			Outgoing:   outgoing,
		})
	}

	priorities := make(map[string]int)
	for _, lay := range l.registry.List() {
		priorities[lay.Name] = lay.Priority
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if priorities[out[i].Layer] != priorities[out[j].Layer] {
			return priorities[out[i].Layer] < priorities[out[j].Layer]
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})
	return out, nil
}
