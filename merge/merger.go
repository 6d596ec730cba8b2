// Package merge implements similarity-based entity de-duplication within a
// single layer. Candidate groups come from vector search joined transitively
// with union-find; merging unions attributes per a configured strategy,
// rewires relationships onto the surviving entity, and preserves all
// provenance.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/store"
)

// DefaultThreshold is the similarity at or above which two entities are
// considered merge candidates.
const DefaultThreshold = 0.7

// DefaultTopKPerEntity bounds the per-entity vector search in FindSimilar.
const DefaultTopKPerEntity = 5

// Merger de-duplicates entities within one layer. Mutating operations hold
// the layer's advisory write lock while retrieval paths hold the read side,
// so a retrieval never observes a half-merged entity set.
type Merger struct {
	graphs   store.GraphStore
	vectors  store.VectorStore
	registry *layer.Registry
	mergers  *fieldMergers
	logger   *slog.Logger
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the merger's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Merger) { m.logger = logger }
}

// NewMerger creates a Merger with the given strategy. The strategy resolves
// to a function table here, once; bad strategy names fail at construction.
func NewMerger(graphs store.GraphStore, vectors store.VectorStore, registry *layer.Registry, strategy Strategy, opts ...Option) (*Merger, error) {
	resolved, err := strategy.resolve()
	if err != nil {
		return nil, err
	}
	m := &Merger{
		graphs:   graphs,
		vectors:  vectors,
		registry: registry,
		mergers:  resolved,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Merge collapses the candidate entities into targetID within the named
// layer. The surviving ID is always the explicit targetID; it is added to the
// candidate set if not already present. Fails with graph.ErrValidation if the
// candidate set is empty and with graph.ErrEntityNotFound if any candidate is
// absent from the layer.
func (m *Merger) Merge(ctx context.Context, layerName string, candidateIDs []string, targetID string) (*graph.Entity, error) {
	if len(candidateIDs) == 0 {
		return nil, fmt.Errorf("%w: empty candidate set", graph.ErrValidation)
	}
	if targetID == "" {
		return nil, fmt.Errorf("%w: target id is required", graph.ErrValidation)
	}

	l, err := m.registry.Ready(layerName)
	if err != nil {
		return nil, err
	}
	l.Lock()
	defer l.Unlock()

	return m.mergeLocked(ctx, l, candidateIDs, targetID)
}

// mergeLocked performs the merge with the layer lock already held.
func (m *Merger) mergeLocked(ctx context.Context, l *layer.Layer, candidateIDs []string, targetID string) (*graph.Entity, error) {
	ids := make([]string, 0, len(candidateIDs)+1)
	seen := make(map[string]bool, len(candidateIDs)+1)
	for _, id := range append(append([]string{}, candidateIDs...), targetID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	candidates := make([]*graph.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := m.graphs.GetEntity(ctx, l.Namespace, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: layer %q candidate %q", graph.ErrEntityNotFound, l.Name, id)
		}
		if err != nil {
			return nil, fmt.Errorf("layer %q candidate %q: %w", l.Name, id, err)
		}
		candidates = append(candidates, e)
	}
	if len(candidates) < 2 {
		// Nothing to merge with; return the target unchanged.
		return candidates[0], nil
	}

	// Deterministic candidate order: creation time, then ID. The strategies
	// depend on this ordering, which makes merge output reproducible.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	var target *graph.Entity
	for _, e := range candidates {
		if e.ID == targetID {
			target = e
			break
		}
	}

	merged := target.Clone()
	merged.Description = m.mergers.description(candidates)
	merged.Type = m.mergers.entityType(candidates)
	merged.SourceRefs = unionRefs(candidates)

	rewired, err := m.rewire(ctx, l.Namespace, seen, targetID)
	if err != nil {
		return nil, err
	}

	// Remove the non-survivors first: DeleteEntity cascades their old edges,
	// then one transactional batch writes the merged entity and the rewired
	// edge set.
	var goneIDs []string
	for _, e := range candidates {
		if e.ID == targetID {
			continue
		}
		if err := m.graphs.DeleteEntity(ctx, l.Namespace, e.ID); err != nil {
			return nil, fmt.Errorf("delete merged-away entity %q: %w", e.ID, err)
		}
		goneIDs = append(goneIDs, e.ID)
	}
	if err := m.graphs.BatchUpsert(ctx, l.Namespace, []*graph.Entity{merged}, rewired); err != nil {
		return nil, err
	}
	if len(goneIDs) > 0 {
		if err := m.vectors.Delete(ctx, l.Namespace, goneIDs...); err != nil {
			return nil, err
		}
	}

	m.logger.Info("entities merged",
		"layer", l.Name, "target", targetID, "absorbed", len(goneIDs))
	return merged, nil
}

// rewire computes the relationship set that must exist after every edge
// endpoint inside the merge group is rewritten to targetID. Duplicate
// (source, target, type) edges collapse keeping the earliest-created edge
// with its strength upgraded to the maximum across duplicates. Edges that
// become self-loops are dropped.
func (m *Merger) rewire(ctx context.Context, namespace string, group map[string]bool, targetID string) ([]*graph.Relationship, error) {
	rels, err := m.graphs.Relationships(ctx, namespace)
	if err != nil {
		return nil, err
	}

	collapsed := make(map[string]*graph.Relationship)
	for _, r := range rels {
		if !group[r.Source] && !group[r.Target] {
			continue
		}
		nr := *r
		if group[nr.Source] {
			nr.Source = targetID
		}
		if group[nr.Target] {
			nr.Target = targetID
		}
		if nr.Source == nr.Target {
			continue
		}
		key := nr.Key()
		prev, ok := collapsed[key]
		if !ok {
			collapsed[key] = &nr
			continue
		}
		// Earliest creation wins the slot; strength upgrades to the max.
		maxStrength := prev.Strength
		if nr.Strength > maxStrength {
			maxStrength = nr.Strength
		}
		if nr.CreatedAt.Before(prev.CreatedAt) {
			collapsed[key] = &nr
		}
		collapsed[key].Strength = maxStrength
	}

	out := make([]*graph.Relationship, 0, len(collapsed))
	for _, r := range collapsed {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// FindSimilar returns merge-candidate groups for the layer: entity pairs
// whose embedding similarity is at or above threshold, joined transitively,
// groups of size >= 2 only. The per-entity search is bounded by
// topKPerEntity, so the scan is O(entities * search), not a full cross
// product.
func (m *Merger) FindSimilar(ctx context.Context, layerName string, threshold float64, topKPerEntity int) ([][]string, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if topKPerEntity <= 0 {
		topKPerEntity = DefaultTopKPerEntity
	}

	l, err := m.registry.Ready(layerName)
	if err != nil {
		return nil, err
	}
	l.RLock()
	defer l.RUnlock()

	entities, err := m.graphs.Entities(ctx, l.Namespace)
	if err != nil {
		return nil, err
	}

	uf := newUnionFind()
	for _, e := range entities {
		if len(e.Embedding) == 0 {
			continue
		}
		matches, err := m.vectors.Search(ctx, l.Namespace, e.Embedding, topKPerEntity)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if match.ID == e.ID || match.Score < threshold {
				continue
			}
			uf.union(e.ID, match.ID)
		}
	}
	return uf.groups(), nil
}

// Report summarizes an AutoMerge run. Per-group failures are isolated: one
// failed group never aborts the rest, and nothing is silently dropped.
type Report struct {
	// Merged is the number of groups merged successfully.
	Merged int `json:"merged"`

	// Failed is the number of groups whose merge failed.
	Failed int `json:"failed"`

	// Groups holds the candidate groups that were considered (all groups in
	// dry-run mode).
	Groups [][]string `json:"groups"`
}

// AutoMergeOptions tunes an AutoMerge run.
type AutoMergeOptions struct {
	// DryRun computes and returns candidate groups without mutating the
	// store.
	DryRun bool

	// TypeFilter, when non-empty, restricts merging to groups whose members
	// all have this entity type.
	TypeFilter string

	// TopKPerEntity bounds the per-entity search in FindSimilar.
	TopKPerEntity int
}

// AutoMerge finds similar-entity groups and merges each one. The surviving
// entity of each group is its earliest-created member (ties by smallest ID)
// so repeated runs are deterministic. Groups are processed sequentially;
// merges against one layer are not safe to run concurrently.
func (m *Merger) AutoMerge(ctx context.Context, layerName string, threshold float64, opts AutoMergeOptions) (*Report, error) {
	groups, err := m.FindSimilar(ctx, layerName, threshold, opts.TopKPerEntity)
	if err != nil {
		return nil, err
	}

	l, err := m.registry.Ready(layerName)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, group := range groups {
		keep, err := m.filterGroup(ctx, l.Namespace, group, opts.TypeFilter)
		if err != nil {
			report.Failed++
			m.logger.Warn("auto-merge group failed", "layer", layerName, "group", group, "error", err)
			continue
		}
		if !keep {
			continue
		}
		report.Groups = append(report.Groups, group)
		if opts.DryRun {
			continue
		}

		target, err := m.pickTarget(ctx, l.Namespace, group)
		if err != nil {
			report.Failed++
			m.logger.Warn("auto-merge group failed", "layer", layerName, "group", group, "error", err)
			continue
		}
		if _, err := m.Merge(ctx, layerName, group, target); err != nil {
			report.Failed++
			m.logger.Warn("auto-merge group failed", "layer", layerName, "group", group, "error", err)
			continue
		}
		report.Merged++
	}
	return report, nil
}

// filterGroup reports whether every member of the group satisfies the type
// filter. An empty filter keeps everything.
func (m *Merger) filterGroup(ctx context.Context, namespace string, group []string, typeFilter string) (bool, error) {
	if typeFilter == "" {
		return true, nil
	}
	for _, id := range group {
		e, err := m.graphs.GetEntity(ctx, namespace, id)
		if err != nil {
			return false, err
		}
		if e.Type != typeFilter {
			return false, nil
		}
	}
	return true, nil
}

// pickTarget chooses the surviving entity of a group: earliest CreatedAt,
// ties by smallest ID.
func (m *Merger) pickTarget(ctx context.Context, namespace string, group []string) (string, error) {
	var best *graph.Entity
	for _, id := range group {
		e, err := m.graphs.GetEntity(ctx, namespace, id)
		if err != nil {
			return "", err
		}
		if best == nil ||
			e.CreatedAt.Before(best.CreatedAt) ||
			(e.CreatedAt.Equal(best.CreatedAt) && e.ID < best.ID) {
			best = e
		}
	}
	return best.ID, nil
}
