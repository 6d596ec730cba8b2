// Package memstore provides in-memory implementations of the store
// interfaces. It backs tests and small deployments. Namespace isolation,
// transactional batches and deterministic search ordering match what the
// redis-backed implementation provides.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/store"
)

// GraphStore is an in-memory store.GraphStore. Safe for concurrent use.
type GraphStore struct {
	mu  sync.RWMutex
	nss map[string]*namespace
}

type namespace struct {
	entities map[string]*graph.Entity
	rels     map[string]*graph.Relationship
}

// NewGraphStore creates an empty in-memory graph store.
func NewGraphStore() *GraphStore {
	return &GraphStore{nss: make(map[string]*namespace)}
}

func (s *GraphStore) ns(name string) *namespace {
	n, ok := s.nss[name]
	if !ok {
		n = &namespace{
			entities: make(map[string]*graph.Entity),
			rels:     make(map[string]*graph.Relationship),
		}
		s.nss[name] = n
	}
	return n
}

func (s *GraphStore) UpsertEntity(ctx context.Context, nsName string, e *graph.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ns(nsName).entities[e.ID] = e.Clone()
	return nil
}

func (s *GraphStore) UpsertRelationship(ctx context.Context, nsName string, r *graph.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.ns(nsName)
	if _, ok := n.entities[r.Source]; !ok {
		return fmt.Errorf("%w: relationship source %q", store.ErrNotFound, r.Source)
	}
	if _, ok := n.entities[r.Target]; !ok {
		return fmt.Errorf("%w: relationship target %q", store.ErrNotFound, r.Target)
	}
	cp := *r
	n.rels[r.Key()] = &cp
	return nil
}

func (s *GraphStore) GetEntity(ctx context.Context, nsName, id string) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nss[nsName]
	if !ok {
		return nil, fmt.Errorf("%w: entity %q", store.ErrNotFound, id)
	}
	e, ok := n.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: entity %q", store.ErrNotFound, id)
	}
	return e.Clone(), nil
}

func (s *GraphStore) Neighbors(ctx context.Context, nsName, id string, depth int) ([]*graph.Entity, []*graph.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nss[nsName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: entity %q", store.ErrNotFound, id)
	}
	if _, ok := n.entities[id]; !ok {
		return nil, nil, fmt.Errorf("%w: entity %q", store.ErrNotFound, id)
	}
	if depth < 1 {
		depth = 1
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var ents []*graph.Entity
	relSeen := map[string]bool{}
	var rels []*graph.Relationship

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for key, r := range n.rels {
				var other string
				switch cur {
				case r.Source:
					other = r.Target
				case r.Target:
					other = r.Source
				default:
					continue
				}
				if !relSeen[key] {
					relSeen[key] = true
					cp := *r
					rels = append(rels, &cp)
				}
				if !visited[other] {
					visited[other] = true
					if e, ok := n.entities[other]; ok {
						ents = append(ents, e.Clone())
						next = append(next, other)
					}
				}
			}
		}
		frontier = next
	}

	sort.Slice(ents, func(i, j int) bool { return ents[i].ID < ents[j].ID })
	sort.Slice(rels, func(i, j int) bool { return rels[i].Key() < rels[j].Key() })
	return ents, rels, nil
}

func (s *GraphStore) DeleteEntity(ctx context.Context, nsName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nss[nsName]
	if !ok {
		return fmt.Errorf("%w: entity %q", store.ErrNotFound, id)
	}
	if _, ok := n.entities[id]; !ok {
		return fmt.Errorf("%w: entity %q", store.ErrNotFound, id)
	}
	delete(n.entities, id)
	for key, r := range n.rels {
		if r.Source == id || r.Target == id {
			delete(n.rels, key)
		}
	}
	return nil
}

func (s *GraphStore) DeleteRelationship(ctx context.Context, nsName, source, target, relType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nss[nsName]
	if !ok {
		return fmt.Errorf("%w: relationship %s|%s|%s", store.ErrNotFound, source, target, relType)
	}
	key := source + "|" + target + "|" + relType
	if _, ok := n.rels[key]; !ok {
		return fmt.Errorf("%w: relationship %s", store.ErrNotFound, key)
	}
	delete(n.rels, key)
	return nil
}

func (s *GraphStore) BatchUpsert(ctx context.Context, nsName string, entities []*graph.Entity, rels []*graph.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.ns(nsName)

	// Validate the full batch before touching anything: endpoints must exist
	// in the namespace or in the batch itself.
	inBatch := make(map[string]bool, len(entities))
	for _, e := range entities {
		inBatch[e.ID] = true
	}
	exists := func(id string) bool {
		if inBatch[id] {
			return true
		}
		_, ok := n.entities[id]
		return ok
	}
	for _, r := range rels {
		if !exists(r.Source) {
			return fmt.Errorf("%w: relationship source %q not in batch or namespace", store.ErrBatchInvalid, r.Source)
		}
		if !exists(r.Target) {
			return fmt.Errorf("%w: relationship target %q not in batch or namespace", store.ErrBatchInvalid, r.Target)
		}
	}

	for _, e := range entities {
		n.entities[e.ID] = e.Clone()
	}
	for _, r := range rels {
		cp := *r
		n.rels[r.Key()] = &cp
	}
	return nil
}

func (s *GraphStore) Entities(ctx context.Context, nsName string) ([]*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nss[nsName]
	if !ok {
		return nil, nil
	}
	out := make([]*graph.Entity, 0, len(n.entities))
	for _, e := range n.entities {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *GraphStore) Relationships(ctx context.Context, nsName string) ([]*graph.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nss[nsName]
	if !ok {
		return nil, nil
	}
	out := make([]*graph.Relationship, 0, len(n.rels))
	for _, r := range n.rels {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *GraphStore) Clear(ctx context.Context, nsName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nss, nsName)
	return nil
}

// VectorStore is an in-memory store.VectorStore using brute-force cosine
// scanning. Safe for concurrent use.
type VectorStore struct {
	mu  sync.RWMutex
	nss map[string]map[string][]float64
}

// NewVectorStore creates an empty in-memory vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{nss: make(map[string]map[string][]float64)}
}

func (s *VectorStore) Insert(ctx context.Context, ns, id string, vec []float64) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector for %q", store.ErrStorage, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.nss[ns]
	if !ok {
		m = make(map[string][]float64)
		s.nss[ns] = m
	} else {
		for _, existing := range m {
			if len(existing) != len(vec) {
				return fmt.Errorf("%w: dimension %d does not match namespace dimension %d",
					store.ErrStorage, len(vec), len(existing))
			}
			break
		}
	}
	m[id] = append([]float64(nil), vec...)
	return nil
}

func (s *VectorStore) Search(ctx context.Context, ns string, vec []float64, topK int) ([]store.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.nss[ns]
	if len(m) == 0 || topK <= 0 {
		return nil, nil
	}
	matches := make([]store.Match, 0, len(m))
	for id, v := range m {
		matches = append(matches, store.Match{ID: id, Score: store.Cosine(vec, v)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *VectorStore) Delete(ctx context.Context, ns string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.nss[ns]
	for _, id := range ids {
		delete(m, id)
	}
	return nil
}

func (s *VectorStore) Clear(ctx context.Context, ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nss, ns)
	return nil
}

func (s *VectorStore) Dim(ctx context.Context, ns string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.nss[ns] {
		return len(v), nil
	}
	return 0, nil
}

// LinkStore is an in-memory store.LinkStore. Safe for concurrent use.
type LinkStore struct {
	mu    sync.RWMutex
	links map[string]*graph.Link
}

// NewLinkStore creates an empty in-memory link store.
func NewLinkStore() *LinkStore {
	return &LinkStore{links: make(map[string]*graph.Link)}
}

func (s *LinkStore) UpsertLinks(ctx context.Context, links []*graph.Link) error {
	for _, l := range links {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range links {
		cp := *l
		s.links[l.Key()] = &cp
	}
	return nil
}

func (s *LinkStore) LinksFor(ctx context.Context, layer, entityID string) ([]*graph.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.Link
	for _, l := range s.links {
		if (l.SourceLayer == layer && l.Source == entityID) ||
			(l.TargetLayer == layer && l.Target == entityID) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *LinkStore) LinksBetween(ctx context.Context, sourceLayer, targetLayer string) ([]*graph.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*graph.Link
	for _, l := range s.links {
		if l.SourceLayer == sourceLayer && l.TargetLayer == targetLayer {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *LinkStore) DeleteLink(ctx context.Context, source, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := source + "|" + target
	if _, ok := s.links[key]; !ok {
		return fmt.Errorf("%w: link %s", store.ErrNotFound, key)
	}
	delete(s.links, key)
	return nil
}

func (s *LinkStore) DeleteLayerLinks(ctx context.Context, layer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, l := range s.links {
		if l.SourceLayer == layer || l.TargetLayer == layer {
			delete(s.links, key)
		}
	}
	return nil
}

func (s *LinkStore) CountLayerLinks(ctx context.Context, layer string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, l := range s.links {
		if l.SourceLayer == layer || l.TargetLayer == layer {
			count++
		}
	}
	return count, nil
}

var (
	_ store.GraphStore  = (*GraphStore)(nil)
	_ store.VectorStore = (*VectorStore)(nil)
	_ store.LinkStore   = (*LinkStore)(nil)
)
