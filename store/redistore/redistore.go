// Package redistore implements the store interfaces on Redis. Entities,
// relationships, and links are stored as JSON values in per-namespace hashes;
// vector search is a brute-force cosine scan over the namespace's vector
// hash, which keeps ordering deterministic and needs no server-side modules.
package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/store"
)

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379").
	URL string

	// KeyPrefix namespaces every key this store writes. Default "trinity".
	KeyPrefix string

	// ConnectTimeout is the maximum time to wait for connection establishment.
	ConnectTimeout time.Duration
}

// Store implements store.GraphStore, store.VectorStore, and store.LinkStore
// on a single Redis connection.
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a Redis-backed store and verifies connectivity with a ping.
func New(opts Options) (*Store, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "trinity"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Store{client: client, prefix: opts.KeyPrefix}, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) nodesKey(ns string) string   { return s.prefix + ":" + ns + ":nodes" }
func (s *Store) edgesKey(ns string) string   { return s.prefix + ":" + ns + ":edges" }
func (s *Store) vectorsKey(ns string) string { return s.prefix + ":" + ns + ":vectors" }
func (s *Store) linksKey() string            { return s.prefix + ":links" }

// wrapErr classifies a go-redis error into the store taxonomy: redis.Nil
// becomes ErrNotFound, network-level failures become ErrTransient so the
// retry wrapper picks them up, anything else is ErrStorage.
func wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, op)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", store.ErrTransient, op, err)
	}
	return fmt.Errorf("%w: %s: %v", store.ErrStorage, op, err)
}

// ---- GraphStore ----

func (s *Store) UpsertEntity(ctx context.Context, ns string, e *graph.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: marshal entity %q: %v", store.ErrStorage, e.ID, err)
	}
	return wrapErr(s.client.HSet(ctx, s.nodesKey(ns), e.ID, data).Err(), "upsert entity")
}

func (s *Store) UpsertRelationship(ctx context.Context, ns string, r *graph.Relationship) error {
	for _, id := range []string{r.Source, r.Target} {
		ok, err := s.client.HExists(ctx, s.nodesKey(ns), id).Result()
		if err != nil {
			return wrapErr(err, "check endpoint")
		}
		if !ok {
			return fmt.Errorf("%w: relationship endpoint %q", store.ErrNotFound, id)
		}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: marshal relationship: %v", store.ErrStorage, err)
	}
	return wrapErr(s.client.HSet(ctx, s.edgesKey(ns), r.Key(), data).Err(), "upsert relationship")
}

func (s *Store) GetEntity(ctx context.Context, ns, id string) (*graph.Entity, error) {
	data, err := s.client.HGet(ctx, s.nodesKey(ns), id).Bytes()
	if err != nil {
		return nil, wrapErr(err, "get entity "+id)
	}
	var e graph.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: decode entity %q: %v", store.ErrStorage, id, err)
	}
	return &e, nil
}

func (s *Store) Neighbors(ctx context.Context, ns, id string, depth int) ([]*graph.Entity, []*graph.Relationship, error) {
	if _, err := s.GetEntity(ctx, ns, id); err != nil {
		return nil, nil, err
	}
	if depth < 1 {
		depth = 1
	}
	all, err := s.Relationships(ctx, ns)
	if err != nil {
		return nil, nil, err
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	relSeen := map[string]bool{}
	var rels []*graph.Relationship
	var reach []string

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, r := range all {
				var other string
				switch cur {
				case r.Source:
					other = r.Target
				case r.Target:
					other = r.Source
				default:
					continue
				}
				if !relSeen[r.Key()] {
					relSeen[r.Key()] = true
					rels = append(rels, r)
				}
				if !visited[other] {
					visited[other] = true
					reach = append(reach, other)
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	sort.Strings(reach)
	ents := make([]*graph.Entity, 0, len(reach))
	for _, rid := range reach {
		e, err := s.GetEntity(ctx, ns, rid)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		ents = append(ents, e)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Key() < rels[j].Key() })
	return ents, rels, nil
}

func (s *Store) DeleteEntity(ctx context.Context, ns, id string) error {
	n, err := s.client.HDel(ctx, s.nodesKey(ns), id).Result()
	if err != nil {
		return wrapErr(err, "delete entity")
	}
	if n == 0 {
		return fmt.Errorf("%w: entity %q", store.ErrNotFound, id)
	}
	rels, err := s.Relationships(ctx, ns)
	if err != nil {
		return err
	}
	var dangling []string
	for _, r := range rels {
		if r.Source == id || r.Target == id {
			dangling = append(dangling, r.Key())
		}
	}
	if len(dangling) > 0 {
		if err := s.client.HDel(ctx, s.edgesKey(ns), dangling...).Err(); err != nil {
			return wrapErr(err, "delete dangling edges")
		}
	}
	return nil
}

func (s *Store) DeleteRelationship(ctx context.Context, ns, source, target, relType string) error {
	key := source + "|" + target + "|" + relType
	n, err := s.client.HDel(ctx, s.edgesKey(ns), key).Result()
	if err != nil {
		return wrapErr(err, "delete relationship")
	}
	if n == 0 {
		return fmt.Errorf("%w: relationship %s", store.ErrNotFound, key)
	}
	return nil
}

func (s *Store) BatchUpsert(ctx context.Context, ns string, entities []*graph.Entity, rels []*graph.Relationship) error {
	// Validate endpoints against the batch and the namespace before writing
	// anything; the TxPipeline then applies the whole batch atomically.
	inBatch := make(map[string]bool, len(entities))
	for _, e := range entities {
		inBatch[e.ID] = true
	}
	for _, r := range rels {
		for _, id := range []string{r.Source, r.Target} {
			if inBatch[id] {
				continue
			}
			ok, err := s.client.HExists(ctx, s.nodesKey(ns), id).Result()
			if err != nil {
				return wrapErr(err, "validate batch endpoint")
			}
			if !ok {
				return fmt.Errorf("%w: relationship endpoint %q not in batch or namespace", store.ErrBatchInvalid, id)
			}
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entities {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("%w: marshal entity %q: %v", store.ErrStorage, e.ID, err)
			}
			pipe.HSet(ctx, s.nodesKey(ns), e.ID, data)
		}
		for _, r := range rels {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("%w: marshal relationship: %v", store.ErrStorage, err)
			}
			pipe.HSet(ctx, s.edgesKey(ns), r.Key(), data)
		}
		return nil
	})
	return wrapErr(err, "batch upsert")
}

func (s *Store) Entities(ctx context.Context, ns string) ([]*graph.Entity, error) {
	raw, err := s.client.HGetAll(ctx, s.nodesKey(ns)).Result()
	if err != nil {
		return nil, wrapErr(err, "list entities")
	}
	out := make([]*graph.Entity, 0, len(raw))
	for id, data := range raw {
		var e graph.Entity
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("%w: decode entity %q: %v", store.ErrStorage, id, err)
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Relationships(ctx context.Context, ns string) ([]*graph.Relationship, error) {
	raw, err := s.client.HGetAll(ctx, s.edgesKey(ns)).Result()
	if err != nil {
		return nil, wrapErr(err, "list relationships")
	}
	out := make([]*graph.Relationship, 0, len(raw))
	for key, data := range raw {
		var r graph.Relationship
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("%w: decode relationship %q: %v", store.ErrStorage, key, err)
		}
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// Clear removes the namespace's nodes, edges and vectors together. The Store
// backs GraphStore and VectorStore with one keyspace, so clearing through
// either interface clears the whole namespace; use ClearVectors to drop only
// the vector side.
func (s *Store) Clear(ctx context.Context, ns string) error {
	return wrapErr(s.client.Del(ctx, s.nodesKey(ns), s.edgesKey(ns), s.vectorsKey(ns)).Err(), "clear namespace")
}

// ---- VectorStore ----

func (s *Store) Insert(ctx context.Context, ns, id string, vec []float64) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector for %q", store.ErrStorage, id)
	}
	dim, err := s.Dim(ctx, ns)
	if err != nil {
		return err
	}
	if dim != 0 && dim != len(vec) {
		return fmt.Errorf("%w: dimension %d does not match namespace dimension %d", store.ErrStorage, len(vec), dim)
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("%w: marshal vector: %v", store.ErrStorage, err)
	}
	return wrapErr(s.client.HSet(ctx, s.vectorsKey(ns), id, data).Err(), "insert vector")
}

func (s *Store) Search(ctx context.Context, ns string, vec []float64, topK int) ([]store.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	raw, err := s.client.HGetAll(ctx, s.vectorsKey(ns)).Result()
	if err != nil {
		return nil, wrapErr(err, "search vectors")
	}
	matches := make([]store.Match, 0, len(raw))
	for id, data := range raw {
		var v []float64
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("%w: decode vector %q: %v", store.ErrStorage, id, err)
		}
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

func (s *Store) Delete(ctx context.Context, ns string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return wrapErr(s.client.HDel(ctx, s.vectorsKey(ns), ids...).Err(), "delete vectors")
}

// ClearVectors removes all vectors in the namespace without touching nodes
// or edges. Clear removes everything.
func (s *Store) ClearVectors(ctx context.Context, ns string) error {
	return wrapErr(s.client.Del(ctx, s.vectorsKey(ns)).Err(), "clear vectors")
}

func (s *Store) Dim(ctx context.Context, ns string) (int, error) {
	raw, err := s.client.HRandField(ctx, s.vectorsKey(ns), 1).Result()
	if err != nil {
		return 0, wrapErr(err, "vector dim")
	}
	if len(raw) == 0 {
		return 0, nil
	}
	data, err := s.client.HGet(ctx, s.vectorsKey(ns), raw[0]).Bytes()
	if err != nil {
		return 0, wrapErr(err, "vector dim")
	}
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("%w: decode vector: %v", store.ErrStorage, err)
	}
	return len(v), nil
}

// ---- LinkStore ----

func (s *Store) UpsertLinks(ctx context.Context, links []*graph.Link) error {
	for _, l := range links {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, l := range links {
			data, err := json.Marshal(l)
			if err != nil {
				return fmt.Errorf("%w: marshal link: %v", store.ErrStorage, err)
			}
			pipe.HSet(ctx, s.linksKey(), l.Key(), data)
		}
		return nil
	})
	return wrapErr(err, "upsert links")
}

func (s *Store) allLinks(ctx context.Context) ([]*graph.Link, error) {
	raw, err := s.client.HGetAll(ctx, s.linksKey()).Result()
	if err != nil {
		return nil, wrapErr(err, "list links")
	}
	out := make([]*graph.Link, 0, len(raw))
	for key, data := range raw {
		var l graph.Link
		if err := json.Unmarshal([]byte(data), &l); err != nil {
			return nil, fmt.Errorf("%w: decode link %q: %v", store.ErrStorage, key, err)
		}
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *Store) LinksFor(ctx context.Context, layer, entityID string) ([]*graph.Link, error) {
	all, err := s.allLinks(ctx)
	if err != nil {
		return nil, err
	}
	var out []*graph.Link
	for _, l := range all {
		if (l.SourceLayer == layer && l.Source == entityID) ||
			(l.TargetLayer == layer && l.Target == entityID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) LinksBetween(ctx context.Context, sourceLayer, targetLayer string) ([]*graph.Link, error) {
	all, err := s.allLinks(ctx)
	if err != nil {
		return nil, err
	}
	var out []*graph.Link
	for _, l := range all {
		if l.SourceLayer == sourceLayer && l.TargetLayer == targetLayer {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) DeleteLink(ctx context.Context, source, target string) error {
	n, err := s.client.HDel(ctx, s.linksKey(), source+"|"+target).Result()
	if err != nil {
		return wrapErr(err, "delete link")
	}
	if n == 0 {
		return fmt.Errorf("%w: link %s|%s", store.ErrNotFound, source, target)
	}
	return nil
}

func (s *Store) DeleteLayerLinks(ctx context.Context, layer string) error {
	all, err := s.allLinks(ctx)
	if err != nil {
		return err
	}
	var keys []string
	for _, l := range all {
		if l.SourceLayer == layer || l.TargetLayer == layer {
			keys = append(keys, l.Key())
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return wrapErr(s.client.HDel(ctx, s.linksKey(), keys...).Err(), "delete layer links")
}

func (s *Store) CountLayerLinks(ctx context.Context, layer string) (int, error) {
	all, err := s.allLinks(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, l := range all {
		if l.SourceLayer == layer || l.TargetLayer == layer {
			count++
		}
	}
	return count, nil
}

var (
	_ store.GraphStore  = (*Store)(nil)
	_ store.VectorStore = (*Store)(nil)
	_ store.LinkStore   = (*Store)(nil)
)
