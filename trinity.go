package trinity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/trinity-ai/trinity/export"
	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/link"
	"github.com/trinity-ai/trinity/llm"
	"github.com/trinity-ai/trinity/merge"
	"github.com/trinity-ai/trinity/retrieve"
	"github.com/trinity-ai/trinity/store"
	"github.com/trinity-ai/trinity/store/memstore"
)

// Client is the facade over the whole knowledge hierarchy: layer lifecycle,
// entity insertion, merging, cross-layer linking, retrieval and export.
//
// Example:
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
//	report, err := client.InsertEntities(ctx, "patient", entities, rels)
type Client struct {
	graphs   store.GraphStore
	vectors  store.VectorStore
	links    store.LinkStore
	registry *layer.Registry

	merger    *merge.Merger
	linker    *link.Linker
	retriever *retrieve.Retriever
	exporter  *export.Exporter

	extractor llm.Extractor
	embedder  llm.Embedder
	logger    *slog.Logger
}

// New builds a Client from options, registers its layers and initializes
// them. Missing stores default to the in-memory implementations.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{strategy: merge.DefaultStrategy()}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if cfg.graphs == nil {
		cfg.graphs = memstore.NewGraphStore()
	}
	if cfg.vectors == nil {
		cfg.vectors = memstore.NewVectorStore()
	}
	if cfg.links == nil {
		cfg.links = memstore.NewLinkStore()
	}
	if cfg.retryPolicy != nil {
		cfg.graphs = store.NewRetryingGraphStore(cfg.graphs, *cfg.retryPolicy, cfg.logger)
		cfg.vectors = store.NewRetryingVectorStore(cfg.vectors, *cfg.retryPolicy, cfg.logger)
	}

	extractor := cfg.extractor
	embedder := cfg.embedder
	grader := cfg.grader
	rewriter := cfg.rewriter
	if cfg.callTimeout > 0 {
		if extractor != nil {
			extractor = llm.TimeoutExtractor{Extractor: extractor, Timeout: cfg.callTimeout}
		}
		if embedder != nil {
			embedder = llm.TimeoutEmbedder{Embedder: embedder, Timeout: cfg.callTimeout}
		}
		if grader != nil {
			grader = llm.TimeoutGrader{Grader: grader, Timeout: cfg.callTimeout}
		}
		if rewriter != nil {
			rewriter = llm.TimeoutRewriter{Rewriter: rewriter, Timeout: cfg.callTimeout}
		}
	}

	registryOpts := []layer.RegistryOption{layer.WithLogger(cfg.logger)}
	if cfg.embeddingDim > 0 {
		registryOpts = append(registryOpts, layer.WithEmbeddingDim(cfg.embeddingDim))
	}
	registry := layer.NewRegistry(cfg.vectors, registryOpts...)

	layerConfigs := cfg.layerConfigs
	if cfg.layerConfigPath != "" {
		loaded, err := layer.LoadConfigs(cfg.layerConfigPath)
		if err != nil {
			return nil, err
		}
		layerConfigs = append(layerConfigs, loaded...)
	}
	for _, lc := range layerConfigs {
		if _, err := registry.Register(lc); err != nil {
			return nil, err
		}
		if err := registry.Initialize(context.Background(), lc.Name); err != nil {
			return nil, err
		}
	}

	merger, err := merge.NewMerger(cfg.graphs, cfg.vectors, registry, cfg.strategy,
		merge.WithLogger(cfg.logger))
	if err != nil {
		return nil, err
	}

	c := &Client{
		graphs:    cfg.graphs,
		vectors:   cfg.vectors,
		links:     cfg.links,
		registry:  registry,
		merger:    merger,
		linker:    link.NewLinker(cfg.graphs, cfg.vectors, cfg.links, registry, link.WithLogger(cfg.logger)),
		exporter:  export.NewExporter(cfg.graphs, cfg.links, registry),
		extractor: extractor,
		embedder:  embedder,
		logger:    cfg.logger,
	}
	if embedder != nil {
		retrieveOpts := []retrieve.Option{retrieve.WithLogger(cfg.logger)}
		if grader != nil {
			retrieveOpts = append(retrieveOpts, retrieve.WithGrader(grader))
		}
		if rewriter != nil {
			retrieveOpts = append(retrieveOpts, retrieve.WithRewriter(rewriter))
		}
		c.retriever = retrieve.NewRetriever(cfg.graphs, cfg.vectors, registry, embedder, retrieveOpts...)
	}
	return c, nil
}

// Registry exposes the client's layer registry for lifecycle operations.
func (c *Client) Registry() *layer.Registry { return c.registry }

// InsertReport gives per-item outcomes for one insert batch. Nothing is
// silently dropped: every rejected entity or unresolvable relationship is
// listed.
type InsertReport struct {
	// Entities is the number of entities written.
	Entities int `json:"entities"`

	// Relationships is the number of relationships written.
	Relationships int `json:"relationships"`

	// Reused is the number of candidates folded onto an entity that already
	// carries their name instead of creating a new one.
	Reused int `json:"reused,omitempty"`

	// Skipped lists the items that were rejected, with reasons.
	Skipped []string `json:"skipped,omitempty"`
}

// InsertEntities writes extracted entity and relationship candidates into the
// named layer. Entities are matched to existing layer entities by
// case-insensitive name and counted as reused when a match folds them in;
// relationship endpoints resolve by name against the
// batch and the layer. All writes go through one transactional batch; invalid
// candidates are reported per item, not silently dropped.
func (c *Client) InsertEntities(ctx context.Context, layerName string, entities []llm.ExtractedEntity, rels []llm.ExtractedRelationship) (*InsertReport, error) {
	l, err := c.registry.Ready(layerName)
	if err != nil {
		return nil, err
	}
	l.Lock()
	defer l.Unlock()

	existing, err := c.graphs.Entities(ctx, l.Namespace)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*graph.Entity, len(existing))
	for _, e := range existing {
		byName[strings.ToLower(e.Name)] = e
	}

	report := &InsertReport{}
	var batch []*graph.Entity
	batchIDs := make(map[string]string) // lowercase name -> id

	for _, cand := range entities {
		key := strings.ToLower(cand.Name)
		if prev, ok := byName[key]; ok {
			batchIDs[key] = prev.ID
			report.Reused++
			continue
		}
		if _, ok := batchIDs[key]; ok {
			report.Reused++
			continue
		}
		e := graph.NewEntity(cand.Name, cand.Type).
			WithLayer(l.Name).
			WithDescription(cand.Description)
		if c.embedder != nil {
			vec, err := c.embedder.Embed(ctx, cand.Name+": "+cand.Description)
			if err != nil {
				return nil, fmt.Errorf("embed entity %q: %w", cand.Name, err)
			}
			e = e.WithEmbedding(vec)
		}
		if err := e.Validate(); err != nil {
			report.Skipped = append(report.Skipped, fmt.Sprintf("entity %q: %v", cand.Name, err))
			continue
		}
		batch = append(batch, e)
		batchIDs[key] = e.ID
	}

	var relBatch []*graph.Relationship
	for _, cand := range rels {
		srcID, srcOK := batchIDs[strings.ToLower(cand.SourceName)]
		dstID, dstOK := batchIDs[strings.ToLower(cand.TargetName)]
		if !srcOK || !dstOK {
			report.Skipped = append(report.Skipped,
				fmt.Sprintf("relationship %q -> %q: endpoint not found", cand.SourceName, cand.TargetName))
			continue
		}
		r := graph.NewRelationship(srcID, dstID, cand.Description).WithLayer(l.Name)
		r.Strength = graph.ParseStrength(cand.StrengthHint)
		if err := r.Validate(); err != nil {
			report.Skipped = append(report.Skipped,
				fmt.Sprintf("relationship %q -> %q: %v", cand.SourceName, cand.TargetName, err))
			continue
		}
		relBatch = append(relBatch, r)
	}

	if len(batch) > 0 || len(relBatch) > 0 {
		if err := c.graphs.BatchUpsert(ctx, l.Namespace, batch, relBatch); err != nil {
			return nil, err
		}
	}
	for _, e := range batch {
		if len(e.Embedding) == 0 {
			continue
		}
		if err := c.vectors.Insert(ctx, l.Namespace, e.ID, e.Embedding); err != nil {
			return nil, err
		}
	}

	report.Entities = len(batch)
	report.Relationships = len(relBatch)
	c.logger.Info("entities inserted",
		"layer", layerName, "entities", report.Entities,
		"relationships", report.Relationships,
		"reused", report.Reused, "skipped", len(report.Skipped))
	return report, nil
}

// InsertText extracts entities and relationships from raw text via the
// configured extraction service and inserts them into the named layer.
func (c *Client) InsertText(ctx context.Context, layerName, text string) (*InsertReport, error) {
	if c.extractor == nil {
		return nil, fmt.Errorf("%w: no extractor configured", graph.ErrValidation)
	}
	extraction, err := c.extractor.Extract(ctx, text)
	if err != nil {
		return nil, err
	}
	return c.InsertEntities(ctx, layerName, extraction.Entities, extraction.Relationships)
}

// InsertSummaries embeds and stores coarse summary texts in the layer's
// summary index, keyed by the entity each summary represents. Global-mode
// retrieval searches this index.
func (c *Client) InsertSummaries(ctx context.Context, layerName string, summaries map[string]string) error {
	if c.embedder == nil {
		return fmt.Errorf("%w: no embedder configured", graph.ErrValidation)
	}
	l, err := c.registry.Ready(layerName)
	if err != nil {
		return err
	}
	for id, text := range summaries {
		vec, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed summary %q: %w", id, err)
		}
		if err := c.vectors.Insert(ctx, l.SummaryNamespace(), id, vec); err != nil {
			return err
		}
	}
	return nil
}

// Merge collapses the candidate entities into targetID within the layer.
func (c *Client) Merge(ctx context.Context, layerName string, candidateIDs []string, targetID string) (*graph.Entity, error) {
	return c.merger.Merge(ctx, layerName, candidateIDs, targetID)
}

// AutoMerge finds similar-entity groups in the layer and merges each one.
func (c *Client) AutoMerge(ctx context.Context, layerName string, threshold float64, opts merge.AutoMergeOptions) (*merge.Report, error) {
	return c.merger.AutoMerge(ctx, layerName, threshold, opts)
}

// FindSimilar returns merge-candidate groups without mutating anything.
func (c *Client) FindSimilar(ctx context.Context, layerName string, threshold float64, topKPerEntity int) ([][]string, error) {
	return c.merger.FindSimilar(ctx, layerName, threshold, topKPerEntity)
}

// Link builds cross-layer reference edges from layerA entities to their best
// matches in layerB.
func (c *Client) Link(ctx context.Context, layerA, layerB string, threshold float64) (int, error) {
	return c.linker.Link(ctx, layerA, layerB, threshold)
}

// Unlink removes a single cross-layer link.
func (c *Client) Unlink(ctx context.Context, source, target string) error {
	return c.linker.Unlink(ctx, source, target)
}

// LinkedContext returns the cross-layer context reachable from an entity.
func (c *Client) LinkedContext(ctx context.Context, layerName, entityID string) ([]*link.LinkedEntity, error) {
	return c.linker.LinkedContext(ctx, layerName, entityID)
}

// Query runs the retrieval state machine against the named layers.
func (c *Client) Query(ctx context.Context, question string, layers []string, opts retrieve.Options) (*retrieve.QueryContext, error) {
	if c.retriever == nil {
		return nil, fmt.Errorf("%w: no embedder configured", graph.ErrValidation)
	}
	return c.retriever.Query(ctx, question, layers, opts)
}

// Stats returns the layer's entity, relationship and link counts.
func (c *Client) Stats(ctx context.Context, layerName string) (*export.Stats, error) {
	return c.exporter.Stats(ctx, layerName)
}

// Export serializes the layer's graph in the given format.
func (c *Client) Export(ctx context.Context, layerName string, format export.Format) ([]byte, error) {
	return c.exporter.Export(ctx, layerName, format)
}

// ClearLayer removes all entities, relationships, vectors, summaries and
// cross-layer links belonging to the layer. Other layers are untouched.
func (c *Client) ClearLayer(ctx context.Context, layerName string) error {
	l, err := c.registry.Ready(layerName)
	if err != nil {
		return err
	}
	l.Lock()
	defer l.Unlock()

	if err := c.graphs.Clear(ctx, l.Namespace); err != nil {
		return err
	}
	if err := c.vectors.Clear(ctx, l.Namespace); err != nil {
		return err
	}
	if err := c.vectors.Clear(ctx, l.SummaryNamespace()); err != nil {
		return err
	}
	if err := c.links.DeleteLayerLinks(ctx, l.Name); err != nil {
		return err
	}
	c.logger.Info("layer cleared", "layer", layerName)
	return nil
}
