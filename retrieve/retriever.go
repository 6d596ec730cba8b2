// Package retrieve executes queries against one or more layers and returns a
// ranked, assembled context. Each query runs a small state machine,
// ANALYZE → ROUTE → RETRIEVE → GRADE → {REFINE → RETRIEVE | GENERATE} → DONE,
// as an explicit loop with a retrieval counter so the retry budget is a
// structural bound. Answer generation itself happens outside this package;
// the output is a QueryContext, never text.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/llm"
	"github.com/trinity-ai/trinity/store"
)

const (
	// DefaultTopK bounds per-layer vector search.
	DefaultTopK = 10

	// DefaultDepth bounds local-mode neighborhood traversal.
	DefaultDepth = 1

	// DefaultMaxRetries bounds the REFINE loop.
	DefaultMaxRetries = 3

	// DefaultGradeThreshold is the relevance score below which the retriever
	// refines the query, budget permitting.
	DefaultGradeThreshold = 0.5
)

// Options tunes one query. Use DefaultOptions as the starting point; the zero
// value disables refinement (MaxRetries 0) and lets analysis pick the mode.
type Options struct {
	// Mode overrides the analyzed traversal mode. Empty means auto.
	Mode Mode

	// Combine selects multi-layer combination. Defaults to CombineMerge.
	Combine CombineMode

	// TopK bounds per-layer vector search.
	TopK int

	// Depth bounds local-mode graph traversal.
	Depth int

	// MaxRetries bounds how many times a low-graded query is refined and
	// re-retrieved. Zero disables refinement.
	MaxRetries int

	// GradeThreshold is the minimum acceptable relevance score.
	GradeThreshold float64

	// Filter is an optional CEL expression over name, type, layer,
	// description and score; entities failing it are excluded from the
	// assembled context.
	Filter string
}

// DefaultOptions returns the standard query options.
func DefaultOptions() Options {
	return Options{
		Combine:        CombineMerge,
		TopK:           DefaultTopK,
		Depth:          DefaultDepth,
		MaxRetries:     DefaultMaxRetries,
		GradeThreshold: DefaultGradeThreshold,
	}
}

func (o *Options) fillDefaults() {
	if o.Combine == "" {
		o.Combine = CombineMerge
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Depth <= 0 {
		o.Depth = DefaultDepth
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.GradeThreshold <= 0 {
		o.GradeThreshold = DefaultGradeThreshold
	}
}

// ScoredEntity is one ranked retrieval hit, tagged with its source layer.
type ScoredEntity struct {
	Entity *graph.Entity `json:"entity"`
	Layer  string        `json:"layer"`
	Score  float64       `json:"score"`
}

// QueryContext is the assembled retrieval result handed to the external
// answer generator.
type QueryContext struct {
	// Entities is the globally ranked entity list.
	Entities []*ScoredEntity `json:"entities"`

	// Relationships are the graph edges gathered alongside the entities.
	Relationships []*graph.Relationship `json:"relationships"`

	// PerLayerSources maps each contributing layer to its entity IDs in rank
	// order.
	PerLayerSources map[string][]string `json:"per_layer_sources"`

	// ModeUsed is the traversal mode that produced the final context,
	// including the naive fallback when structured retrieval found nothing.
	ModeUsed string `json:"mode_used"`

	// RetrievalCount is how many retrieval passes ran, including refinements.
	RetrievalCount int `json:"retrieval_count"`

	// Confidence is the last relevance grade, or 1 when no grader is
	// configured.
	Confidence float64 `json:"confidence"`

	// LowConfidence marks a context that finished below the grade threshold
	// after exhausting the refine budget. The query still succeeds.
	LowConfidence bool `json:"low_confidence"`
}

// Text flattens the context for the external grader and generator: one line
// per entity, then one per relationship.
func (qc *QueryContext) Text() string {
	var b strings.Builder
	for _, se := range qc.Entities {
		fmt.Fprintf(&b, "%s (%s): %s\n", se.Entity.Name, se.Entity.Type, se.Entity.Description)
	}
	for _, r := range qc.Relationships {
		fmt.Fprintf(&b, "%s -[%s]-> %s: %s\n", r.Source, r.Type, r.Target, r.Description)
	}
	return b.String()
}

// Retriever executes queries. External collaborators (embedder, grader,
// rewriter) are narrow interfaces; grader and rewriter are optional and their
// absence simply skips the GRADE/REFINE path.
type Retriever struct {
	graphs   store.GraphStore
	vectors  store.VectorStore
	registry *layer.Registry
	embedder llm.Embedder
	grader   llm.Grader
	rewriter llm.Rewriter
	logger   *slog.Logger
	tracer   trace.Tracer
	passes   metric.Int64Counter
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithGrader sets the relevance grader driving the REFINE loop.
func WithGrader(g llm.Grader) Option {
	return func(r *Retriever) { r.grader = g }
}

// WithRewriter sets the query rewriter used by REFINE.
func WithRewriter(w llm.Rewriter) Option {
	return func(r *Retriever) { r.rewriter = w }
}

// WithLogger sets the retriever's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// WithTracer overrides the tracer (defaults to the global provider).
func WithTracer(t trace.Tracer) Option {
	return func(r *Retriever) { r.tracer = t }
}

// WithMeter overrides the meter used for the retrieval-pass counter.
func WithMeter(m metric.Meter) Option {
	return func(r *Retriever) {
		c, err := m.Int64Counter("trinity.retrieve.passes",
			metric.WithDescription("Retrieval passes executed, including refinements"))
		if err != nil {
			r.logger.Warn("retrieval counter unavailable", "error", err)
			return
		}
		r.passes = c
	}
}

// NewRetriever creates a Retriever over the given stores and registry.
func NewRetriever(graphs store.GraphStore, vectors store.VectorStore, registry *layer.Registry, embedder llm.Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		graphs:   graphs,
		vectors:  vectors,
		registry: registry,
		embedder: embedder,
		logger:   slog.Default(),
		tracer:   otel.Tracer("trinity/retrieve"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.passes == nil {
		WithMeter(otel.Meter("trinity/retrieve"))(r)
	}
	return r
}

// Query runs the retrieval state machine for one question against the named
// layers. Store failures abort the query with an error; low relevance never
// does. A query with MaxRetries 0 and a grader scoring 0 still succeeds with
// RetrievalCount 1 and LowConfidence set.
func (r *Retriever) Query(ctx context.Context, question string, layerNames []string, opts Options) (*QueryContext, error) {
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", graph.ErrValidation)
	}
	if len(layerNames) == 0 {
		return nil, fmt.Errorf("%w: at least one layer is required", graph.ErrValidation)
	}
	opts.fillDefaults()

	layers, err := r.resolveLayers(layerNames)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "retrieve.query", trace.WithAttributes(
		attribute.Int("retrieve.layer_count", len(layers)),
		attribute.String("retrieve.combine", string(opts.Combine)),
	))
	defer span.End()

	var (
		mode    Mode
		filter  *resultFilter
		current = question
		count   = 0
		qc      *QueryContext
	)

	st := stateAnalyze
	for st != stateDone {
		span.AddEvent(st.String())
		switch st {
		case stateAnalyze:
			// Analysis only picks a default; an explicit caller mode skips
			// the scan entirely.
			if opts.Mode == ModeAuto {
				mode = r.analyze(ctx, question, layers)
			} else {
				mode = opts.Mode
			}
			st = stateRoute

		case stateRoute:
			if opts.Filter != "" && filter == nil {
				filter, err = compileFilter(opts.Filter)
				if err != nil {
					return nil, err
				}
			}
			span.SetAttributes(attribute.String("retrieve.mode", string(mode)))
			if mode == ModeBypass {
				qc = &QueryContext{
					PerLayerSources: map[string][]string{},
					ModeUsed:        string(ModeBypass),
					Confidence:      1,
				}
				st = stateGenerate
				break
			}
			st = stateRetrieve

		case stateRetrieve:
			count++
			if r.passes != nil {
				r.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
			}
			qc, err = r.retrieveOnce(ctx, current, layers, mode, opts, filter)
			if errors.Is(err, llm.ErrTimeout) {
				// Collaborator timeouts take the refine path, budget
				// permitting.
				r.logger.Warn("retrieval pass timed out", "pass", count, "error", err)
				qc = &QueryContext{PerLayerSources: map[string][]string{}, ModeUsed: string(mode)}
				if count < opts.MaxRetries {
					st = stateRefine
				} else {
					qc.LowConfidence = true
					st = stateGenerate
				}
				break
			}
			if err != nil {
				return nil, err
			}
			st = stateGrade

		case stateGrade:
			if r.grader == nil {
				qc.Confidence = 1
				st = stateGenerate
				break
			}
			score, gerr := r.grader.Grade(ctx, question, qc.Text())
			if gerr != nil {
				// Grading failures score as zero rather than failing the
				// query.
				r.logger.Warn("context grading failed", "error", gerr)
				score = 0
			}
			qc.Confidence = score
			if score >= opts.GradeThreshold {
				st = stateGenerate
				break
			}
			if count < opts.MaxRetries {
				st = stateRefine
				break
			}
			qc.LowConfidence = true
			st = stateGenerate

		case stateRefine:
			current = r.refine(ctx, current)
			st = stateRetrieve

		case stateGenerate:
			qc.RetrievalCount = count
			st = stateDone
		}
	}

	span.SetAttributes(
		attribute.Int("retrieve.retrieval_count", qc.RetrievalCount),
		attribute.Int("retrieve.entity_count", len(qc.Entities)),
		attribute.Bool("retrieve.low_confidence", qc.LowConfidence),
	)
	r.logger.Info("query done",
		"mode", qc.ModeUsed, "passes", qc.RetrievalCount,
		"entities", len(qc.Entities), "low_confidence", qc.LowConfidence)
	return qc, nil
}

// resolveLayers gates every named layer on readiness and returns them in
// priority order.
func (r *Retriever) resolveLayers(names []string) ([]*layer.Layer, error) {
	out := make([]*layer.Layer, 0, len(names))
	for _, name := range names {
		l, err := r.registry.Ready(name)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// analyze classifies the question: if it names an entity known to any
// in-scope layer the query is entity-local and defaults to local mode,
// otherwise it is broad and defaults to hybrid.
func (r *Retriever) analyze(ctx context.Context, question string, layers []*layer.Layer) Mode {
	q := strings.ToLower(question)
	for _, l := range layers {
		l.RLock()
		entities, err := r.graphs.Entities(ctx, l.Namespace)
		l.RUnlock()
		if err != nil {
			r.logger.Warn("query analysis skipped layer", "layer", l.Name, "error", err)
			continue
		}
		for _, e := range entities {
			if e.Name != "" && strings.Contains(q, strings.ToLower(e.Name)) {
				return ModeLocal
			}
		}
	}
	return ModeHybrid
}

// refine rewrites the query via the external rewriter. Rewrite failures keep
// the current question; the pass still counts against the budget.
func (r *Retriever) refine(ctx context.Context, question string) string {
	if r.rewriter == nil {
		return question
	}
	rewritten, err := r.rewriter.Rewrite(ctx, question)
	if err != nil || rewritten == "" {
		r.logger.Warn("query rewrite failed, keeping original", "error", err)
		return question
	}
	return rewritten
}

// layerResult is one layer's contribution before global ranking.
type layerResult struct {
	entities []*ScoredEntity
	rels     []*graph.Relationship
}

// retrieveOnce runs one retrieval pass: embed the question, fan out per
// layer, combine, filter and rank. When structured retrieval finds nothing it
// falls back to naive vector search once and reports that mode.
func (r *Retriever) retrieveOnce(ctx context.Context, question string, layers []*layer.Layer, mode Mode, opts Options, filter *resultFilter) (*QueryContext, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	results, err := r.fanOut(ctx, layers, vec, mode, opts)
	if err != nil {
		return nil, err
	}

	used := mode
	if mode != ModeNaive && resultsEmpty(results) {
		results, err = r.fanOut(ctx, layers, vec, ModeNaive, opts)
		if err != nil {
			return nil, err
		}
		used = ModeNaive
	}

	return r.assemble(layers, results, used, filter), nil
}

// fanOut queries each layer under the combine policy. Merge mode runs one
// concurrent task per layer, bounded by layer count. Priority mode walks
// layers in precedence order and short-circuits at the first non-empty
// result, never touching the layers behind it.
func (r *Retriever) fanOut(ctx context.Context, layers []*layer.Layer, vec []float64, mode Mode, opts Options) ([]*layerResult, error) {
	results := make([]*layerResult, len(layers))

	if opts.Combine == CombinePriority {
		for i, l := range layers {
			res, err := r.retrieveLayer(ctx, l, vec, mode, opts)
			if err != nil {
				return nil, err
			}
			results[i] = res
			if len(res.entities) > 0 {
				break
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range layers {
		g.Go(func() error {
			res, err := r.retrieveLayer(gctx, l, vec, mode, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func resultsEmpty(results []*layerResult) bool {
	for _, res := range results {
		if res != nil && len(res.entities) > 0 {
			return false
		}
	}
	return true
}

// retrieveLayer executes one mode against one layer. The pass holds the
// layer's advisory read lock so a concurrent merge can never expose a
// half-merged entity set.
func (r *Retriever) retrieveLayer(ctx context.Context, l *layer.Layer, vec []float64, mode Mode, opts Options) (*layerResult, error) {
	l.RLock()
	defer l.RUnlock()

	switch mode {
	case ModeLocal:
		return r.localPass(ctx, l, vec, opts)
	case ModeGlobal:
		return r.globalPass(ctx, l, vec, opts)
	case ModeNaive:
		return r.naivePass(ctx, l, vec, opts)
	case ModeHybrid:
		var local, global *layerResult
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			local, err = r.localPass(gctx, l, vec, opts)
			return err
		})
		g.Go(func() error {
			var err error
			global, err = r.globalPass(gctx, l, vec, opts)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return &layerResult{
			entities: append(local.entities, global.entities...),
			rels:     append(local.rels, global.rels...),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown retrieval mode %q", graph.ErrValidation, mode)
	}
}

// naivePass is raw vector search against the layer's entity index.
func (r *Retriever) naivePass(ctx context.Context, l *layer.Layer, vec []float64, opts Options) (*layerResult, error) {
	matches, err := r.vectors.Search(ctx, l.Namespace, vec, opts.TopK)
	if err != nil {
		return nil, err
	}
	res := &layerResult{}
	for _, m := range matches {
		e, err := r.graphs.GetEntity(ctx, l.Namespace, m.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res.entities = append(res.entities, &ScoredEntity{Entity: e, Layer: l.Name, Score: m.Score})
	}
	return res, nil
}

// localPass is naive search plus the best match's graph neighborhood.
// Neighbors inherit their anchor's score; ranking tie-breaks sort them.
func (r *Retriever) localPass(ctx context.Context, l *layer.Layer, vec []float64, opts Options) (*layerResult, error) {
	res, err := r.naivePass(ctx, l, vec, opts)
	if err != nil {
		return nil, err
	}
	if len(res.entities) == 0 {
		return res, nil
	}

	anchor := res.entities[0]
	neighbors, rels, err := r.graphs.Neighbors(ctx, l.Namespace, anchor.Entity.ID, opts.Depth)
	if err != nil {
		return nil, err
	}
	for _, n := range neighbors {
		res.entities = append(res.entities, &ScoredEntity{Entity: n, Layer: l.Name, Score: anchor.Score})
	}
	res.rels = append(res.rels, rels...)
	return res, nil
}

// globalPass searches the layer's coarse summary index. Matched summary IDs
// resolve back to entities in the main namespace; stale summaries whose
// entity is gone are skipped.
func (r *Retriever) globalPass(ctx context.Context, l *layer.Layer, vec []float64, opts Options) (*layerResult, error) {
	matches, err := r.vectors.Search(ctx, l.SummaryNamespace(), vec, opts.TopK)
	if err != nil {
		return nil, err
	}
	res := &layerResult{}
	for _, m := range matches {
		e, err := r.graphs.GetEntity(ctx, l.Namespace, m.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res.entities = append(res.entities, &ScoredEntity{Entity: e, Layer: l.Name, Score: m.Score})
	}
	return res, nil
}

// assemble dedupes, filters and ranks the per-layer results into the final
// context. Ranking: layer priority ascending, score descending, recency
// descending, entity ID ascending.
func (r *Retriever) assemble(layers []*layer.Layer, results []*layerResult, used Mode, filter *resultFilter) *QueryContext {
	priorities := make(map[string]int, len(layers))
	for _, l := range layers {
		priorities[l.Name] = l.Priority
	}

	// Dedupe entities by (layer, id), keeping the best score.
	byKey := make(map[string]*ScoredEntity)
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, se := range res.entities {
			key := se.Layer + "|" + se.Entity.ID
			if prev, ok := byKey[key]; !ok || se.Score > prev.Score {
				byKey[key] = se
			}
		}
	}

	entities := make([]*ScoredEntity, 0, len(byKey))
	for _, se := range byKey {
		if filter != nil && !filter.keep(se) {
			continue
		}
		entities = append(entities, se)
	}
	sort.Slice(entities, func(i, j int) bool {
		if priorities[entities[i].Layer] != priorities[entities[j].Layer] {
			return priorities[entities[i].Layer] < priorities[entities[j].Layer]
		}
		if entities[i].Score != entities[j].Score {
			return entities[i].Score > entities[j].Score
		}
		if !entities[i].Entity.UpdatedAt.Equal(entities[j].Entity.UpdatedAt) {
			return entities[i].Entity.UpdatedAt.After(entities[j].Entity.UpdatedAt)
		}
		return entities[i].Entity.ID < entities[j].Entity.ID
	})

	// Dedupe relationships by (layer, identity key); keep only edges whose
	// endpoints survived filtering.
	kept := make(map[string]bool, len(entities))
	perLayer := make(map[string][]string)
	for _, se := range entities {
		kept[se.Layer+"|"+se.Entity.ID] = true
		perLayer[se.Layer] = append(perLayer[se.Layer], se.Entity.ID)
	}
	relByKey := make(map[string]*graph.Relationship)
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, rel := range res.rels {
			if !kept[rel.Layer+"|"+rel.Source] || !kept[rel.Layer+"|"+rel.Target] {
				continue
			}
			relByKey[rel.Layer+"|"+rel.Key()] = rel
		}
	}
	rels := make([]*graph.Relationship, 0, len(relByKey))
	for _, rel := range relByKey {
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool {
		if priorities[rels[i].Layer] != priorities[rels[j].Layer] {
			return priorities[rels[i].Layer] < priorities[rels[j].Layer]
		}
		return rels[i].Key() < rels[j].Key()
	})

	return &QueryContext{
		Entities:        entities,
		Relationships:   rels,
		PerLayerSources: perLayer,
		ModeUsed:        string(used),
	}
}
