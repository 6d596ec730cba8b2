package retrieve

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/merge"
	"github.com/trinity-ai/trinity/store"
	"github.com/trinity-ai/trinity/store/memstore"
)

type embedderFunc func(ctx context.Context, text string) ([]float64, error)

func (f embedderFunc) Embed(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}

type graderFunc func(ctx context.Context, question, contextText string) (float64, error)

func (f graderFunc) Grade(ctx context.Context, question, contextText string) (float64, error) {
	return f(ctx, question, contextText)
}

type rewriterFunc func(ctx context.Context, question string) (string, error)

func (f rewriterFunc) Rewrite(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// countingVectors wraps a vector store and counts searches per namespace, so
// tests can prove which layers were actually queried.
type countingVectors struct {
	store.VectorStore

	mu       sync.Mutex
	searches map[string]int
}

func newCountingVectors(inner store.VectorStore) *countingVectors {
	return &countingVectors{VectorStore: inner, searches: make(map[string]int)}
}

func (c *countingVectors) Search(ctx context.Context, namespace string, vec []float64, topK int) ([]store.Match, error) {
	c.mu.Lock()
	c.searches[namespace]++
	c.mu.Unlock()
	return c.VectorStore.Search(ctx, namespace, vec, topK)
}

func (c *countingVectors) count(namespace string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searches[namespace]
}

type fixture struct {
	graphs   *memstore.GraphStore
	vectors  *countingVectors
	registry *layer.Registry
}

func setup(t *testing.T, layerNames ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		graphs:  memstore.NewGraphStore(),
		vectors: newCountingVectors(memstore.NewVectorStore()),
	}
	f.registry = layer.NewRegistry(f.vectors)

	for i, name := range layerNames {
		_, err := f.registry.Register(layer.Config{Name: name, Priority: i + 1})
		require.NoError(t, err)
		require.NoError(t, f.registry.Initialize(ctx, name))
	}
	return f
}

func (f *fixture) addEntity(t *testing.T, layerName, id, name, entityType string, vec []float64) {
	t.Helper()
	ctx := context.Background()
	e := graph.NewEntity(name, entityType).
		WithID(id).
		WithLayer(layerName).
		WithDescription("entity used by retriever tests").
		WithEmbedding(vec)
	require.NoError(t, f.graphs.UpsertEntity(ctx, layerName, e))
	if vec != nil {
		require.NoError(t, f.vectors.Insert(ctx, layerName, id, vec))
	}
}

func (f *fixture) retriever(opts ...Option) *Retriever {
	fixed := embedderFunc(func(context.Context, string) ([]float64, error) {
		return []float64{1, 0}, nil
	})
	return NewRetriever(f.graphs, f.vectors, f.registry, fixed, opts...)
}

func TestQueryValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	r := f.retriever()

	_, err := r.Query(ctx, "", []string{"private"}, DefaultOptions())
	assert.ErrorIs(t, err, graph.ErrValidation)

	_, err = r.Query(ctx, "q", nil, DefaultOptions())
	assert.ErrorIs(t, err, graph.ErrValidation)

	_, err = r.Query(ctx, "q", []string{"missing"}, DefaultOptions())
	assert.ErrorIs(t, err, layer.ErrNotFound)
}

func TestQueryBypass(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	r := f.retriever()

	opts := DefaultOptions()
	opts.Mode = ModeBypass
	qc, err := r.Query(ctx, "answer from the model alone", []string{"private"}, opts)
	require.NoError(t, err)

	assert.Equal(t, "bypass", qc.ModeUsed)
	assert.Equal(t, 0, qc.RetrievalCount)
	assert.Empty(t, qc.Entities)
	assert.Zero(t, f.vectors.count("private"), "bypass must not touch the stores")
}

func TestQueryNaiveMode(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{1, 0})
	f.addEntity(t, "private", "e2", "lisinopril", "drug", []float64{0, 1})

	r := f.retriever()
	opts := DefaultOptions()
	opts.Mode = ModeNaive

	qc, err := r.Query(ctx, "what is known about blood pressure", []string{"private"}, opts)
	require.NoError(t, err)

	assert.Equal(t, "naive", qc.ModeUsed)
	assert.Equal(t, 1, qc.RetrievalCount)
	require.NotEmpty(t, qc.Entities)
	assert.Equal(t, "e1", qc.Entities[0].Entity.ID, "closest vector ranks first")
	assert.Equal(t, []string{"e1", "e2"}, qc.PerLayerSources["private"])
}

func TestQueryLocalIncludesNeighborhood(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{1, 0})
	f.addEntity(t, "private", "e2", "lisinopril", "drug", nil)

	rel := graph.NewRelationship("e2", "e1", "used to treat the condition").WithLayer("private")
	require.NoError(t, f.graphs.UpsertRelationship(ctx, "private", rel))

	r := f.retriever()
	opts := DefaultOptions()
	opts.Mode = ModeLocal

	qc, err := r.Query(ctx, "tell me about hypertension", []string{"private"}, opts)
	require.NoError(t, err)

	require.Len(t, qc.Entities, 2, "anchor plus its neighbor")
	require.Len(t, qc.Relationships, 1)
	assert.Equal(t, graph.RelTreats, qc.Relationships[0].Type)
}

func TestQueryGlobalUsesSummaryIndex(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{0, 1})
	f.addEntity(t, "private", "e2", "cardiology overview", "summary", []float64{0, 1})

	// Only e2 is in the coarse summary index, and it is close to the query.
	l, err := f.registry.Get("private")
	require.NoError(t, err)
	require.NoError(t, f.vectors.Insert(ctx, l.SummaryNamespace(), "e2", []float64{1, 0}))

	r := f.retriever()
	opts := DefaultOptions()
	opts.Mode = ModeGlobal

	qc, err := r.Query(ctx, "give me a survey of the field", []string{"private"}, opts)
	require.NoError(t, err)

	require.Len(t, qc.Entities, 1)
	assert.Equal(t, "e2", qc.Entities[0].Entity.ID)
	assert.Equal(t, "global", qc.ModeUsed)
}

func TestQueryFallsBackToNaive(t *testing.T) {
	// Global mode against a layer with no summary index must not come back
	// empty; it degrades to naive search and says so.
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{1, 0})

	r := f.retriever()
	opts := DefaultOptions()
	opts.Mode = ModeGlobal

	qc, err := r.Query(ctx, "give me a survey of the field", []string{"private"}, opts)
	require.NoError(t, err)

	assert.Equal(t, "naive", qc.ModeUsed)
	require.Len(t, qc.Entities, 1)
}

func TestQueryAnalyzePicksLocalForKnownEntity(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{1, 0})

	r := f.retriever()
	qc, err := r.Query(ctx, "how is hypertension treated", []string{"private"}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "local", qc.ModeUsed)

	qc, err = r.Query(ctx, "summarize everything you know", []string{"private"}, DefaultOptions())
	require.NoError(t, err)
	// No summary index exists, so hybrid finds only local hits via its naive
	// component or falls back entirely.
	assert.Contains(t, []string{"hybrid", "naive"}, qc.ModeUsed)
}

func TestQueryMergeCombineRanksByLayerPriority(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private", "literature")

	// The literature hit scores higher, but private has priority 1 and wins.
	f.addEntity(t, "private", "p1", "hypertension note", "disease", []float64{0.9, 0.44})
	f.addEntity(t, "literature", "l1", "hypertension study", "disease", []float64{1, 0})

	r := f.retriever()
	opts := DefaultOptions()
	opts.Mode = ModeNaive

	qc, err := r.Query(ctx, "blood pressure", []string{"literature", "private"}, opts)
	require.NoError(t, err)

	require.Len(t, qc.Entities, 2)
	assert.Equal(t, "p1", qc.Entities[0].Entity.ID)
	assert.Equal(t, "l1", qc.Entities[1].Entity.ID)
	assert.Equal(t, []string{"p1"}, qc.PerLayerSources["private"])
	assert.Equal(t, []string{"l1"}, qc.PerLayerSources["literature"])
}

func TestQueryPriorityCombineShortCircuits(t *testing.T) {
	// Authority fallback chain: the first layer answers, so the layers behind
	// it are never queried at all.
	ctx := context.Background()
	f := setup(t, "private", "literature", "dictionary")

	f.addEntity(t, "private", "p1", "hypertension note", "disease", []float64{1, 0})
	f.addEntity(t, "literature", "l1", "hypertension study", "disease", []float64{1, 0})
	f.addEntity(t, "dictionary", "d1", "hypertension", "disease", []float64{1, 0})

	r := f.retriever()
	opts := DefaultOptions()
	opts.Mode = ModeNaive
	opts.Combine = CombinePriority

	qc, err := r.Query(ctx, "blood pressure", []string{"dictionary", "private", "literature"}, opts)
	require.NoError(t, err)

	require.Len(t, qc.Entities, 1)
	assert.Equal(t, "p1", qc.Entities[0].Entity.ID)
	assert.Equal(t, 1, f.vectors.count("private"))
	assert.Zero(t, f.vectors.count("literature"), "short-circuited layer must not be queried")
	assert.Zero(t, f.vectors.count("dictionary"), "short-circuited layer must not be queried")
}

func TestQueryPriorityCombineFallsThrough(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private", "literature")

	// Private is empty; the chain falls through to literature.
	f.addEntity(t, "literature", "l1", "hypertension study", "disease", []float64{1, 0})

	r := f.retriever()
	opts := DefaultOptions()
	opts.Mode = ModeNaive
	opts.Combine = CombinePriority

	qc, err := r.Query(ctx, "blood pressure", []string{"private", "literature"}, opts)
	require.NoError(t, err)

	require.Len(t, qc.Entities, 1)
	assert.Equal(t, "l1", qc.Entities[0].Entity.ID)
}

func TestQueryGracefulDegradation(t *testing.T) {
	// MaxRetries 0 with a grader that always scores 0 still succeeds after
	// exactly one retrieval pass, marked low confidence.
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{1, 0})

	zero := graderFunc(func(context.Context, string, string) (float64, error) { return 0, nil })
	r := f.retriever(WithGrader(zero))

	opts := DefaultOptions()
	opts.Mode = ModeNaive
	opts.MaxRetries = 0

	qc, err := r.Query(ctx, "blood pressure", []string{"private"}, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, qc.RetrievalCount)
	assert.True(t, qc.LowConfidence)
	assert.NotEmpty(t, qc.Entities, "gathered context survives a failing grade")
}

func TestQueryRefineLoop(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{1, 0})

	var grades int
	grader := graderFunc(func(context.Context, string, string) (float64, error) {
		grades++
		if grades == 1 {
			return 0.1, nil
		}
		return 0.9, nil
	})
	var rewrites []string
	rewriter := rewriterFunc(func(_ context.Context, q string) (string, error) {
		rewrites = append(rewrites, q)
		return "refined: " + q, nil
	})

	r := f.retriever(WithGrader(grader), WithRewriter(rewriter))
	opts := DefaultOptions()
	opts.Mode = ModeNaive

	qc, err := r.Query(ctx, "blood pressure", []string{"private"}, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, qc.RetrievalCount)
	assert.False(t, qc.LowConfidence)
	assert.InDelta(t, 0.9, qc.Confidence, 1e-9)
	assert.Equal(t, []string{"blood pressure"}, rewrites)
}

func TestQueryRefineBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{1, 0})

	zero := graderFunc(func(context.Context, string, string) (float64, error) { return 0, nil })
	r := f.retriever(WithGrader(zero))

	opts := DefaultOptions()
	opts.Mode = ModeNaive
	opts.MaxRetries = 3

	qc, err := r.Query(ctx, "blood pressure", []string{"private"}, opts)
	require.NoError(t, err)

	assert.Equal(t, 3, qc.RetrievalCount, "the retry budget is a hard structural bound")
	assert.True(t, qc.LowConfidence)
}

func TestQueryCELFilter(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{1, 0})
	f.addEntity(t, "private", "e2", "lisinopril", "drug", []float64{0.95, 0.31})

	r := f.retriever()
	opts := DefaultOptions()
	opts.Mode = ModeNaive
	opts.Filter = `type == "disease"`

	qc, err := r.Query(ctx, "blood pressure", []string{"private"}, opts)
	require.NoError(t, err)

	require.Len(t, qc.Entities, 1)
	assert.Equal(t, "e1", qc.Entities[0].Entity.ID)
}

func TestQueryRejectsBadFilter(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "e1", "hypertension", "disease", []float64{1, 0})

	r := f.retriever()
	opts := DefaultOptions()
	opts.Filter = `score +` // does not parse

	_, err := r.Query(ctx, "blood pressure", []string{"private"}, opts)
	assert.ErrorIs(t, err, graph.ErrValidation)

	opts.Filter = `score + 1.0` // parses but is not a bool
	_, err = r.Query(ctx, "blood pressure", []string{"private"}, opts)
	assert.ErrorIs(t, err, graph.ErrValidation)
}

// gatedGraphStore blocks the first DeleteEntity until released, so a test can
// hold a merge inside its critical section.
type gatedGraphStore struct {
	store.GraphStore

	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedGraphStore) DeleteEntity(ctx context.Context, namespace, id string) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.GraphStore.DeleteEntity(ctx, namespace, id)
}

func TestQuerySerializesWithMerge(t *testing.T) {
	ctx := context.Background()
	f := setup(t, "private")
	f.addEntity(t, "private", "a", "hypertension", "disease", []float64{1, 0})
	f.addEntity(t, "private", "b", "high blood pressure", "disease", []float64{0.99, 0.01})
	f.addEntity(t, "private", "drug", "lisinopril", "drug", []float64{0, 1})

	rel := graph.NewRelationship("drug", "b", "used to treat the condition").WithLayer("private")
	require.NoError(t, f.graphs.UpsertRelationship(ctx, "private", rel))

	gated := &gatedGraphStore{
		GraphStore: f.graphs,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	merger, err := merge.NewMerger(gated, f.vectors, f.registry, merge.DefaultStrategy())
	require.NoError(t, err)

	mergeDone := make(chan error, 1)
	go func() {
		_, err := merger.Merge(ctx, "private", []string{"a", "b"}, "a")
		mergeDone <- err
	}()
	<-gated.entered

	// The merge now sits between deleting the absorbed entity and writing the
	// rewired edges, holding the layer's advisory write lock.
	r := f.retriever()
	opts := DefaultOptions()
	opts.Mode = ModeLocal

	type result struct {
		qc  *QueryContext
		err error
	}
	queryDone := make(chan result, 1)
	go func() {
		qc, err := r.Query(ctx, "what treats hypertension", []string{"private"}, opts)
		queryDone <- result{qc, err}
	}()

	select {
	case <-queryDone:
		t.Fatal("query completed while a merge held the layer lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	require.NoError(t, <-mergeDone)

	res := <-queryDone
	require.NoError(t, res.err)
	require.NotEmpty(t, res.qc.Entities)
	for _, se := range res.qc.Entities {
		assert.NotEqual(t, "b", se.Entity.ID, "absorbed entity must never surface")
	}
	require.Len(t, res.qc.Relationships, 1)
	assert.Equal(t, "a", res.qc.Relationships[0].Target, "only the rewired edge is visible")
}
