package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/store"
	"github.com/trinity-ai/trinity/store/memstore"
)

type fixture struct {
	graphs   *memstore.GraphStore
	vectors  *memstore.VectorStore
	links    *memstore.LinkStore
	registry *layer.Registry
	linker   *Linker
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	graphs := memstore.NewGraphStore()
	vectors := memstore.NewVectorStore()
	links := memstore.NewLinkStore()
	registry := layer.NewRegistry(vectors)

	for _, cfg := range []layer.Config{
		{Name: "patient", Priority: 1},
		{Name: "dictionary", Priority: 2},
	} {
		_, err := registry.Register(cfg)
		require.NoError(t, err)
		require.NoError(t, registry.Initialize(ctx, cfg.Name))
	}

	return &fixture{
		graphs:   graphs,
		vectors:  vectors,
		links:    links,
		registry: registry,
		linker:   NewLinker(graphs, vectors, links, registry),
	}
}

func (f *fixture) addEntity(t *testing.T, layerName, id, name string, vec []float64) {
	t.Helper()
	ctx := context.Background()
	e := graph.NewEntity(name, "concept").
		WithID(id).
		WithLayer(layerName).
		WithDescription("test entity for the linker").
		WithEmbedding(vec)
	require.NoError(t, f.graphs.UpsertEntity(ctx, layerName, e))
	if vec != nil {
		require.NoError(t, f.vectors.Insert(ctx, layerName, id, vec))
	}
}

func TestLinkBelowThresholdCreatesNothing(t *testing.T) {
	// One patient entity whose best dictionary match scores 0.6; at the 0.75
	// default threshold no link may appear.
	ctx := context.Background()
	f := setup(t)

	f.addEntity(t, "patient", "p1", "chest pain episode", []float64{1, 0})
	f.addEntity(t, "dictionary", "d1", "angina", []float64{0.6, 0.8})

	n, err := f.linker.Link(ctx, "patient", "dictionary", 0.75)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := f.links.CountLayerLinks(ctx, "patient")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestLinkCreatesBestMatchOnly(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	f.addEntity(t, "patient", "p1", "hypertension mention", []float64{1, 0})
	// Both dictionary entries clear the threshold; only the closer one links.
	f.addEntity(t, "dictionary", "d-close", "hypertension", []float64{0.99, 0.01})
	f.addEntity(t, "dictionary", "d-far", "high blood pressure", []float64{0.9, 0.1})

	n, err := f.linker.Link(ctx, "patient", "dictionary", 0.75)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	links, err := f.links.LinksFor(ctx, "patient", "p1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "d-close", links[0].Target)
	assert.Equal(t, "dictionary", links[0].TargetLayer)
	assert.Greater(t, links[0].Similarity, 0.75)
}

func TestLinkIsDeterministic(t *testing.T) {
	// Re-running with identical embeddings and threshold must leave the same
	// edge set: links upsert by (source, target), nothing accumulates.
	ctx := context.Background()
	f := setup(t)

	f.addEntity(t, "patient", "p1", "hypertension mention", []float64{1, 0})
	f.addEntity(t, "patient", "p2", "lisinopril dose", []float64{0, 1})
	f.addEntity(t, "dictionary", "d1", "hypertension", []float64{0.99, 0.01})
	f.addEntity(t, "dictionary", "d2", "lisinopril", []float64{0.01, 0.99})

	first, err := f.linker.Link(ctx, "patient", "dictionary", 0.75)
	require.NoError(t, err)
	assert.Equal(t, 2, first)

	second, err := f.linker.Link(ctx, "patient", "dictionary", 0.75)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	count, err := f.links.CountLayerLinks(ctx, "patient")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLinkSkipsEntitiesWithoutEmbeddings(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	f.addEntity(t, "patient", "p1", "no embedding yet", nil)
	f.addEntity(t, "dictionary", "d1", "hypertension", []float64{1, 0})

	n, err := f.linker.Link(ctx, "patient", "dictionary", 0.75)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLinkValidation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.linker.Link(ctx, "patient", "patient", 0.75)
	assert.ErrorIs(t, err, graph.ErrValidation)

	_, err = f.linker.Link(ctx, "patient", "missing", 0.75)
	assert.ErrorIs(t, err, layer.ErrNotFound)

	require.NoError(t, f.registry.Close("dictionary"))
	_, err = f.linker.Link(ctx, "patient", "dictionary", 0.75)
	assert.ErrorIs(t, err, layer.ErrNotReady)
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	f.addEntity(t, "patient", "p1", "hypertension mention", []float64{1, 0})
	f.addEntity(t, "dictionary", "d1", "hypertension", []float64{0.99, 0.01})

	n, err := f.linker.Link(ctx, "patient", "dictionary", 0.75)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, f.linker.Unlink(ctx, "p1", "d1"))

	links, err := f.links.LinksFor(ctx, "patient", "p1")
	require.NoError(t, err)
	assert.Empty(t, links)

	assert.ErrorIs(t, f.linker.Unlink(ctx, "p1", "d1"), store.ErrNotFound)
}

func TestLinkedContextOrdering(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.registry.Register(layer.Config{Name: "notes", Priority: 3})
	require.NoError(t, err)
	require.NoError(t, f.registry.Initialize(ctx, "notes"))

	f.addEntity(t, "patient", "p1", "hypertension mention", []float64{1, 0})
	f.addEntity(t, "dictionary", "d1", "hypertension", []float64{1, 0})
	f.addEntity(t, "notes", "n1", "bp follow-up note", []float64{1, 0})

	links := []*graph.Link{
		{Source: "p1", SourceLayer: "patient", Target: "d1", TargetLayer: "dictionary", Similarity: 0.8, CreatedAt: time.Now().UTC()},
		{Source: "n1", SourceLayer: "notes", Target: "p1", TargetLayer: "patient", Similarity: 0.95, CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, f.links.UpsertLinks(ctx, links))

	got, err := f.linker.LinkedContext(ctx, "patient", "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Highest similarity first; the incoming link from "notes" beats the
	// outgoing one to "dictionary".
	assert.Equal(t, "n1", got[0].Entity.ID)
	assert.False(t, got[0].Outgoing)
	assert.Equal(t, "d1", got[1].Entity.ID)
	assert.True(t, got[1].Outgoing)
}

func TestLinkedContextSkipsClosedLayer(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	f.addEntity(t, "patient", "p1", "hypertension mention", []float64{1, 0})
	f.addEntity(t, "dictionary", "d1", "hypertension", []float64{0.99, 0.01})

	_, err := f.linker.Link(ctx, "patient", "dictionary", 0.75)
	require.NoError(t, err)

	require.NoError(t, f.registry.Close("dictionary"))

	got, err := f.linker.LinkedContext(ctx, "patient", "p1")
	require.NoError(t, err)
	assert.Empty(t, got, "links into a closed layer are skipped, not fatal")
}
