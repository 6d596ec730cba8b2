package export

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/store/memstore"
)

type fixture struct {
	graphs   *memstore.GraphStore
	links    *memstore.LinkStore
	registry *layer.Registry
	exporter *Exporter
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		graphs: memstore.NewGraphStore(),
		links:  memstore.NewLinkStore(),
	}
	f.registry = layer.NewRegistry(nil)
	f.exporter = NewExporter(f.graphs, f.links, f.registry)

	for i, name := range []string{"patient", "dictionary"} {
		_, err := f.registry.Register(layer.Config{Name: name, Priority: i + 1})
		require.NoError(t, err)
		require.NoError(t, f.registry.Initialize(ctx, name))
	}

	for _, e := range []*graph.Entity{
		graph.NewEntity("hypertension", "disease").WithID("e1").WithLayer("patient").
			WithDescription("persistently elevated blood pressure").WithSourceRefs("doc-1"),
		graph.NewEntity("lisinopril", "drug").WithID("e2").WithLayer("patient").
			WithDescription("ACE inhibitor for blood pressure"),
		graph.NewEntity("headache", "symptom").WithID("e3").WithLayer("patient").
			WithDescription("pain located in the head region"),
	} {
		require.NoError(t, f.graphs.UpsertEntity(ctx, "patient", e))
	}
	rel := graph.NewRelationship("e2", "e1", "used to treat the condition").WithLayer("patient")
	require.NoError(t, f.graphs.UpsertRelationship(ctx, "patient", rel))

	require.NoError(t, f.graphs.UpsertEntity(ctx, "dictionary",
		graph.NewEntity("hypertension", "disease").WithID("d1").WithLayer("dictionary").
			WithDescription("canonical dictionary entry text")))

	require.NoError(t, f.links.UpsertLinks(ctx, []*graph.Link{{
		Source: "e1", SourceLayer: "patient",
		Target: "d1", TargetLayer: "dictionary",
		Similarity: 0.91, CreatedAt: time.Now().UTC(),
	}}))

	return f
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	s, err := f.exporter.Stats(ctx, "patient")
	require.NoError(t, err)

	assert.Equal(t, 3, s.EntityCount)
	assert.Equal(t, 1, s.RelationshipCount)
	assert.Equal(t, 1, s.LinkCount)
	assert.Equal(t, map[string]int{"disease": 1, "drug": 1, "symptom": 1}, s.EntityTypes)

	_, err = f.exporter.Stats(ctx, "missing")
	assert.ErrorIs(t, err, layer.ErrNotFound)
}

func TestStatsIsolation(t *testing.T) {
	// Mutating one layer never changes another layer's stats.
	ctx := context.Background()
	f := setup(t)

	before, err := f.exporter.Stats(ctx, "dictionary")
	require.NoError(t, err)

	require.NoError(t, f.graphs.UpsertEntity(ctx, "patient",
		graph.NewEntity("nausea", "symptom").WithID("e4").WithLayer("patient").
			WithDescription("feeling of sickness with urge to vomit")))
	require.NoError(t, f.graphs.Clear(ctx, "patient"))

	after, err := f.exporter.Stats(ctx, "dictionary")
	require.NoError(t, err)
	assert.Equal(t, before.EntityCount, after.EntityCount)
	assert.Equal(t, before.RelationshipCount, after.RelationshipCount)
}

func TestExportNodeEdgeList(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	data, err := f.exporter.Export(ctx, "patient", FormatNodeEdgeList)
	require.NoError(t, err)

	var out NodeEdgeList
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "patient", out.Layer)
	assert.Len(t, out.Nodes, 3)
	require.Len(t, out.Edges, 1)
	assert.Equal(t, graph.RelTreats, out.Edges[0].Type)
	require.Len(t, out.Links, 1)
	assert.Equal(t, "d1", out.Links[0].Target)
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	data, err := f.exporter.Export(ctx, "patient", FormatCSV)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.HasPrefix(text, "id,name,type,description,source_refs\n"))
	assert.Contains(t, text, "e1,hypertension,disease,persistently elevated blood pressure,doc-1")
	assert.Contains(t, text, "source,target,type,strength,description")
	assert.Contains(t, text, "e2,e1,TREATS")
}

func TestExportMermaid(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	data, err := f.exporter.Export(ctx, "patient", FormatMermaid)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.HasPrefix(text, "graph TD\n"))
	assert.Contains(t, text, `e1["hypertension"]`)
	assert.Contains(t, text, "e2 -->|TREATS| e1")
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"node_edge_list", "csv", "mermaid"} {
		got, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, Format(name), got)
	}
	_, err := ParseFormat("graphml")
	assert.ErrorIs(t, err, graph.ErrValidation)
}
