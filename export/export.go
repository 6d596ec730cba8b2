// Package export produces layer statistics and serialized views of a layer's
// graph. Three encodings are supported: a node/edge list (JSON), a tabular
// form (CSV) and a diagram description (Mermaid).
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/store"
)

// Format names a serialization of a layer's graph.
type Format string

const (
	// FormatNodeEdgeList is an indented JSON node/edge list.
	FormatNodeEdgeList Format = "node_edge_list"

	// FormatCSV is two CSV tables, nodes then edges, separated by a blank
	// line.
	FormatCSV Format = "csv"

	// FormatMermaid is a Mermaid flowchart description.
	FormatMermaid Format = "mermaid"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatNodeEdgeList, FormatCSV, FormatMermaid:
		return Format(s), nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", graph.ErrValidation, s)
	}
}

// Stats summarizes one layer.
type Stats struct {
	// Layer is the layer name.
	Layer string `json:"layer"`

	// EntityCount is the number of entities in the layer.
	EntityCount int `json:"entity_count"`

	// RelationshipCount is the number of intra-layer relationships.
	RelationshipCount int `json:"relationship_count"`

	// LinkCount is the number of cross-layer links touching the layer in
	// either direction.
	LinkCount int `json:"link_count"`

	// EntityTypes breaks EntityCount down by entity type.
	EntityTypes map[string]int `json:"entity_types"`
}

// NodeEdgeList is the JSON export shape.
type NodeEdgeList struct {
	Layer string                `json:"layer"`
	Nodes []*graph.Entity       `json:"nodes"`
	Edges []*graph.Relationship `json:"edges"`
	Links []*graph.Link         `json:"links,omitempty"`
}

// Exporter reads a layer's graph and links for stats and serialization.
type Exporter struct {
	graphs   store.GraphStore
	links    store.LinkStore
	registry *layer.Registry
}

// NewExporter creates an Exporter. A nil link store omits link counts and
// link sections.
func NewExporter(graphs store.GraphStore, links store.LinkStore, registry *layer.Registry) *Exporter {
	return &Exporter{graphs: graphs, links: links, registry: registry}
}

// Stats returns the layer's counts. Operates on registered layers regardless
// of readiness so operators can inspect closed layers.
func (x *Exporter) Stats(ctx context.Context, layerName string) (*Stats, error) {
	l, err := x.registry.Get(layerName)
	if err != nil {
		return nil, err
	}
	l.RLock()
	defer l.RUnlock()

	entities, err := x.graphs.Entities(ctx, l.Namespace)
	if err != nil {
		return nil, err
	}
	rels, err := x.graphs.Relationships(ctx, l.Namespace)
	if err != nil {
		return nil, err
	}

	s := &Stats{
		Layer:             l.Name,
		EntityCount:       len(entities),
		RelationshipCount: len(rels),
		EntityTypes:       make(map[string]int),
	}
	for _, e := range entities {
		s.EntityTypes[e.Type]++
	}
	if x.links != nil {
		s.LinkCount, err = x.links.CountLayerLinks(ctx, l.Name)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Export serializes the layer's graph in the given format.
func (x *Exporter) Export(ctx context.Context, layerName string, format Format) ([]byte, error) {
	l, err := x.registry.Get(layerName)
	if err != nil {
		return nil, err
	}
	l.RLock()
	defer l.RUnlock()

	entities, err := x.graphs.Entities(ctx, l.Namespace)
	if err != nil {
		return nil, err
	}
	rels, err := x.graphs.Relationships(ctx, l.Namespace)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatNodeEdgeList:
		links, err := x.layerLinks(ctx, l.Name)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(&NodeEdgeList{
			Layer: l.Name,
			Nodes: entities,
			Edges: rels,
			Links: links,
		}, "", "  ")
	case FormatCSV:
		return renderCSV(entities, rels)
	case FormatMermaid:
		return renderMermaid(l.Name, entities, rels), nil
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", graph.ErrValidation, format)
	}
}

// layerLinks gathers the links touching the layer in either direction,
// ordered by key for stable output.
func (x *Exporter) layerLinks(ctx context.Context, layerName string) ([]*graph.Link, error) {
	if x.links == nil {
		return nil, nil
	}
	seen := make(map[string]bool)
	var out []*graph.Link
	for _, other := range x.registry.List() {
		if other.Name == layerName {
			continue
		}
		for _, pair := range [][2]string{{layerName, other.Name}, {other.Name, layerName}} {
			links, err := x.links.LinksBetween(ctx, pair[0], pair[1])
			if err != nil {
				return nil, err
			}
			for _, lk := range links {
				if !seen[lk.Key()] {
					seen[lk.Key()] = true
					out = append(out, lk)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// renderCSV writes a nodes table and an edges table separated by one blank
// line.
func renderCSV(entities []*graph.Entity, rels []*graph.Relationship) ([]byte, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	if err := w.Write([]string{"id", "name", "type", "description", "source_refs"}); err != nil {
		return nil, err
	}
	for _, e := range entities {
		rec := []string{e.ID, e.Name, e.Type, e.Description, strings.Join(e.SourceRefs, ";")}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	b.WriteString("\n")
	w = csv.NewWriter(&b)
	if err := w.Write([]string{"source", "target", "type", "strength", "description"}); err != nil {
		return nil, err
	}
	for _, r := range rels {
		rec := []string{r.Source, r.Target, r.Type, strconv.Itoa(int(r.Strength)), r.Description}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// renderMermaid emits a flowchart: one node per entity, one labeled arrow per
// relationship.
func renderMermaid(layerName string, entities []*graph.Entity, rels []*graph.Relationship) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "graph TD\n")
	fmt.Fprintf(&b, "  %%%% layer: %s\n", layerName)
	for _, e := range entities {
		fmt.Fprintf(&b, "  %s[\"%s\"]\n", mermaidID(e.ID), mermaidLabel(e.Name))
	}
	for _, r := range rels {
		fmt.Fprintf(&b, "  %s -->|%s| %s\n", mermaidID(r.Source), r.Type, mermaidID(r.Target))
	}
	return []byte(b.String())
}

// mermaidID keeps node identifiers to characters Mermaid accepts unquoted.
func mermaidID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

func mermaidLabel(name string) string {
	return strings.ReplaceAll(name, `"`, "'")
}
