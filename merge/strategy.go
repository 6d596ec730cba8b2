package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trinity-ai/trinity/graph"
)

// DescriptionStrategy selects how merged entity descriptions combine.
type DescriptionStrategy string

const (
	// DescConcatenate joins all descriptions, dropping duplicate substrings.
	// This is the default.
	DescConcatenate DescriptionStrategy = "concatenate"

	// DescKeepFirst keeps the earliest-created candidate's description.
	DescKeepFirst DescriptionStrategy = "keep_first"

	// DescKeepLatest keeps the most recently updated candidate's description.
	DescKeepLatest DescriptionStrategy = "keep_latest"
)

// TypeStrategy selects how the merged entity type is chosen.
type TypeStrategy string

const (
	// TypeMajorityVote picks the most common type among candidates, ties
	// broken by earliest creation. This is the default.
	TypeMajorityVote TypeStrategy = "majority_vote"

	// TypeKeepFirst keeps the earliest-created candidate's type.
	TypeKeepFirst TypeStrategy = "keep_first"
)

// Strategy configures per-field attribute merging. Source refs always union;
// that is not configurable.
type Strategy struct {
	Description DescriptionStrategy `yaml:"description" json:"description"`
	Type        TypeStrategy        `yaml:"type" json:"type"`
}

// DefaultStrategy concatenates descriptions and majority-votes the type.
func DefaultStrategy() Strategy {
	return Strategy{Description: DescConcatenate, Type: TypeMajorityVote}
}

// fieldMergers is the resolved function table. Strategies are resolved once
// at configuration time, not re-dispatched per merge call. Candidates arrive
// ordered by (CreatedAt, ID) ascending.
type fieldMergers struct {
	description func(ordered []*graph.Entity) string
	entityType  func(ordered []*graph.Entity) string
}

// resolve turns the declarative strategy into a function table. Unknown
// strategy names fail here, at configuration time.
func (s Strategy) resolve() (*fieldMergers, error) {
	m := &fieldMergers{}

	switch s.Description {
	case DescConcatenate, "":
		m.description = concatDescriptions
	case DescKeepFirst:
		m.description = func(ordered []*graph.Entity) string { return ordered[0].Description }
	case DescKeepLatest:
		m.description = func(ordered []*graph.Entity) string {
			latest := ordered[0]
			for _, e := range ordered[1:] {
				if e.UpdatedAt.After(latest.UpdatedAt) {
					latest = e
				}
			}
			return latest.Description
		}
	default:
		return nil, fmt.Errorf("%w: unknown description strategy %q", graph.ErrValidation, s.Description)
	}

	switch s.Type {
	case TypeMajorityVote, "":
		m.entityType = majorityType
	case TypeKeepFirst:
		m.entityType = func(ordered []*graph.Entity) string { return ordered[0].Type }
	default:
		return nil, fmt.Errorf("%w: unknown type strategy %q", graph.ErrValidation, s.Type)
	}

	return m, nil
}

// concatDescriptions joins candidate descriptions in creation order, skipping
// any description already contained in an earlier one.
func concatDescriptions(ordered []*graph.Entity) string {
	var parts []string
	for _, e := range ordered {
		desc := strings.TrimSpace(e.Description)
		if desc == "" {
			continue
		}
		dup := false
		for _, p := range parts {
			if strings.Contains(p, desc) {
				dup = true
				break
			}
		}
		if !dup {
			parts = append(parts, desc)
		}
	}
	return strings.Join(parts, " ")
}

// majorityType returns the most frequent candidate type; ties go to the type
// seen earliest in creation order.
func majorityType(ordered []*graph.Entity) string {
	counts := make(map[string]int, len(ordered))
	firstSeen := make(map[string]int, len(ordered))
	for i, e := range ordered {
		counts[e.Type]++
		if _, ok := firstSeen[e.Type]; !ok {
			firstSeen[e.Type] = i
		}
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return firstSeen[types[i]] < firstSeen[types[j]]
	})
	return types[0]
}

// unionRefs merges the provenance references of all candidates.
func unionRefs(ordered []*graph.Entity) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range ordered {
		for _, ref := range e.SourceRefs {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	sort.Strings(out)
	return out
}
