package graph

import "strings"

// Closed set of relation types produced by InferType.
const (
	RelTreats     = "TREATS"
	RelCauses     = "CAUSES"
	RelHasSymptom = "HAS_SYMPTOM"
	RelIndicates  = "INDICATES"
	RelRelatedTo  = "RELATED_TO"
)

// typeKeywords maps relation types to the description keywords that select
// them. Order matters: earlier entries win when a description matches more
// than one type.
var typeKeywords = []struct {
	relType  string
	keywords []string
}{
	{RelTreats, []string{"treat", "therapy", "cure", "relieve", "alleviate", "manage"}},
	{RelCauses, []string{"cause", "lead to", "leads to", "result in", "results in", "induce", "trigger"}},
	{RelHasSymptom, []string{"symptom", "present with", "presents with", "manifest", "characterized by"}},
	{RelIndicates, []string{"indicate", "suggest", "sign of", "marker", "diagnostic"}},
}

// InferType classifies a free-text relation description into the closed
// relation-type set. RelRelatedTo is the fallback; a relationship is never
// left untyped.
func InferType(description string) string {
	desc := strings.ToLower(description)
	for _, tk := range typeKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(desc, kw) {
				return tk.relType
			}
		}
	}
	return RelRelatedTo
}

// AllRelationTypes returns the closed relation-type vocabulary in stable
// order.
func AllRelationTypes() []string {
	return []string{RelTreats, RelCauses, RelHasSymptom, RelIndicates, RelRelatedTo}
}
