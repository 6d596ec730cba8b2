package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Description length bounds enforced by Entity.Validate.
const (
	MinDescriptionLen = 10
	MaxDescriptionLen = 500
)

// Entity represents a single concept stored in one layer of the knowledge
// graph. The ID is unique within the layer's namespace and stable across
// merges; the Layer never changes after creation. Entities are cross-linked
// between layers, never migrated.
type Entity struct {
	// ID is the unique entity identifier within the layer namespace.
	// Auto-generated if empty.
	ID string `json:"id"`

	// Name is the surface form of the concept (e.g., "hypertension").
	Name string `json:"name"`

	// Type is the entity type from the deployment's open vocabulary
	// (e.g., "disease", "drug", "symptom").
	Type string `json:"type"`

	// Description is free text between MinDescriptionLen and
	// MaxDescriptionLen characters, used for embedding generation.
	Description string `json:"description"`

	// Layer names the layer this entity belongs to. Immutable after creation.
	Layer string `json:"layer"`

	// Embedding is the entity's vector representation. All entities in a
	// deployment share one fixed dimensionality.
	Embedding []float64 `json:"embedding,omitempty"`

	// SourceRefs records the provenance references that contributed this
	// entity. Kept sorted and deduplicated; merges union them.
	SourceRefs []string `json:"source_refs,omitempty"`

	// CreatedAt is the timestamp when the entity was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the timestamp when the entity was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates a new Entity with the given name and type, a generated
// ID, and timestamps set to the current time.
func NewEntity(name, entityType string) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      entityType,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithID sets the entity ID and returns the entity for method chaining.
func (e *Entity) WithID(id string) *Entity {
	e.ID = id
	return e
}

// WithDescription sets the description and returns the entity for chaining.
func (e *Entity) WithDescription(desc string) *Entity {
	e.Description = desc
	return e
}

// WithLayer sets the owning layer and returns the entity for chaining.
func (e *Entity) WithLayer(layer string) *Entity {
	e.Layer = layer
	return e
}

// WithEmbedding sets the embedding vector and returns the entity for chaining.
func (e *Entity) WithEmbedding(vec []float64) *Entity {
	e.Embedding = vec
	return e
}

// WithSourceRefs replaces the provenance references, deduplicated and sorted,
// and returns the entity for chaining.
func (e *Entity) WithSourceRefs(refs ...string) *Entity {
	e.SourceRefs = nil
	for _, r := range refs {
		e.AddSourceRef(r)
	}
	return e
}

// AddSourceRef adds a single provenance reference if not already present,
// keeping SourceRefs sorted.
func (e *Entity) AddSourceRef(ref string) *Entity {
	if ref == "" {
		return e
	}
	i := sort.SearchStrings(e.SourceRefs, ref)
	if i < len(e.SourceRefs) && e.SourceRefs[i] == ref {
		return e
	}
	e.SourceRefs = append(e.SourceRefs, "")
	copy(e.SourceRefs[i+1:], e.SourceRefs[i:])
	e.SourceRefs[i] = ref
	return e
}

// Validate checks that the entity has all required fields set correctly.
// The description must be within [MinDescriptionLen, MaxDescriptionLen].
func (e *Entity) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: entity name is required", ErrValidation)
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("%w: entity type is required", ErrValidation)
	}
	if e.Layer == "" {
		return fmt.Errorf("%w: entity layer is required", ErrValidation)
	}
	if n := len(e.Description); n < MinDescriptionLen || n > MaxDescriptionLen {
		return fmt.Errorf("%w: description length %d outside [%d, %d]",
			ErrValidation, n, MinDescriptionLen, MaxDescriptionLen)
	}
	return nil
}

// Clone returns a deep copy of the entity. Embedding and SourceRefs slices
// are copied so callers may mutate the clone freely.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Embedding != nil {
		c.Embedding = append([]float64(nil), e.Embedding...)
	}
	if e.SourceRefs != nil {
		c.SourceRefs = append([]string(nil), e.SourceRefs...)
	}
	return &c
}
