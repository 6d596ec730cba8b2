package layer

import (
	"fmt"
	"sync"
)

// Status tracks a layer's lifecycle: created → initialized (ready) → closed.
type Status int

const (
	// StatusUninitialized is the state after registration, before Initialize.
	StatusUninitialized Status = iota

	// StatusReady means the layer's store handles are open and the layer
	// accepts operations.
	StatusReady

	// StatusClosed means the layer's handles were released. A closed layer
	// can be re-initialized.
	StatusClosed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusReady:
		return "ready"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Config describes one layer of the knowledge hierarchy.
type Config struct {
	// Name uniquely identifies the layer (e.g., "patient", "literature",
	// "dictionary").
	Name string `yaml:"name" json:"name"`

	// Priority orders layers for precedence; lower value = higher
	// precedence in cross-layer ranking and fallback queries.
	Priority int `yaml:"priority" json:"priority"`

	// Namespace is the isolation key into the graph and vector stores.
	// Defaults to the layer name. Namespaces never overlap across layers.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// Description is optional operator documentation.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Validate checks the config and applies the namespace default.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: layer name is required", ErrConfig)
	}
	if c.Namespace == "" {
		c.Namespace = c.Name
	}
	return nil
}

// Layer is a registered layer with its runtime status and the per-layer
// advisory lock that serializes mutating operations (merges, inserts) against
// retrievals within the same layer. Operations on different layers never
// contend.
type Layer struct {
	// Name uniquely identifies the layer.
	Name string

	// Priority orders layers; lower value = higher precedence.
	Priority int

	// Namespace is the isolation key into the backing stores.
	Namespace string

	mu     sync.RWMutex
	status Status
	sm     sync.RWMutex
}

// Status returns the layer's current lifecycle status.
func (l *Layer) Status() Status {
	l.sm.RLock()
	defer l.sm.RUnlock()
	return l.status
}

func (l *Layer) setStatus(s Status) {
	l.sm.Lock()
	defer l.sm.Unlock()
	l.status = s
}

// Lock acquires the write side of the layer's advisory lock. Mutating
// operations (merges, inserts, clears) hold it exclusively.
func (l *Layer) Lock() { l.mu.Lock() }

// Unlock releases the write side of the advisory lock.
func (l *Layer) Unlock() { l.mu.Unlock() }

// RLock acquires the read side of the advisory lock. Retrieval and export
// paths hold it so they never observe a half-merged entity set.
func (l *Layer) RLock() { l.mu.RLock() }

// RUnlock releases the read side of the advisory lock.
func (l *Layer) RUnlock() { l.mu.RUnlock() }

// SummaryNamespace returns the namespace of the layer's coarse summary
// vector index, searched by global-mode retrieval.
func (l *Layer) SummaryNamespace() string {
	return l.Namespace + "#summary"
}
