package layer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/trinity-ai/trinity/store"
)

// Sentinel errors for layer registry operations.
var (
	// ErrConfig indicates bad layer configuration: duplicate name, colliding
	// namespace, or an embedding dimension mismatch at initialization.
	// Fatal at setup; never retried.
	ErrConfig = errors.New("layer: invalid configuration")

	// ErrNotFound indicates the named layer is not registered.
	ErrNotFound = errors.New("layer: not found")

	// ErrNotReady indicates an operation was attempted against a layer that
	// has not been initialized or was closed.
	ErrNotReady = errors.New("layer: not ready")
)

// Registry owns the set of configured layers. It is an explicit value handed
// to every component that needs layer lookup; there is no ambient global
// registry. Lifecycle per layer: Register → Initialize → use → Close.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	vectors store.VectorStore
	dim     int
	logger  *slog.Logger

	mu     sync.RWMutex
	layers map[string]*Layer
	nsUsed map[string]string // namespace -> layer name
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEmbeddingDim fixes the deployment's embedding dimensionality. When set,
// Initialize fails with ErrConfig if a layer's existing vectors have a
// different dimension.
func WithEmbeddingDim(dim int) RegistryOption {
	return func(r *Registry) { r.dim = dim }
}

// WithLogger sets the registry's structured logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry over the given vector store, which
// Initialize uses for dimension checks. A nil vector store skips those
// checks.
func NewRegistry(vectors store.VectorStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		vectors: vectors,
		logger:  slog.Default(),
		layers:  make(map[string]*Layer),
		nsUsed:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a layer from its config. Fails with ErrConfig if the name is
// already registered or the namespace collides with another layer.
func (r *Registry) Register(cfg Config) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.layers[cfg.Name]; exists {
		return nil, fmt.Errorf("%w: layer %q already registered", ErrConfig, cfg.Name)
	}
	if owner, taken := r.nsUsed[cfg.Namespace]; taken {
		return nil, fmt.Errorf("%w: namespace %q already used by layer %q", ErrConfig, cfg.Namespace, owner)
	}

	l := &Layer{
		Name:      cfg.Name,
		Priority:  cfg.Priority,
		Namespace: cfg.Namespace,
	}
	r.layers[cfg.Name] = l
	r.nsUsed[cfg.Namespace] = cfg.Name
	r.logger.Info("layer registered", "layer", cfg.Name, "priority", cfg.Priority, "namespace", cfg.Namespace)
	return l, nil
}

// Get returns the named layer or ErrNotFound.
func (r *Registry) Get(name string) (*Layer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return l, nil
}

// Ready returns the named layer if it is initialized, ErrNotFound if absent,
// or ErrNotReady otherwise. Layer-scoped operations gate on this.
func (r *Registry) Ready(name string) (*Layer, error) {
	l, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if l.Status() != StatusReady {
		return nil, fmt.Errorf("%w: layer %q is %s", ErrNotReady, name, l.Status())
	}
	return l, nil
}

// Initialize opens the layer for use. Idempotent: initializing an
// already-ready layer is a no-op. Verifies the layer's vector namespace
// matches the deployment embedding dimension when one is configured.
func (r *Registry) Initialize(ctx context.Context, name string) error {
	l, err := r.Get(name)
	if err != nil {
		return err
	}
	if l.Status() == StatusReady {
		return nil
	}

	if r.vectors != nil && r.dim > 0 {
		got, err := r.vectors.Dim(ctx, l.Namespace)
		if err != nil {
			return err
		}
		if got != 0 && got != r.dim {
			return fmt.Errorf("%w: layer %q vectors have dimension %d, deployment uses %d",
				ErrConfig, name, got, r.dim)
		}
	}

	l.setStatus(StatusReady)
	r.logger.Info("layer initialized", "layer", name)
	return nil
}

// Close releases the layer. Idempotent: closing a not-ready layer is a no-op.
func (r *Registry) Close(name string) error {
	l, err := r.Get(name)
	if err != nil {
		return err
	}
	if l.Status() != StatusReady {
		return nil
	}
	l.setStatus(StatusClosed)
	r.logger.Info("layer closed", "layer", name)
	return nil
}

// List returns all registered layers ordered by priority ascending (highest
// precedence first), ties broken by name for determinism. The retriever's
// priority fallback depends on this ordering.
func (r *Registry) List() []*Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Layer, 0, len(r.layers))
	for _, l := range r.layers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}
