package layer

import (
	"context"
	"errors"
	"testing"

	"github.com/trinity-ai/trinity/store/memstore"
)

func TestRegisterDuplicateName(t *testing.T) {
	r := NewRegistry(nil)

	if _, err := r.Register(Config{Name: "patient", Priority: 1}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	_, err := r.Register(Config{Name: "patient", Priority: 2, Namespace: "other"})
	if !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for duplicate name, got %v", err)
	}
}

func TestRegisterNamespaceCollision(t *testing.T) {
	r := NewRegistry(nil)

	if _, err := r.Register(Config{Name: "patient", Priority: 1, Namespace: "shared"}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	_, err := r.Register(Config{Name: "literature", Priority: 2, Namespace: "shared"})
	if !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for namespace collision, got %v", err)
	}
}

func TestGetUnknownLayer(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Get("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrdersByPriority(t *testing.T) {
	// Register out of order; List must sort by priority ascending regardless.
	r := NewRegistry(nil)
	for _, cfg := range []Config{
		{Name: "dictionary", Priority: 3},
		{Name: "patient", Priority: 1},
		{Name: "literature", Priority: 2},
	} {
		if _, err := r.Register(cfg); err != nil {
			t.Fatalf("register %s: %v", cfg.Name, err)
		}
	}

	got := r.List()
	want := []string{"patient", "literature", "dictionary"}
	if len(got) != len(want) {
		t.Fatalf("expected %d layers, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, got[i].Name)
		}
	}
}

func TestListBreaksPriorityTiesByName(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha"} {
		if _, err := r.Register(Config{Name: name, Priority: 1}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	got := r.List()
	if got[0].Name != "alpha" || got[1].Name != "zeta" {
		t.Errorf("expected name-ordered tie break, got %s, %s", got[0].Name, got[1].Name)
	}
}

func TestLifecycleIdempotence(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(memstore.NewVectorStore())

	l, err := r.Register(Config{Name: "patient", Priority: 1})
	if err != nil {
		t.Fatal(err)
	}
	if l.Status() != StatusUninitialized {
		t.Errorf("expected uninitialized, got %s", l.Status())
	}

	// Closing a not-ready layer is a no-op.
	if err := r.Close("patient"); err != nil {
		t.Errorf("close before init: %v", err)
	}
	if l.Status() != StatusUninitialized {
		t.Errorf("close of not-ready layer changed status to %s", l.Status())
	}

	if err := r.Initialize(ctx, "patient"); err != nil {
		t.Fatal(err)
	}
	if l.Status() != StatusReady {
		t.Errorf("expected ready, got %s", l.Status())
	}

	// Initializing an already-ready layer is a no-op.
	if err := r.Initialize(ctx, "patient"); err != nil {
		t.Errorf("second initialize: %v", err)
	}

	if err := r.Close("patient"); err != nil {
		t.Fatal(err)
	}
	if l.Status() != StatusClosed {
		t.Errorf("expected closed, got %s", l.Status())
	}
}

func TestInitializeDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	vectors := memstore.NewVectorStore()
	if err := vectors.Insert(ctx, "patient", "e1", []float64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(vectors, WithEmbeddingDim(4))
	if _, err := r.Register(Config{Name: "patient", Priority: 1}); err != nil {
		t.Fatal(err)
	}

	err := r.Initialize(ctx, "patient")
	if !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for dimension mismatch, got %v", err)
	}
}

func TestReadyGating(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	if _, err := r.Register(Config{Name: "patient", Priority: 1}); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Ready("patient"); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady before initialize, got %v", err)
	}
	if _, err := r.Ready("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown layer, got %v", err)
	}

	if err := r.Initialize(ctx, "patient"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Ready("patient"); err != nil {
		t.Errorf("expected ready layer, got %v", err)
	}
}

func TestParseConfigs(t *testing.T) {
	data := []byte(`
layers:
  - name: patient
    priority: 1
  - name: dictionary
    priority: 3
    namespace: dict-v2
`)
	configs, err := ParseConfigs(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(configs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs))
	}
	if configs[0].Namespace != "patient" {
		t.Errorf("expected namespace default to name, got %q", configs[0].Namespace)
	}
	if configs[1].Namespace != "dict-v2" {
		t.Errorf("expected explicit namespace, got %q", configs[1].Namespace)
	}
}

func TestParseConfigsRejectsDuplicates(t *testing.T) {
	data := []byte(`
layers:
  - name: patient
    priority: 1
  - name: patient
    priority: 2
`)
	if _, err := ParseConfigs(data); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for duplicate names, got %v", err)
	}

	data = []byte(`
layers:
  - name: a
    priority: 1
    namespace: shared
  - name: b
    priority: 2
    namespace: shared
`)
	if _, err := ParseConfigs(data); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for duplicate namespaces, got %v", err)
	}
}
