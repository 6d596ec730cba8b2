package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trinity-ai/trinity/graph"
)

// RetryPolicy bounds the exponential backoff applied to transient store
// failures at the adapter boundary. Business logic above the adapters never
// retries storage itself.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries transient failures three times with 50ms base
// backoff capped at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

// do runs op, retrying on ErrTransient per the policy. A transient failure
// that survives the last attempt surfaces wrapped in ErrStorage so callers
// abort cleanly. Non-transient errors pass through untouched.
func (p RetryPolicy) do(ctx context.Context, logger *slog.Logger, name string, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, ErrTransient) {
			return err
		}
		if attempt == attempts {
			break
		}
		logger.Warn("transient store failure, retrying",
			"op", name, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return fmt.Errorf("%w: %s exhausted %d attempts: %v", ErrStorage, name, attempts, err)
}

// RetryingGraphStore wraps a GraphStore with the retry policy.
type RetryingGraphStore struct {
	inner  GraphStore
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetryingGraphStore wraps inner so that transient failures are retried
// per policy. A nil logger falls back to slog.Default().
func NewRetryingGraphStore(inner GraphStore, policy RetryPolicy, logger *slog.Logger) *RetryingGraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingGraphStore{inner: inner, policy: policy, logger: logger}
}

func (s *RetryingGraphStore) UpsertEntity(ctx context.Context, ns string, e *graph.Entity) error {
	return s.policy.do(ctx, s.logger, "UpsertEntity", func() error {
		return s.inner.UpsertEntity(ctx, ns, e)
	})
}

func (s *RetryingGraphStore) UpsertRelationship(ctx context.Context, ns string, r *graph.Relationship) error {
	return s.policy.do(ctx, s.logger, "UpsertRelationship", func() error {
		return s.inner.UpsertRelationship(ctx, ns, r)
	})
}

func (s *RetryingGraphStore) GetEntity(ctx context.Context, ns, id string) (*graph.Entity, error) {
	var out *graph.Entity
	err := s.policy.do(ctx, s.logger, "GetEntity", func() error {
		var err error
		out, err = s.inner.GetEntity(ctx, ns, id)
		return err
	})
	return out, err
}

func (s *RetryingGraphStore) Neighbors(ctx context.Context, ns, id string, depth int) ([]*graph.Entity, []*graph.Relationship, error) {
	var ents []*graph.Entity
	var rels []*graph.Relationship
	err := s.policy.do(ctx, s.logger, "Neighbors", func() error {
		var err error
		ents, rels, err = s.inner.Neighbors(ctx, ns, id, depth)
		return err
	})
	return ents, rels, err
}

func (s *RetryingGraphStore) DeleteEntity(ctx context.Context, ns, id string) error {
	return s.policy.do(ctx, s.logger, "DeleteEntity", func() error {
		return s.inner.DeleteEntity(ctx, ns, id)
	})
}

func (s *RetryingGraphStore) DeleteRelationship(ctx context.Context, ns, source, target, relType string) error {
	return s.policy.do(ctx, s.logger, "DeleteRelationship", func() error {
		return s.inner.DeleteRelationship(ctx, ns, source, target, relType)
	})
}

func (s *RetryingGraphStore) BatchUpsert(ctx context.Context, ns string, entities []*graph.Entity, rels []*graph.Relationship) error {
	return s.policy.do(ctx, s.logger, "BatchUpsert", func() error {
		return s.inner.BatchUpsert(ctx, ns, entities, rels)
	})
}

func (s *RetryingGraphStore) Entities(ctx context.Context, ns string) ([]*graph.Entity, error) {
	var out []*graph.Entity
	err := s.policy.do(ctx, s.logger, "Entities", func() error {
		var err error
		out, err = s.inner.Entities(ctx, ns)
		return err
	})
	return out, err
}

func (s *RetryingGraphStore) Relationships(ctx context.Context, ns string) ([]*graph.Relationship, error) {
	var out []*graph.Relationship
	err := s.policy.do(ctx, s.logger, "Relationships", func() error {
		var err error
		out, err = s.inner.Relationships(ctx, ns)
		return err
	})
	return out, err
}

func (s *RetryingGraphStore) Clear(ctx context.Context, ns string) error {
	return s.policy.do(ctx, s.logger, "Clear", func() error {
		return s.inner.Clear(ctx, ns)
	})
}

// RetryingVectorStore wraps a VectorStore with the retry policy.
type RetryingVectorStore struct {
	inner  VectorStore
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetryingVectorStore wraps inner so that transient failures are retried
// per policy. A nil logger falls back to slog.Default().
func NewRetryingVectorStore(inner VectorStore, policy RetryPolicy, logger *slog.Logger) *RetryingVectorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingVectorStore{inner: inner, policy: policy, logger: logger}
}

func (s *RetryingVectorStore) Insert(ctx context.Context, ns, id string, vec []float64) error {
	return s.policy.do(ctx, s.logger, "Insert", func() error {
		return s.inner.Insert(ctx, ns, id, vec)
	})
}

func (s *RetryingVectorStore) Search(ctx context.Context, ns string, vec []float64, topK int) ([]Match, error) {
	var out []Match
	err := s.policy.do(ctx, s.logger, "Search", func() error {
		var err error
		out, err = s.inner.Search(ctx, ns, vec, topK)
		return err
	})
	return out, err
}

func (s *RetryingVectorStore) Delete(ctx context.Context, ns string, ids ...string) error {
	return s.policy.do(ctx, s.logger, "Delete", func() error {
		return s.inner.Delete(ctx, ns, ids...)
	})
}

func (s *RetryingVectorStore) Clear(ctx context.Context, ns string) error {
	return s.policy.do(ctx, s.logger, "Clear", func() error {
		return s.inner.Clear(ctx, ns)
	})
}

func (s *RetryingVectorStore) Dim(ctx context.Context, ns string) (int, error) {
	var out int
	err := s.policy.do(ctx, s.logger, "Dim", func() error {
		var err error
		out, err = s.inner.Dim(ctx, ns)
		return err
	})
	return out, err
}

var (
	_ GraphStore  = (*RetryingGraphStore)(nil)
	_ VectorStore = (*RetryingVectorStore)(nil)
)
