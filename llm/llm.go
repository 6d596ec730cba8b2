// Package llm declares the external collaborator interfaces the core
// consumes: entity/relationship extraction, embedding, answer generation,
// relevance grading, and query rewriting. None of these are implemented
// here; the core orchestrates them through narrow interfaces and wraps
// every call with a caller-supplied timeout.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout indicates an external collaborator call exceeded its deadline.
// Inside the retrieval state machine this is treated as a retryable grading
// failure, not a hard error.
var ErrTimeout = errors.New("llm: collaborator call timed out")

// ExtractedEntity is an entity candidate returned by the extraction service.
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ExtractedRelationship is a relationship candidate returned by the
// extraction service. Endpoints are referenced by entity name; the core
// resolves them to IDs at insert time.
type ExtractedRelationship struct {
	SourceName   string `json:"source_name"`
	TargetName   string `json:"target_name"`
	Description  string `json:"description"`
	StrengthHint string `json:"strength_hint,omitempty"`
}

// Extraction bundles the candidates extracted from one text.
type Extraction struct {
	Entities      []ExtractedEntity      `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// Extractor turns raw domain text into structured entity and relationship
// candidates.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Extraction, error)
}

// Embedder maps text to a fixed-length vector. Dimensionality is constant
// across all layers in one deployment.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Generator produces a natural-language answer from a question and assembled
// context text. Generation is entirely outside the core.
type Generator interface {
	Generate(ctx context.Context, question, contextText string) (string, error)
}

// Grader scores the relevance of assembled context to a question in [0, 1].
type Grader interface {
	Grade(ctx context.Context, question, contextText string) (float64, error)
}

// Rewriter rewrites a query for the retrieval REFINE step.
type Rewriter interface {
	Rewrite(ctx context.Context, question string) (string, error)
}

// call runs fn under a deadline and converts deadline expiry to ErrTimeout.
// A zero timeout leaves the caller's context untouched.
func call(ctx context.Context, timeout time.Duration, name string, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, name, timeout)
	}
	return err
}

// TimeoutEmbedder wraps an Embedder with a per-call timeout.
type TimeoutEmbedder struct {
	Embedder Embedder
	Timeout  time.Duration
}

func (t TimeoutEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var out []float64
	err := call(ctx, t.Timeout, "embed", func(ctx context.Context) error {
		var err error
		out, err = t.Embedder.Embed(ctx, text)
		return err
	})
	return out, err
}

// TimeoutExtractor wraps an Extractor with a per-call timeout.
type TimeoutExtractor struct {
	Extractor Extractor
	Timeout   time.Duration
}

func (t TimeoutExtractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	var out *Extraction
	err := call(ctx, t.Timeout, "extract", func(ctx context.Context) error {
		var err error
		out, err = t.Extractor.Extract(ctx, text)
		return err
	})
	return out, err
}

// TimeoutGrader wraps a Grader with a per-call timeout.
type TimeoutGrader struct {
	Grader  Grader
	Timeout time.Duration
}

func (t TimeoutGrader) Grade(ctx context.Context, question, contextText string) (float64, error) {
	var out float64
	err := call(ctx, t.Timeout, "grade", func(ctx context.Context) error {
		var err error
		out, err = t.Grader.Grade(ctx, question, contextText)
		return err
	})
	return out, err
}

// TimeoutRewriter wraps a Rewriter with a per-call timeout.
type TimeoutRewriter struct {
	Rewriter Rewriter
	Timeout  time.Duration
}

func (t TimeoutRewriter) Rewrite(ctx context.Context, question string) (string, error) {
	var out string
	err := call(ctx, t.Timeout, "rewrite", func(ctx context.Context) error {
		var err error
		out, err = t.Rewriter.Rewrite(ctx, question)
		return err
	})
	return out, err
}

// TimeoutGenerator wraps a Generator with a per-call timeout.
type TimeoutGenerator struct {
	Generator Generator
	Timeout   time.Duration
}

func (t TimeoutGenerator) Generate(ctx context.Context, question, contextText string) (string, error) {
	var out string
	err := call(ctx, t.Timeout, "generate", func(ctx context.Context) error {
		var err error
		out, err = t.Generator.Generate(ctx, question, contextText)
		return err
	})
	return out, err
}

var (
	_ Embedder  = TimeoutEmbedder{}
	_ Extractor = TimeoutExtractor{}
	_ Grader    = TimeoutGrader{}
	_ Rewriter  = TimeoutRewriter{}
	_ Generator = TimeoutGenerator{}
)
