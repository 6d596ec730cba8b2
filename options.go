package trinity

import (
	"log/slog"
	"time"

	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/llm"
	"github.com/trinity-ai/trinity/merge"
	"github.com/trinity-ai/trinity/store"
)

// clientConfig holds configuration collected from Options before the client
// is built.
type clientConfig struct {
	graphs  store.GraphStore
	vectors store.VectorStore
	links   store.LinkStore

	layerConfigs    []layer.Config
	layerConfigPath string
	embeddingDim    int

	extractor llm.Extractor
	embedder  llm.Embedder
	grader    llm.Grader
	rewriter  llm.Rewriter

	strategy    merge.Strategy
	callTimeout time.Duration
	retryPolicy *store.RetryPolicy
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

// WithGraphStore sets the property-graph backend. Defaults to the in-memory
// store.
func WithGraphStore(s store.GraphStore) Option {
	return func(c *clientConfig) { c.graphs = s }
}

// WithVectorStore sets the vector-similarity backend. Defaults to the
// in-memory store.
func WithVectorStore(s store.VectorStore) Option {
	return func(c *clientConfig) { c.vectors = s }
}

// WithLinkStore sets the cross-layer link backend. Defaults to the in-memory
// store.
func WithLinkStore(s store.LinkStore) Option {
	return func(c *clientConfig) { c.links = s }
}

// WithLayers registers layers at construction.
func WithLayers(configs ...layer.Config) Option {
	return func(c *clientConfig) { c.layerConfigs = append(c.layerConfigs, configs...) }
}

// WithLayerConfigFile loads layer configs from a YAML file at construction.
func WithLayerConfigFile(path string) Option {
	return func(c *clientConfig) { c.layerConfigPath = path }
}

// WithEmbeddingDim fixes the deployment's embedding dimensionality; layer
// initialization fails on a mismatch.
func WithEmbeddingDim(dim int) Option {
	return func(c *clientConfig) { c.embeddingDim = dim }
}

// WithExtractor sets the external extraction service used by InsertText.
func WithExtractor(e llm.Extractor) Option {
	return func(c *clientConfig) { c.extractor = e }
}

// WithEmbedder sets the external embedding function. Required for inserting
// embeddings, linking and querying.
func WithEmbedder(e llm.Embedder) Option {
	return func(c *clientConfig) { c.embedder = e }
}

// WithGrader sets the external relevance grader driving query refinement.
func WithGrader(g llm.Grader) Option {
	return func(c *clientConfig) { c.grader = g }
}

// WithRewriter sets the external query rewriter used by refinement.
func WithRewriter(w llm.Rewriter) Option {
	return func(c *clientConfig) { c.rewriter = w }
}

// WithMergeStrategy sets the attribute-merge strategy. Defaults to
// concatenated descriptions and majority-vote types.
func WithMergeStrategy(s merge.Strategy) Option {
	return func(c *clientConfig) { c.strategy = s }
}

// WithCollaboratorTimeout wraps every external collaborator call (extract,
// embed, grade, rewrite) with the given timeout. Zero disables wrapping.
func WithCollaboratorTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.callTimeout = d }
}

// WithRetryPolicy wraps the graph and vector stores with transient-failure
// retries under the given policy.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(c *clientConfig) { c.retryPolicy = &p }
}

// WithLogger sets the structured logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = logger }
}
