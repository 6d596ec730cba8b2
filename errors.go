package trinity

import (
	"github.com/trinity-ai/trinity/graph"
	"github.com/trinity-ai/trinity/layer"
	"github.com/trinity-ai/trinity/llm"
	"github.com/trinity-ai/trinity/store"
)

// Re-exported sentinel errors so callers can match the full taxonomy with
// errors.Is without importing every subpackage.
var (
	// ErrValidation indicates malformed input: empty candidate sets, bad
	// entity fields, unknown modes or formats.
	ErrValidation = graph.ErrValidation

	// ErrEntityNotFound indicates a referenced entity does not exist.
	ErrEntityNotFound = graph.ErrEntityNotFound

	// ErrConfig indicates bad layer configuration. Fatal at setup.
	ErrConfig = layer.ErrConfig

	// ErrLayerNotFound indicates the named layer is not registered.
	ErrLayerNotFound = layer.ErrNotFound

	// ErrLayerNotReady indicates the layer has not been initialized or was
	// closed.
	ErrLayerNotReady = layer.ErrNotReady

	// ErrStorage indicates a backend operation failed permanently.
	ErrStorage = store.ErrStorage

	// ErrTimeout indicates an external collaborator call exceeded its
	// deadline.
	ErrTimeout = llm.ErrTimeout
)
