package retrieve

import (
	"fmt"

	"github.com/trinity-ai/trinity/graph"
)

// Mode names a traversal strategy: how much graph structure versus raw vector
// similarity a query uses.
type Mode string

const (
	// ModeLocal retrieves the queried entity's direct neighborhood plus its
	// nearest vector matches. Fast and precise, for entity-specific questions.
	ModeLocal Mode = "local"

	// ModeGlobal searches each layer's coarse summary index, for survey-style
	// questions.
	ModeGlobal Mode = "global"

	// ModeHybrid runs local and global concurrently per layer and merges. The
	// default for broad queries.
	ModeHybrid Mode = "hybrid"

	// ModeNaive is vector search only, ignoring graph structure. Also the
	// automatic fallback when structured retrieval yields nothing.
	ModeNaive Mode = "naive"

	// ModeBypass skips retrieval entirely. Used only on explicit request.
	ModeBypass Mode = "bypass"

	// ModeAuto lets query analysis pick local or hybrid.
	ModeAuto Mode = ""
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocal, ModeGlobal, ModeHybrid, ModeNaive, ModeBypass, ModeAuto:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown retrieval mode %q", graph.ErrValidation, s)
	}
}

// CombineMode selects how multi-layer results combine.
type CombineMode string

const (
	// CombineMerge unions all layer results, each tagged with its source
	// layer, then ranks globally. The default.
	CombineMerge CombineMode = "merge"

	// CombinePriority queries layers in priority order and stops at the first
	// layer producing a non-empty result. For authority fallback chains.
	CombinePriority CombineMode = "priority"
)

// state is one step of the per-query state machine. Queries run the machine
// as an explicit loop with a retrieval counter; there is no recursion, so the
// retry budget is structural.
type state int

const (
	stateAnalyze state = iota
	stateRoute
	stateRetrieve
	stateGrade
	stateRefine
	stateGenerate
	stateDone
)

func (s state) String() string {
	switch s {
	case stateAnalyze:
		return "ANALYZE"
	case stateRoute:
		return "ROUTE"
	case stateRetrieve:
		return "RETRIEVE"
	case stateGrade:
		return "GRADE"
	case stateRefine:
		return "REFINE"
	case stateGenerate:
		return "GENERATE"
	case stateDone:
		return "DONE"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
