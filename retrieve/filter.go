package retrieve

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/trinity-ai/trinity/graph"
)

// resultFilter is a compiled CEL predicate over retrieved entities. The
// expression sees name, type, layer, description and score and must evaluate
// to a bool. Compiled once at ROUTE; evaluation errors exclude the entity.
type resultFilter struct {
	program cel.Program
}

// compileFilter builds the CEL environment and compiles the expression.
// Compilation failures are validation errors: the caller's filter is wrong,
// not the store.
func compileFilter(expr string) (*resultFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("layer", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("filter environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", graph.ErrValidation, expr, iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: filter %q must evaluate to bool, got %s",
			graph.ErrValidation, expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", graph.ErrValidation, expr, err)
	}
	return &resultFilter{program: program}, nil
}

// keep reports whether the entity passes the filter.
func (f *resultFilter) keep(se *ScoredEntity) bool {
	out, _, err := f.program.Eval(map[string]any{
		"name":        se.Entity.Name,
		"type":        se.Entity.Type,
		"layer":       se.Layer,
		"description": se.Entity.Description,
		"score":       se.Score,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
