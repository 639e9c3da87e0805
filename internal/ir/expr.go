package ir

import (
	"tdbcore/internal/core"
	"tdbcore/internal/tdberrors"
)

// Expr is the expression IR: Value(literal), PropRef(path), or Func(name,
// args, factory). Aggregate is deliberately not an Expr: it
// only ever appears as a Select field, never nested inside a Where/Having/
// OrderBy expression, since its result only exists after a reduce.
type Expr interface {
	exprNode()
}

// Evaluator is the per-row function a Func's factory produces at IR-build
// time: the compiler resolves by name at build time, so there is no
// runtime dispatch through a global lookup once the tree is built.
type Evaluator func(row core.Row) any

// Value is a literal.
type Value struct {
	V any
}

func (Value) exprNode() {}

// NewValue wraps a literal as an Expr.
func NewValue(v any) Value { return Value{V: v} }

// PropRef navigates a dotted path, including the `$`-prefixed virtual
// namespace. The first path segment is conventionally a
// source alias for multi-source queries.
type PropRef struct {
	Path core.PropPath
}

func (PropRef) exprNode() {}

// NewPropRef parses a dotted path into a PropRef.
func NewPropRef(path string) PropRef {
	return PropRef{Path: core.SplitPath(path)}
}

// Func is a named function application whose Evaluator was produced by the
// registered factory at construction time.
type Func struct {
	Name string
	Args []Expr
	Eval Evaluator
}

func (*Func) exprNode() {}

// NewFunc builds a Func by resolving name against the registry. An unknown
// name is refused at build time, surfaced as a ContractViolation rather
// than deferred to evaluation time.
func NewFunc(name string, args ...Expr) (*Func, error) {
	factory, ok := lookupFunc(name)
	if !ok {
		return nil, &tdberrors.ContractViolation{
			Component: "ir",
			Detail:    "unknown function " + name,
		}
	}
	return &Func{Name: name, Args: args, Eval: factory(args)}, nil
}

// Evaluate runs e against row. Value/PropRef/Func are the only Expr kinds
// that evaluate per row; Aggregate results are computed by the compiler's
// reduce stage and then read back as an ordinary PropRef on the grouped
// output row.
func Evaluate(e Expr, row core.Row) any {
	switch v := e.(type) {
	case Value:
		return v.V
	case PropRef:
		val, ok := row.Get(v.Path)
		if !ok {
			return nil
		}
		return val
	case *Func:
		return v.Eval(row)
	default:
		return nil
	}
}

// EvaluateTri evaluates e and folds the result through ToTri, the form
// Where/Having filter chains consume.
func EvaluateTri(e Expr, row core.Row) Tri {
	return ToTri(Evaluate(e, row))
}
