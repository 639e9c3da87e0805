package compiler

import (
	"tdbcore/internal/core"
	"tdbcore/internal/ir"
	"tdbcore/internal/tdberrors"
)

// RequireExplicitKeyFunc resolves the question of deriving a live query's
// key when Select renames or drops the source's key field: if
// the query projects (Select is non-empty, i.e. not a bare `select *`) and
// no field maps straight through from sourceKeyField under the same name,
// the ambiguity can only be resolved by an explicit getKey, so construction
// fails fast with a ContractViolation rather than silently keying on
// whatever alias-derived tuple happens to fall out of the compiled output.
func RequireExplicitKeyFunc(q *ir.Query, sourceKeyField string, explicitKeyFn core.KeyFunc) error {
	if explicitKeyFn != nil {
		return nil
	}
	if len(q.Select) == 0 {
		// No projection: the source's own row (and its key field) passes
		// through untouched.
		return nil
	}
	field, ok := q.Select[sourceKeyField]
	if ok && field.Aggregate == nil && field.Nested == nil {
		if ref, isRef := field.Expr.(ir.PropRef); isRef && propRefNamesKey(ref, sourceKeyField) {
			return nil
		}
	}
	return &tdberrors.ContractViolation{
		Component: "compiler",
		Detail:    "live query Select does not pass the source key field " + sourceKeyField + " through unchanged; an explicit getKey is required",
	}
}

func propRefNamesKey(ref ir.PropRef, sourceKeyField string) bool {
	if len(ref.Path) == 0 {
		return false
	}
	return string(ref.Path[len(ref.Path)-1]) == sourceKeyField
}
