package compiler

import (
	"tdbcore/internal/core"
	"tdbcore/internal/ir"
)

// buildLess composes a multi-key less-than comparator from ORDER BY terms,
// evaluated against the compiled query's final output row. Terms are
// applied in order; ties fall through to the next term.
func buildLess(terms []ir.OrderTerm) func(a, b core.Row) bool {
	return func(a, b core.Row) bool {
		for _, t := range terms {
			av := ir.Evaluate(t.Expr, a)
			bv := ir.Evaluate(t.Expr, b)
			c := compareForOrder(av, bv, t.NullsFirst)
			if c == 0 {
				continue
			}
			if t.Desc && av != nil && bv != nil {
				return c > 0
			}
			return c < 0
		}
		return false
	}
}

func compareForOrder(av, bv any, nullsFirst bool) int {
	if av == nil && bv == nil {
		return 0
	}
	if av == nil {
		if nullsFirst {
			return -1
		}
		return 1
	}
	if bv == nil {
		if nullsFirst {
			return 1
		}
		return -1
	}
	if c, comparable := ir.CompareValues(av, bv); comparable {
		return c
	}
	return 0
}
