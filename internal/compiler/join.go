package compiler

import (
	"tdbcore/internal/core"
	"tdbcore/internal/dataflow"
	"tdbcore/internal/ir"
)

func translateJoinType(t ir.JoinType) dataflow.JoinType {
	switch t {
	case ir.JoinLeft:
		return dataflow.JoinLeft
	case ir.JoinRight:
		return dataflow.JoinRight
	case ir.JoinFull:
		return dataflow.JoinFull
	default:
		return dataflow.JoinInner
	}
}

// joinKeyFn evaluates expr against the accumulated multi-alias row and
// wraps the result as a Tuple so it is comparable regardless of the
// expression's underlying Go type.
func joinKeyFn(expr ir.Expr) func(core.Row) core.Tuple {
	return func(row core.Row) core.Tuple {
		return core.Encode(core.Row{"k": ir.Evaluate(expr, row)})
	}
}

// joinCombine merges the accumulated left-hand row (already keyed by every
// alias joined so far) with the new alias's row, including the null-padded
// case an outer join supplies when the new side has no match. The merged
// row's top-level $synced/$origin are recomputed from every contributing
// alias's own virtuals (see aggregateRowVirtuals) so a join's output
// reflects the provenance of everything that fed it, not just whichever
// side happened to write last.
func joinCombine(alias string) func(left, right core.Row) core.Row {
	return func(left, right core.Row) core.Row {
		out := left.Clone()
		if out == nil {
			out = core.Row{}
		}
		if right != nil {
			out[alias] = right[alias]
		} else {
			out[alias] = nil
		}
		aggregateRowVirtuals(out)
		return out
	}
}

// aggregateRowVirtuals recomputes row's top-level $synced/$origin from
// every nested alias sub-row it carries: $synced is true iff every
// contributing alias row is itself synced, $origin is local if any
// contributing alias row is local. An alias with no match (the
// null-padded side of an outer join) carries no virtuals and contributes
// nothing to the aggregate.
func aggregateRowVirtuals(row core.Row) {
	synced := true
	origin := core.OriginRemote
	any := false
	for k, v := range row {
		if k == core.VSynced || k == core.VOrigin || k == core.VKey || k == core.VCollectionID {
			continue
		}
		nested, ok := asRow(v)
		if !ok {
			continue
		}
		s, hasS := nested[core.VSynced].(bool)
		o, hasO := nested[core.VOrigin].(string)
		if !hasS && !hasO {
			continue
		}
		any = true
		if hasS && !s {
			synced = false
		}
		if hasO && o == string(core.OriginLocal) {
			origin = core.OriginLocal
		}
	}
	if !any {
		return
	}
	row[core.VSynced] = synced
	row[core.VOrigin] = string(origin)
}

// asRow views v as a core.Row regardless of whether it is the named type
// (a row built directly in-process) or the plain map[string]any a Tuple
// round-trip through core.Decode's JSON unmarshal produces — the two are
// structurally identical but distinct Go types, so a bare type assertion
// on core.Row alone misses every nested alias sub-row once it has gone
// through an encode/decode cycle.
func asRow(v any) (core.Row, bool) {
	switch m := v.(type) {
	case core.Row:
		return m, true
	case map[string]any:
		return core.Row(m), true
	default:
		return nil, false
	}
}
