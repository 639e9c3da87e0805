package compiler

import (
	"tdbcore/internal/core"
	"tdbcore/internal/ir"
	"tdbcore/internal/mset"
)

// selectHasAggregate reports whether any top-level field of sel is an
// aggregate, which forces an implicit single-group reduce even without an
// explicit GroupBy (the usual SQL "aggregate over the whole table" case).
func selectHasAggregate(sel ir.Select) bool {
	for _, f := range sel {
		if f.Aggregate != nil {
			return true
		}
	}
	return false
}

// evalSelect projects row through sel without any aggregate support; used
// for the ungrouped path where every field is a plain Expr or a nested
// (non-aggregate) projection.
func evalSelect(sel ir.Select, row core.Row) core.Row {
	out := core.Row{}
	for name, field := range sel {
		switch {
		case field.Nested != nil:
			out[name] = evalSelect(field.Nested, row)
		case field.Expr != nil:
			out[name] = ir.Evaluate(field.Expr, row)
		}
	}
	return out
}

// buildGroupReducer fuses GroupBy's aggregate computation with Select's
// projection into one dataflow.Reducer: every
// plain field is evaluated against a representative group member (group
// expressions are constant within a group by construction), every
// aggregate field is fed the group's full (value, multiplicity) histogram
// via its Arg expression. The grouped output row's $synced/$origin are
// folded across every member the group reduces, not just the
// representative one: synced iff every member is synced, local if any
// member is local (see aggregateRowVirtuals for the same rule applied to
// a join step).
func buildGroupReducer(sel ir.Select) func(members []mset.Entry[core.Row]) core.Row {
	return func(members []mset.Entry[core.Row]) core.Row {
		var rep core.Row
		if len(members) > 0 {
			rep = members[0].Value
		}
		out := evalSelectWithAggregates(sel, rep, members)
		synced, origin, any := foldMemberVirtuals(members)
		if any {
			out[core.VSynced] = synced
			out[core.VOrigin] = origin
		}
		return out
	}
}

// foldMemberVirtuals aggregates $synced/$origin across every row
// contributing to a group. Each member's own virtuals are read either from
// its own top level (already folded, if the member came out of a prior
// join step) or, failing that, from whatever nested alias sub-row it
// carries (an unjoined source row wrapped under a single alias).
func foldMemberVirtuals(members []mset.Entry[core.Row]) (synced bool, origin string, any bool) {
	synced = true
	origin = string(core.OriginRemote)
	for _, m := range members {
		s, o, ok := rowVirtuals(m.Value)
		if !ok {
			continue
		}
		any = true
		if !s {
			synced = false
		}
		if o == string(core.OriginLocal) {
			origin = string(core.OriginLocal)
		}
	}
	return synced, origin, any
}

// rowVirtuals resolves a row's effective $synced/$origin: its own top-level
// values if already present, otherwise whatever aggregateRowVirtuals can
// fold from its nested alias sub-rows. ok is false if row carries no
// provenance at all (neither form).
func rowVirtuals(row core.Row) (synced bool, origin string, ok bool) {
	if s, hasS := row[core.VSynced].(bool); hasS {
		o, _ := row[core.VOrigin].(string)
		return s, o, true
	}
	folded := row.Clone()
	aggregateRowVirtuals(folded)
	if s, hasS := folded[core.VSynced].(bool); hasS {
		o, _ := folded[core.VOrigin].(string)
		return s, o, true
	}
	return true, string(core.OriginRemote), false
}

func evalSelectWithAggregates(sel ir.Select, rep core.Row, members []mset.Entry[core.Row]) core.Row {
	out := core.Row{}
	for name, field := range sel {
		switch {
		case field.Aggregate != nil:
			vms := make([]ir.ValueMultiplicity, 0, len(members))
			for _, m := range members {
				var val any
				if field.Aggregate.Arg != nil {
					val = ir.Evaluate(field.Aggregate.Arg, m.Value)
				}
				vms = append(vms, ir.ValueMultiplicity{Value: val, Multiplicity: m.Multiplicity})
			}
			out[name] = field.Aggregate.Reduce(vms)
		case field.Nested != nil:
			out[name] = evalSelectWithAggregates(field.Nested, rep, members)
		case field.Expr != nil:
			out[name] = ir.Evaluate(field.Expr, rep)
		}
	}
	return out
}

// buildGroupKey derives the group tuple key from GroupBy's expressions,
// evaluated against the pre-reduce joined/filtered row.
func buildGroupKey(exprs []ir.Expr) func(row core.Row) core.Tuple {
	return func(row core.Row) core.Tuple {
		vals := make([]any, len(exprs))
		for i, e := range exprs {
			vals[i] = ir.Evaluate(e, row)
		}
		return core.Encode(core.Row{"k": vals})
	}
}
