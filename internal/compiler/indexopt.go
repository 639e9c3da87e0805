package compiler

import (
	"strings"

	"tdbcore/internal/core"
	"tdbcore/internal/index"
	"tdbcore/internal/ir"
)

// indexCandidate is one Where predicate the index optimizer can resolve
// without a full scan: a bare comparison of an alias-rooted field path
// against a literal.
type indexCandidate struct {
	path  string // full dotted path, alias included (e.g. "t.done")
	op    string // eq, gt, gte, lt, lte
	value any
}

// scanIndexCandidates walks where's top-level predicates for comparisons an
// index can serve, descending only into "and" — unlike the dev-mode
// advisor's own path scan (internal/index/advisor.go), this one must never
// descend into "or": using a single OR branch's matches as a seed would
// silently drop rows that only satisfy the other branch. Restricting to
// "and" keeps every candidate a safe superset of the predicate's true
// result, never a subset.
func scanIndexCandidates(where []ir.Expr) []indexCandidate {
	var out []indexCandidate
	var walk func(e ir.Expr)
	walk = func(e ir.Expr) {
		f, ok := e.(*ir.Func)
		if !ok {
			return
		}
		switch f.Name {
		case "and":
			for _, arg := range f.Args {
				walk(arg)
			}
		case "eq", "gt", "gte", "lt", "lte":
			if len(f.Args) != 2 {
				return
			}
			ref, val, ok := matchPropValue(f.Args[0], f.Args[1])
			if !ok {
				return
			}
			out = append(out, indexCandidate{
				path:  strings.Join([]string(ref.Path), "."),
				op:    f.Name,
				value: val.V,
			})
		}
	}
	for _, e := range where {
		walk(e)
	}
	return out
}

func matchPropValue(a, b ir.Expr) (ir.PropRef, ir.Value, bool) {
	if ref, ok := a.(ir.PropRef); ok {
		if val, ok := b.(ir.Value); ok {
			return ref, val, true
		}
	}
	if ref, ok := b.(ir.PropRef); ok {
		if val, ok := a.(ir.Value); ok {
			return ref, val, true
		}
	}
	return ir.PropRef{}, ir.Value{}, false
}

// candidatesForAlias narrows candidates to those rooted at alias, with the
// alias prefix stripped: an internal/index.Index is built over a raw
// collection row, so it is keyed by the path relative to that row, not the
// alias-qualified path Where predicates use.
func candidatesForAlias(candidates []indexCandidate, alias string) []indexCandidate {
	prefix := alias + "."
	var out []indexCandidate
	for _, c := range candidates {
		if rel, ok := strings.CutPrefix(c.path, prefix); ok {
			out = append(out, indexCandidate{path: rel, op: c.op, value: c.value})
		}
	}
	return out
}

// IndexSeed resolves, for one join alias, an index-backed set of candidate
// keys that a top-level Where predicate on that alias lets the engine seed
// from instead of scanning every row of the source collection: §4.7's
// "equality/range conditions against indexed expressions are resolved via
// the index before streaming to downstream operators". lookup resolves a
// relative field path to a live index, or nil if none exists for it. The
// returned key set is always a safe superset of the predicate's true match
// set — the compiler's own Where/Filter step still re-evaluates every
// predicate downstream, so an overly broad seed costs extra work, never
// correctness.
func IndexSeed(q *ir.Query, alias string, lookup func(path string) *index.Index) ([]core.Key, bool) {
	for _, c := range candidatesForAlias(scanIndexCandidates(q.Where), alias) {
		idx := lookup(c.path)
		if idx == nil {
			continue
		}
		switch c.op {
		case "eq":
			return idx.Lookup(c.value), true
		case "gt", "gte", "lt", "lte":
			if idx.Kind() != index.Ordered {
				continue
			}
			lo, hi := rangeBounds(c.op, c.value)
			return idx.Range(lo, hi), true
		}
	}
	return nil, false
}

// rangeBounds maps a single-sided comparison to an inclusive Range bound.
// Using an inclusive bound for a strict gt/lt is deliberately over-broad by
// at most the boundary value itself — a safe superset, corrected by the
// downstream Where filter.
func rangeBounds(op string, v any) (lo, hi any) {
	switch op {
	case "gt", "gte":
		return v, nil
	default:
		return nil, v
	}
}
