package compiler

import (
	"fmt"

	"tdbcore/internal/config"
	"tdbcore/internal/core"
	"tdbcore/internal/dataflow"
	"tdbcore/internal/dlog"
	"tdbcore/internal/ir"
)

// Compile lowers q into operators registered on a freshly created Graph,
// wired to the per-alias input streams in sources (built by
// NewSourceStreams and fed by ApplyChangeBatch), and returns the graph
// alongside the stream carrying the query's final output rows. resultID
// labels KeyConflictError should a Union produce one.
func Compile(q *ir.Query, sources map[string]*SourceHandle, keyFn core.KeyFunc, resultID string, cfg config.Scheduler, log *dlog.Logger) (*dataflow.Graph, *dataflow.Stream, error) {
	graph := dataflow.NewGraph(cfg, log)
	out, err := compileInto(graph, q, sources, keyFn, resultID, cfg, log, nameCounter{n: new(int)})
	if err != nil {
		return nil, nil, err
	}
	return graph, out, nil
}

// nameCounter gives every operator registered during one Compile call a
// distinct, stable debug name.
type nameCounter struct{ n *int }

func (c nameCounter) next(kind string) string {
	if c.n == nil {
		zero := 0
		c.n = &zero
	}
	*c.n++
	return fmt.Sprintf("%s#%d", kind, *c.n)
}

func compileInto(graph *dataflow.Graph, q *ir.Query, sources map[string]*SourceHandle, keyFn core.KeyFunc, resultID string, cfg config.Scheduler, log *dlog.Logger, names nameCounter) (*dataflow.Stream, error) {
	fromAlias := aliasOf(q.From)
	fromHandle, ok := sources[fromAlias]
	if !ok {
		return nil, fmt.Errorf("tdbcore: compiler: no source stream registered for alias %q", fromAlias)
	}
	current := fromHandle.Stream

	// Step 3: joins, in declared order, each wiring the accumulated stream
	// against the next source's stream.
	for _, j := range q.Joins {
		alias := aliasOf(j.Source)
		handle, ok := sources[alias]
		if !ok {
			return nil, fmt.Errorf("tdbcore: compiler: no source stream registered for alias %q", alias)
		}
		op, joined := dataflow.Join(
			names.next("join"),
			current, handle.Stream,
			joinKeyFn(j.Left), joinKeyFn(j.Right),
			translateJoinType(j.Type),
			joinCombine(alias),
		)
		graph.AddOperator(op)
		current = joined
	}

	// Step 4: Where, stacked as a filter chain, 3-valued Unknown excluded
	// exactly like False.
	for _, w := range q.Where {
		expr := w
		op, filtered := dataflow.Filter(names.next("where"), current, func(row core.Row) bool {
			return ir.EvaluateTri(expr, row) == ir.True
		})
		graph.AddOperator(op)
		current = filtered
	}

	effectiveGroupBy := q.GroupBy
	if effectiveGroupBy == nil && selectHasAggregate(q.Select) {
		// An aggregate Select field with no explicit GroupBy is an
		// implicit single global group, same as bare SQL aggregates.
		effectiveGroupBy = &ir.GroupBy{}
	}

	if effectiveGroupBy != nil {
		// Steps 5-6 fused: the reducer both aggregates and projects.
		op, reduced := dataflow.Reduce(names.next("groupby"), current, buildGroupKey(effectiveGroupBy.Exprs), buildGroupReducer(q.Select))
		graph.AddOperator(op)
		current = reduced

		for _, h := range effectiveGroupBy.Having {
			expr := h
			hop, filtered := dataflow.Filter(names.next("having"), current, func(row core.Row) bool {
				return ir.EvaluateTri(expr, row) == ir.True
			})
			graph.AddOperator(hop)
			current = filtered
		}
	} else if len(q.Select) > 0 {
		// Step 6 alone: project without aggregation. A query with no Select
		// at all is a bare passthrough — the source's own row passes through
		// untouched — so no Map is wired.
		op, projected := dataflow.Map(names.next("select"), current, func(row core.Row) core.Row {
			return evalSelect(q.Select, row)
		})
		graph.AddOperator(op)
		current = projected
	}

	// Step 7: OrderBy + Limit/Offset. Plain Limit/Offset without OrderBy
	// reuses the same topK machinery with no ordering terms (ties broken
	// by Tuple encoding, which is stable but not meaningful) rather than a
	// separate non-indexed code path — a deliberate simplification over
	// maintaining two windowing implementations (see DESIGN.md).
	if len(q.OrderBy) > 0 || q.Limit != nil {
		offset, limit := 0, 0
		if q.Limit != nil {
			offset, limit = q.Limit.Offset, q.Limit.Limit
			if !q.Limit.HasLimit {
				limit = 0
			}
		}
		less := buildLess(q.OrderBy)
		op, windowed := dataflow.TopK(names.next("topk"), current, singleGroup, less, offset, limit)
		graph.AddOperator(op)
		current = windowed
	}
	// TopK reads limit <= 0 as unbounded, so an explicit limit of 0 is
	// lowered to a filter that admits no rows.
	if q.Limit != nil && q.Limit.HasLimit && q.Limit.Limit == 0 {
		op, empty := dataflow.Filter(names.next("limit0"), current, func(core.Row) bool { return false })
		graph.AddOperator(op)
		current = empty
	}

	// Step 8: Distinct.
	if q.Distinct {
		op, deduped := dataflow.Distinct(names.next("distinct"), current)
		graph.AddOperator(op)
		current = deduped
	}

	// Step 9: Union, guarded for key disjointness.
	if len(q.Union) > 0 {
		branches := []*dataflow.Stream{current}
		for _, u := range q.Union {
			branchOut, err := compileInto(graph, u, sources, keyFn, resultID, cfg, log, names)
			if err != nil {
				return nil, err
			}
			branches = append(branches, branchOut)
		}
		if keyFn == nil {
			return nil, fmt.Errorf("tdbcore: compiler: union requires a key function to detect conflicts")
		}
		guard, unioned := newUnionGuard(names.next("union"), resultID, keyFn, branches...)
		graph.AddOperator(guard)
		current = unioned
	}

	return current, nil
}

func singleGroup(core.Row) core.Tuple { return "" }
