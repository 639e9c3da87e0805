package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdbcore/internal/config"
	"tdbcore/internal/core"
	"tdbcore/internal/dataflow"
	"tdbcore/internal/dlog"
	"tdbcore/internal/ir"
)

func schedulerConfig() config.Scheduler {
	return config.Scheduler{MaxSteps: 1000, MaxStepsWithoutProgress: 1000}
}

func drainRows(t *testing.T, r *dataflow.Reader) []core.Row {
	t.Helper()
	var out []core.Row
	for _, d := range r.Drain() {
		for _, e := range d.Entries() {
			for i := 0; i < e.Multiplicity; i++ {
				out = append(out, core.Decode(e.Value))
			}
		}
	}
	return out
}

func TestCompileWhereFiltersRowsThreeValued(t *testing.T) {
	q := &ir.Query{
		From: ir.Source{CollectionID: "todos", Alias: "t"},
		Where: []ir.Expr{
			mustFunc(t, "eq", ir.NewPropRef("t.done"), ir.NewValue(false)),
		},
	}
	sources := NewSourceStreams(q)
	graph, out, err := Compile(q, sources, nil, "todos", schedulerConfig(), dlog.Nop())
	require.NoError(t, err)
	r := out.NewReader()

	ApplyChangeBatch(sources["t"], core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "1", "text": "buy milk", "done": false}},
		{Type: core.Insert, Value: core.Row{"id": "2", "text": "walk dog", "done": true}},
	})
	require.NoError(t, graph.Run())

	rows := drainRows(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, "buy milk", rows[0]["t"].(map[string]any)["text"])
}

func TestCompileSelfJoinResolvesManagerName(t *testing.T) {
	q := &ir.Query{
		From: ir.Source{CollectionID: "employees", Alias: "e"},
		Joins: []ir.JoinClause{
			{
				Source: ir.Source{CollectionID: "employees", Alias: "m"},
				Type:   ir.JoinLeft,
				Left:   ir.NewPropRef("e.managerId"),
				Right:  ir.NewPropRef("m.id"),
			},
		},
		Select: ir.Select{
			"name":        ir.FieldExpr(ir.NewPropRef("e.name")),
			"managerName": ir.FieldExpr(ir.NewPropRef("m.name")),
		},
	}
	sources := NewSourceStreams(q)
	graph, out, err := Compile(q, sources, nil, "employees", schedulerConfig(), dlog.Nop())
	require.NoError(t, err)
	r := out.NewReader()

	ApplyChangeBatch(sources["e"], core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "1", "name": "Ada", "managerId": nil}},
	})
	ApplyChangeBatch(sources["m"], core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "1", "name": "Ada", "managerId": nil}},
	})
	require.NoError(t, graph.Run())

	rows := drainRows(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["name"])
	assert.Nil(t, rows[0]["managerName"])
}

func TestCompileGroupByHavingAndSumAggregate(t *testing.T) {
	sum, err := ir.NewAggregate("sum", ir.NewPropRef("o.amount"))
	require.NoError(t, err)
	gt, err := ir.NewFunc("gt", ir.NewPropRef("total"), ir.NewValue(float64(10)))
	require.NoError(t, err)

	q := &ir.Query{
		From: ir.Source{CollectionID: "orders", Alias: "o"},
		GroupBy: &ir.GroupBy{
			Exprs:  []ir.Expr{ir.NewPropRef("o.customerId")},
			Having: []ir.Expr{gt},
		},
		Select: ir.Select{
			"customer": ir.FieldExpr(ir.NewPropRef("o.customerId")),
			"total":    ir.FieldAggregate(sum),
		},
	}
	sources := NewSourceStreams(q)
	graph, out, err := Compile(q, sources, nil, "orders", schedulerConfig(), dlog.Nop())
	require.NoError(t, err)
	r := out.NewReader()

	ApplyChangeBatch(sources["o"], core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "1", "customerId": "c1", "amount": float64(5)}},
		{Type: core.Insert, Value: core.Row{"id": "2", "customerId": "c1", "amount": float64(8)}},
		{Type: core.Insert, Value: core.Row{"id": "3", "customerId": "c2", "amount": float64(1)}},
	})
	require.NoError(t, graph.Run())

	rows := drainRows(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0]["customer"])
	assert.Equal(t, float64(13), rows[0]["total"])
}

func TestCompileOrderByLimitAssignsFractionalPositions(t *testing.T) {
	limit := 2
	q := &ir.Query{
		From:    ir.Source{CollectionID: "todos", Alias: "t"},
		OrderBy: []ir.OrderTerm{{Expr: ir.NewPropRef("t.priority"), Desc: true}},
		Limit:   &ir.LimitOffset{HasLimit: true, Limit: limit},
	}
	sources := NewSourceStreams(q)
	graph, out, err := Compile(q, sources, nil, "todos", schedulerConfig(), dlog.Nop())
	require.NoError(t, err)
	r := out.NewReader()

	ApplyChangeBatch(sources["t"], core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "1", "priority": float64(1)}},
		{Type: core.Insert, Value: core.Row{"id": "2", "priority": float64(3)}},
		{Type: core.Insert, Value: core.Row{"id": "3", "priority": float64(2)}},
	})
	require.NoError(t, graph.Run())

	rows := drainRows(t, r)
	require.Len(t, rows, 2)
	for _, row := range rows {
		inner := row["t"].(map[string]any)
		assert.Contains(t, []any{"2", "3"}, inner["id"])
		assert.Contains(t, row, dataflow.TopKPositionField)
	}
}

func TestCompileDistinctDropsDuplicateProjections(t *testing.T) {
	q := &ir.Query{
		From:     ir.Source{CollectionID: "todos", Alias: "t"},
		Select:   ir.Select{"done": ir.FieldExpr(ir.NewPropRef("t.done"))},
		Distinct: true,
	}
	sources := NewSourceStreams(q)
	graph, out, err := Compile(q, sources, nil, "todos", schedulerConfig(), dlog.Nop())
	require.NoError(t, err)
	r := out.NewReader()

	ApplyChangeBatch(sources["t"], core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "1", "done": true}},
		{Type: core.Insert, Value: core.Row{"id": "2", "done": true}},
	})
	require.NoError(t, graph.Run())

	rows := drainRows(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["done"])
}

func TestCompileUnionWithoutKeyFuncFails(t *testing.T) {
	q := &ir.Query{
		From:  ir.Source{CollectionID: "active", Alias: "a"},
		Union: []*ir.Query{{From: ir.Source{CollectionID: "archived", Alias: "b"}}},
	}
	sources := NewSourceStreams(q)
	_, _, err := Compile(q, sources, nil, "all", schedulerConfig(), dlog.Nop())
	require.Error(t, err)
}

func TestCompileUnionMergesDisjointBranchesAndDetectsOverlap(t *testing.T) {
	q := &ir.Query{
		From:  ir.Source{CollectionID: "active", Alias: "a"},
		Union: []*ir.Query{{From: ir.Source{CollectionID: "archived", Alias: "b"}}},
	}
	sources := NewSourceStreams(q)
	graph, out, err := Compile(q, sources, keyByAliasedID, "all", schedulerConfig(), dlog.Nop())
	require.NoError(t, err)
	r := out.NewReader()

	ApplyChangeBatch(sources["a"], core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "1"}},
	})
	ApplyChangeBatch(sources["b"], core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "2"}},
	})
	require.NoError(t, graph.Run())
	rows := drainRows(t, r)
	assert.Len(t, rows, 2)

	ApplyChangeBatch(sources["b"], core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "1"}},
	})
	err = graph.Run()
	require.Error(t, err)
}

// keyByAliasedID extracts "id" out of an alias-wrapped row (core.Row{alias:
// core.Row{"id": ...}}), the shape union branches carry at the point the
// union guard sees them.
func keyByAliasedID(r core.Row) (core.Key, error) {
	for _, v := range r {
		if inner, ok := v.(map[string]any); ok {
			if id, ok := inner["id"]; ok {
				return core.NormalizeKey(id)
			}
		}
		if inner, ok := v.(core.Row); ok {
			if id, ok := inner["id"]; ok {
				return core.NormalizeKey(id)
			}
		}
	}
	return "", nil
}

func mustFunc(t *testing.T, name string, args ...ir.Expr) *ir.Func {
	t.Helper()
	f, err := ir.NewFunc(name, args...)
	require.NoError(t, err)
	return f
}
