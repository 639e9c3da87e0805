package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdbcore/internal/core"
	"tdbcore/internal/ir"
	"tdbcore/internal/mset"
)

func TestSelectHasAggregateDetectsTopLevelOnly(t *testing.T) {
	sum, err := ir.NewAggregate("sum", ir.NewPropRef("o.amount"))
	require.NoError(t, err)
	assert.True(t, selectHasAggregate(ir.Select{"total": ir.FieldAggregate(sum)}))
	assert.False(t, selectHasAggregate(ir.Select{"id": ir.FieldExpr(ir.NewPropRef("o.id"))}))
}

func TestEvalSelectProjectsPlainFieldsAndNested(t *testing.T) {
	sel := ir.Select{
		"id": ir.FieldExpr(ir.NewPropRef("t.id")),
		"meta": ir.FieldNested(ir.Select{
			"done": ir.FieldExpr(ir.NewPropRef("t.done")),
		}),
	}
	row := core.Row{"t": core.Row{"id": "1", "done": true}}
	out := evalSelect(sel, row)
	assert.Equal(t, "1", out["id"])
	assert.Equal(t, core.Row{"done": true}, out["meta"])
}

func TestBuildGroupReducerFusesAggregateAndPlainFields(t *testing.T) {
	sum, err := ir.NewAggregate("sum", ir.NewPropRef("o.amount"))
	require.NoError(t, err)
	sel := ir.Select{
		"customer": ir.FieldExpr(ir.NewPropRef("o.customerId")),
		"total":    ir.FieldAggregate(sum),
	}
	reduce := buildGroupReducer(sel)

	members := []mset.Entry[core.Row]{
		{Value: core.Row{"o": core.Row{"customerId": "c1", "amount": float64(10)}}, Multiplicity: 1},
		{Value: core.Row{"o": core.Row{"customerId": "c1", "amount": float64(5)}}, Multiplicity: 2},
	}
	out := reduce(members)
	assert.Equal(t, "c1", out["customer"])
	assert.Equal(t, float64(20), out["total"])
}

func TestBuildGroupReducerFoldsSyncedAndOriginAcrossMembers(t *testing.T) {
	sum, err := ir.NewAggregate("sum", ir.NewPropRef("o.amount"))
	require.NoError(t, err)
	sel := ir.Select{"total": ir.FieldAggregate(sum)}
	reduce := buildGroupReducer(sel)

	allSynced := reduce([]mset.Entry[core.Row]{
		{Value: core.Row{"o": core.Row{"amount": float64(1), core.VSynced: true, core.VOrigin: string(core.OriginRemote)}}, Multiplicity: 1},
		{Value: core.Row{"o": core.Row{"amount": float64(2), core.VSynced: true, core.VOrigin: string(core.OriginRemote)}}, Multiplicity: 1},
	})
	assert.Equal(t, true, allSynced[core.VSynced])
	assert.Equal(t, string(core.OriginRemote), allSynced[core.VOrigin])

	oneLocal := reduce([]mset.Entry[core.Row]{
		{Value: core.Row{"o": core.Row{"amount": float64(1), core.VSynced: true, core.VOrigin: string(core.OriginRemote)}}, Multiplicity: 1},
		{Value: core.Row{"o": core.Row{"amount": float64(2), core.VSynced: false, core.VOrigin: string(core.OriginLocal)}}, Multiplicity: 1},
	})
	assert.Equal(t, false, oneLocal[core.VSynced], "one unsynced member makes the whole group unsynced")
	assert.Equal(t, string(core.OriginLocal), oneLocal[core.VOrigin])

	noVirtuals := reduce([]mset.Entry[core.Row]{
		{Value: core.Row{"o": core.Row{"amount": float64(1)}}, Multiplicity: 1},
	})
	assert.NotContains(t, noVirtuals, core.VSynced, "members carrying no provenance at all leave the aggregate unset")
}

func TestBuildGroupKeyEncodesExpressionTuple(t *testing.T) {
	keyFn := buildGroupKey([]ir.Expr{ir.NewPropRef("o.customerId")})
	k1 := keyFn(core.Row{"o": core.Row{"customerId": "c1"}})
	k2 := keyFn(core.Row{"o": core.Row{"customerId": "c1"}})
	k3 := keyFn(core.Row{"o": core.Row{"customerId": "c2"}})
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
