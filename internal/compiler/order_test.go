package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tdbcore/internal/core"
	"tdbcore/internal/ir"
)

func TestBuildLessOrdersByFirstKeyThenFallsThrough(t *testing.T) {
	less := buildLess([]ir.OrderTerm{
		{Expr: ir.NewPropRef("t.priority"), Desc: true},
		{Expr: ir.NewPropRef("t.name")},
	})
	a := core.Row{"t": core.Row{"priority": float64(1), "name": "b"}}
	b := core.Row{"t": core.Row{"priority": float64(2), "name": "a"}}
	assert.True(t, less(b, a), "higher priority sorts first under Desc")
	assert.False(t, less(a, b))

	c := core.Row{"t": core.Row{"priority": float64(1), "name": "a"}}
	assert.True(t, less(c, a), "tie on priority falls through to name")
}

func TestCompareForOrderNullsFirstAndLast(t *testing.T) {
	assert.Equal(t, -1, compareForOrder(nil, 1.0, true))
	assert.Equal(t, 1, compareForOrder(nil, 1.0, false))
	assert.Equal(t, 1, compareForOrder(1.0, nil, true))
	assert.Equal(t, 0, compareForOrder(nil, nil, true))
}
