package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdbcore/internal/core"
)

func TestEvaluatePropRefAndValue(t *testing.T) {
	row := core.Row{"name": "Ada", "age": float64(30)}
	assert.Equal(t, "Ada", Evaluate(NewPropRef("name"), row))
	assert.Equal(t, 42, Evaluate(NewValue(42), row))
	assert.Nil(t, Evaluate(NewPropRef("missing"), row))
}

func TestNewFuncRejectsUnknownName(t *testing.T) {
	_, err := NewFunc("not-a-real-function", NewValue(1))
	require.Error(t, err)
}

func TestEqFuncPropagatesNull(t *testing.T) {
	eq, err := NewFunc("eq", NewPropRef("missing"), NewValue(1))
	require.NoError(t, err)
	row := core.Row{}
	assert.Nil(t, eq.Eval(row))
}

func TestComparisonFuncs(t *testing.T) {
	gt, err := NewFunc("gt", NewPropRef("n"), NewValue(float64(5)))
	require.NoError(t, err)
	assert.Equal(t, true, gt.Eval(core.Row{"n": float64(10)}))
	assert.Equal(t, false, gt.Eval(core.Row{"n": float64(1)}))
}

func TestAndOrNotEvaluators(t *testing.T) {
	and, err := NewFunc("and", NewValue(true), NewValue(false))
	require.NoError(t, err)
	assert.Equal(t, false, and.Eval(core.Row{}))

	or, err := NewFunc("or", NewValue(false), NewValue(nil))
	require.NoError(t, err)
	assert.Nil(t, or.Eval(core.Row{}), "false OR unknown is unknown")

	not, err := NewFunc("not", NewValue(nil))
	require.NoError(t, err)
	assert.Nil(t, not.Eval(core.Row{}))
}

func TestIsNull(t *testing.T) {
	isNull, err := NewFunc("isNull", NewPropRef("missing"))
	require.NoError(t, err)
	assert.Equal(t, true, isNull.Eval(core.Row{}))
}

func TestArithmeticFuncs(t *testing.T) {
	add, err := NewFunc("add", NewValue(float64(2)), NewValue(float64(3)))
	require.NoError(t, err)
	assert.Equal(t, float64(5), add.Eval(core.Row{}))
}
