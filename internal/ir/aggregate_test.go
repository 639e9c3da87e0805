package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumAggregate(t *testing.T) {
	agg, err := NewAggregate("sum", NewPropRef("amount"))
	require.NoError(t, err)
	result := agg.Reduce([]ValueMultiplicity{
		{Value: float64(10), Multiplicity: 1},
		{Value: float64(5), Multiplicity: 2},
	})
	assert.Equal(t, float64(20), result)
}

func TestCountAggregateIgnoresValue(t *testing.T) {
	agg, err := NewAggregate("count", nil)
	require.NoError(t, err)
	result := agg.Reduce([]ValueMultiplicity{
		{Value: nil, Multiplicity: 3},
		{Value: "x", Multiplicity: 2},
	})
	assert.Equal(t, float64(5), result)
}

func TestMinMaxRecomputeFromHistogramAfterDeletion(t *testing.T) {
	minAgg, err := NewAggregate("min", NewPropRef("n"))
	require.NoError(t, err)

	members := []ValueMultiplicity{
		{Value: float64(1), Multiplicity: 1},
		{Value: float64(5), Multiplicity: 1},
	}
	assert.Equal(t, float64(1), minAgg.Reduce(members))

	// Simulate the extremum's histogram entry dropping to zero by omitting
	// it from the member list passed on the next reduce.
	afterDelete := []ValueMultiplicity{
		{Value: float64(5), Multiplicity: 1},
	}
	assert.Equal(t, float64(5), minAgg.Reduce(afterDelete))
}

func TestMinStrLexicographicCompareOverNullableValues(t *testing.T) {
	agg, err := NewAggregate("minStr", NewPropRef("createdAt"))
	require.NoError(t, err)
	result := agg.Reduce([]ValueMultiplicity{
		{Value: nil, Multiplicity: 1},
		{Value: "2024-02-01", Multiplicity: 1},
		{Value: "2024-01-01", Multiplicity: 1},
	})
	assert.Equal(t, "2024-01-01", result)
}

func TestMinStrAllNullReportsNil(t *testing.T) {
	agg, err := NewAggregate("minStr", NewPropRef("createdAt"))
	require.NoError(t, err)
	result := agg.Reduce([]ValueMultiplicity{
		{Value: nil, Multiplicity: 1},
		{Value: nil, Multiplicity: 1},
	})
	assert.Nil(t, result)
}

func TestUnknownAggregateNameRejected(t *testing.T) {
	_, err := NewAggregate("bogus", nil)
	require.Error(t, err)
}
