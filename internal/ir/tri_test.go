package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAndTruthTable(t *testing.T) {
	cases := []struct {
		a, b, want Tri
	}{
		{False, True, False},
		{True, True, True},
		{True, Unknown, Unknown},
		{Unknown, Unknown, Unknown},
		{False, Unknown, False},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, And(c.a, c.b))
	}
}

func TestOrTruthTable(t *testing.T) {
	cases := []struct {
		a, b, want Tri
	}{
		{True, False, True},
		{False, False, False},
		{False, Unknown, Unknown},
		{Unknown, Unknown, Unknown},
		{True, Unknown, True},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Or(c.a, c.b))
	}
}

func TestNotFlipsOnlyKnownValues(t *testing.T) {
	assert.Equal(t, False, Not(True))
	assert.Equal(t, True, Not(False))
	assert.Equal(t, Unknown, Not(Unknown))
}

func TestCollapseToFalseExcludesUnknown(t *testing.T) {
	assert.True(t, CollapseToFalse(True))
	assert.False(t, CollapseToFalse(False))
	assert.False(t, CollapseToFalse(Unknown))
}
