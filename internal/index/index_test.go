package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdbcore/internal/collection"
	"tdbcore/internal/config"
	"tdbcore/internal/core"
	"tdbcore/internal/ir"
)

func keyFunc(r core.Row) (core.Key, error) {
	return core.NormalizeKey(r["id"])
}

func readyCollection(t *testing.T, rows ...core.Row) *collection.Collection {
	t.Helper()
	driver := func(ctx context.Context, sc *collection.SyncContext) (func(), error) {
		sc.Begin()
		for _, r := range rows {
			require.NoError(t, sc.Write(collection.WriteOp{Type: core.Insert, Value: r}))
		}
		require.NoError(t, sc.Commit())
		sc.MarkReady()
		return func() {}, nil
	}
	c := collection.New("people", keyFunc, driver, config.Collection{}, nil)
	require.NoError(t, c.Preload(context.Background()))
	return c
}

func TestEqualityIndexLooksUpByValue(t *testing.T) {
	col := readyCollection(t,
		core.Row{"id": "1", "age": 30},
		core.Row{"id": "2", "age": 30},
		core.Row{"id": "3", "age": 40},
	)
	idx := New(col, "by_age", "age", Equality)
	defer idx.Close()

	got := idx.Lookup(30)
	assert.ElementsMatch(t, []core.Key{"s:1", "s:2"}, got)
	assert.Empty(t, idx.Range(25, 35))
}

func TestOrderedIndexSupportsRangeQueries(t *testing.T) {
	col := readyCollection(t,
		core.Row{"id": "1", "age": 20},
		core.Row{"id": "2", "age": 30},
		core.Row{"id": "3", "age": 40},
	)
	idx := New(col, "by_age", "age", Ordered)
	defer idx.Close()

	got := idx.Range(25, 35)
	assert.Equal(t, []core.Key{"s:2"}, got)

	got = idx.Range(nil, 25)
	assert.Equal(t, []core.Key{"s:1"}, got)
}

func TestIndexTracksUpdatesAndDeletes(t *testing.T) {
	col := readyCollection(t, core.Row{"id": "1", "age": 30})
	idx := New(col, "by_age", "age", Equality)
	defer idx.Close()

	col.ApplyOptimistic("tx1", []core.ChangeMessage{
		{Type: core.Update, Key: "s:1", Value: core.Row{"id": "1", "age": 31}, PreviousValue: core.Row{"id": "1", "age": 30}},
	})
	assert.Empty(t, idx.Lookup(30))
	assert.Equal(t, []core.Key{"s:1"}, idx.Lookup(31))

	col.RetireOverlay("tx1")
	assert.Equal(t, 1, idx.Size())
}

func TestAdvisorSuggestsOnceThresholdsCross(t *testing.T) {
	a := NewAdvisor(config.Indexing{AdvisorSizeThreshold: 100, AdvisorHitThreshold: 2})
	q := &ir.Query{
		Where: []ir.Expr{
			mustEq(t, "status"),
		},
	}
	noIndex := func(string) bool { return false }

	assert.Empty(t, a.Observe("orders", 200, q, noIndex))
	got := a.Observe("orders", 200, q, noIndex)
	require.Len(t, got, 1)
	assert.Equal(t, "status", got[0].Path)

	assert.Empty(t, a.Observe("orders", 200, q, noIndex))
}

func TestAdvisorSkipsAlreadyIndexedPaths(t *testing.T) {
	a := NewAdvisor(config.Indexing{AdvisorSizeThreshold: 1, AdvisorHitThreshold: 1})
	q := &ir.Query{Where: []ir.Expr{mustEq(t, "status")}}
	hasIndex := func(p string) bool { return p == "status" }
	assert.Empty(t, a.Observe("orders", 1000, q, hasIndex))
}

func mustEq(t *testing.T, path string) *ir.Func {
	t.Helper()
	f, err := ir.NewFunc("eq", ir.NewPropRef(path), ir.NewValue("shipped"))
	require.NoError(t, err)
	return f
}
