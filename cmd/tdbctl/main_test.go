package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdbcore/internal/collection"
	"tdbcore/internal/config"
	"tdbcore/internal/core"
)

func testFixture() fixtureFile {
	return fixtureFile{
		"todos": []core.Row{
			{"id": "1", "text": "write tests", "done": false},
			{"id": "2", "text": "ship it", "done": true},
		},
	}
}

func buildTestCollections(t *testing.T) map[string]*collection.Collection {
	t.Helper()
	cols, err := buildCollections(context.Background(), testFixture(), config.Default())
	require.NoError(t, err)
	return cols
}

func TestQuerySpecBuildsFilterQuery(t *testing.T) {
	q, err := (querySpec{
		From: sourceSpec{Collection: "todos", Alias: "t"},
		Where: []exprSpec{{
			Func: "eq",
			Args: []exprSpec{
				{Prop: "t.done"},
				{Value: []byte("false")},
			},
		}},
	}).build()
	require.NoError(t, err)
	assert.Equal(t, "todos", q.From.CollectionID)
	require.Len(t, q.Where, 1)
}

func TestApplyMutationInsertsAndIsVisibleImmediately(t *testing.T) {
	cols := buildTestCollections(t)
	col := cols["todos"]

	key, err := applyMutation(context.Background(), col, &mutateFlags{
		op: "insert",
		row: `{"id":"3","text":"new","done":false}`,
	})
	require.NoError(t, err)
	assert.Equal(t, core.Key("s:3"), key)

	row, ok := col.Get(key)
	require.True(t, ok)
	assert.Equal(t, "new", row["text"])
}

func TestApplyMutationUpdateMergesFields(t *testing.T) {
	cols := buildTestCollections(t)
	col := cols["todos"]

	key, err := applyMutation(context.Background(), col, &mutateFlags{
		op:  "update",
		key: "1",
		row: `{"done":true}`,
	})
	require.NoError(t, err)

	row, ok := col.Get(key)
	require.True(t, ok)
	assert.Equal(t, true, row["done"])
	assert.Equal(t, "write tests", row["text"])
}

func TestApplyMutationDeleteRemovesRow(t *testing.T) {
	cols := buildTestCollections(t)
	col := cols["todos"]

	key, err := applyMutation(context.Background(), col, &mutateFlags{
		op:  "delete",
		key: "2",
	})
	require.NoError(t, err)
	assert.False(t, col.Has(key))
}

func TestApplyMutationRequiresKeyForUpdate(t *testing.T) {
	cols := buildTestCollections(t)
	col := cols["todos"]

	_, err := applyMutation(context.Background(), col, &mutateFlags{op: "update", row: `{"done":true}`})
	assert.Error(t, err)
}

func TestApplyMutationRejectsUnknownOp(t *testing.T) {
	cols := buildTestCollections(t)
	col := cols["todos"]

	_, err := applyMutation(context.Background(), col, &mutateFlags{op: "archive"})
	assert.Error(t, err)
}
