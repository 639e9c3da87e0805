package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdbcore/internal/core"
	"tdbcore/internal/ir"
)

func TestNewSourceStreamsEnumeratesAliasesIncludingSelfJoin(t *testing.T) {
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
	}
	handles := NewSourceStreams(q)
	require.Len(t, handles, 2)
	assert.Equal(t, "employees", handles["e"].CollectionID)
	assert.Equal(t, "employees", handles["m"].CollectionID)
	assert.NotSame(t, handles["e"].Stream, handles["m"].Stream)
}

func TestNewSourceStreamsWalksUnionBranches(t *testing.T) {
	q := &ir.Query{
		From: ir.Source{CollectionID: "active", Alias: "a"},
		Union: []*ir.Query{
			{From: ir.Source{CollectionID: "archived", Alias: "b"}},
		},
	}
	handles := NewSourceStreams(q)
	require.Len(t, handles, 2)
	assert.Contains(t, handles, "a")
	assert.Contains(t, handles, "b")
}

func TestApplyChangeBatchProducesAliasWrappedDiff(t *testing.T) {
	q := &ir.Query{From: ir.Source{CollectionID: "todos", Alias: "t"}}
	handles := NewSourceStreams(q)
	h := handles["t"]
	r := h.Stream.NewReader()

	ApplyChangeBatch(h, core.Batch{
		{Type: core.Insert, Value: core.Row{"id": "1", "text": "buy milk"}},
	})

	var entries []core.Row
	for _, d := range r.Drain() {
		for _, e := range d.Entries() {
			for i := 0; i < e.Multiplicity; i++ {
				entries = append(entries, core.Decode(e.Value))
			}
		}
	}
	require.Len(t, entries, 1)
	assert.Equal(t, "buy milk", entries[0]["t"].(map[string]any)["text"])
}

func TestApplyChangeBatchUpdateRetractsPreviousValue(t *testing.T) {
	q := &ir.Query{From: ir.Source{CollectionID: "todos", Alias: "t"}}
	handles := NewSourceStreams(q)
	h := handles["t"]
	r := h.Stream.NewReader()

	ApplyChangeBatch(h, core.Batch{
		{
			Type:          core.Update,
			Value:         core.Row{"id": "1", "done": true},
			PreviousValue: core.Row{"id": "1", "done": false},
		},
	})

	var total int
	for _, d := range r.Drain() {
		for _, e := range d.Entries() {
			total += e.Multiplicity
		}
	}
	assert.Equal(t, 0, total)
}
