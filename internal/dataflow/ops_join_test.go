package dataflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdbcore/internal/core"
	"tdbcore/internal/mset"
)

func combineOrders(left, right core.Row) core.Row {
	out := core.Row{}
	if left != nil {
		out["customerId"] = left["customerId"]
		out["orderId"] = left["id"]
	}
	if right != nil {
		out["customerName"] = right["name"]
	} else {
		out["customerName"] = nil
	}
	return out
}

func keyByCustomerID(r core.Row) core.Tuple { return core.Encode(core.Row{"k": r["customerId"]}) }
func keyByID(r core.Row) core.Tuple         { return core.Encode(core.Row{"k": r["id"]}) }

func TestJoinInnerEmitsOnlyOnMatch(t *testing.T) {
	left := NewStream()
	right := NewStream()
	op, out := Join("orders-customers", left, right, keyByCustomerID, keyByID, JoinInner, combineOrders)
	r := out.NewReader()

	left.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value:        core.Encode(core.Row{"id": "o1", "customerId": "c1"}),
		Multiplicity: 1,
	}))
	progressed, err := op.Step()
	require.NoError(t, err)
	assert.False(t, progressed, "inner join emits nothing until both sides have a match")

	right.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value:        core.Encode(core.Row{"id": "c1", "name": "Ada"}),
		Multiplicity: 1,
	}))
	progressed, err = op.Step()
	require.NoError(t, err)
	require.True(t, progressed)
	entries := drainAll(r)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Multiplicity)
	row := core.Decode(entries[0].Value)
	assert.Equal(t, "Ada", row["customerName"])
}

func TestJoinLeftOuterRetractsSyntheticRowOnceMatched(t *testing.T) {
	left := NewStream()
	right := NewStream()
	op, out := Join("orders-customers", left, right, keyByCustomerID, keyByID, JoinLeft, combineOrders)
	r := out.NewReader()

	left.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value:        core.Encode(core.Row{"id": "o1", "customerId": "c1"}),
		Multiplicity: 1,
	}))
	_, err := op.Step()
	require.NoError(t, err)
	firstBatch := drainAll(r)
	require.Len(t, firstBatch, 1, "left outer join emits a null-padded row immediately")
	assert.Equal(t, 1, firstBatch[0].Multiplicity)
	synthetic := core.Decode(firstBatch[0].Value)
	assert.Nil(t, synthetic["customerName"])

	right.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value:        core.Encode(core.Row{"id": "c1", "name": "Ada"}),
		Multiplicity: 1,
	}))
	_, err = op.Step()
	require.NoError(t, err)
	secondBatch := drainAll(r)

	var retracted, inserted bool
	for _, e := range secondBatch {
		row := core.Decode(e.Value)
		if e.Multiplicity < 0 && row["customerName"] == nil {
			retracted = true
		}
		if e.Multiplicity > 0 && row["customerName"] == "Ada" {
			inserted = true
		}
	}
	assert.True(t, retracted, "the stale null-padded row must be retracted once a real match arrives")
	assert.True(t, inserted, "the real joined row must be inserted")
}

func TestJoinLeftOuterReemitsSyntheticRowAfterRightRetracted(t *testing.T) {
	left := NewStream()
	right := NewStream()
	op, out := Join("orders-customers", left, right, keyByCustomerID, keyByID, JoinLeft, combineOrders)
	r := out.NewReader()

	left.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value:        core.Encode(core.Row{"id": "o1", "customerId": "c1"}),
		Multiplicity: 1,
	}))
	right.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value:        core.Encode(core.Row{"id": "c1", "name": "Ada"}),
		Multiplicity: 1,
	}))
	_, err := op.Step()
	require.NoError(t, err)
	drainAll(r)

	right.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value:        core.Encode(core.Row{"id": "c1", "name": "Ada"}),
		Multiplicity: -1,
	}))
	_, err = op.Step()
	require.NoError(t, err)
	batch := drainAll(r)

	var retractedReal, insertedSynthetic bool
	for _, e := range batch {
		row := core.Decode(e.Value)
		if e.Multiplicity < 0 && row["customerName"] == "Ada" {
			retractedReal = true
		}
		if e.Multiplicity > 0 && row["customerName"] == nil {
			insertedSynthetic = true
		}
	}
	assert.True(t, retractedReal)
	assert.True(t, insertedSynthetic)
}
