package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdbcore/internal/core"
	"tdbcore/internal/dataflow"
	"tdbcore/internal/mset"
	"tdbcore/internal/tdberrors"
)

func keyByID(r core.Row) (core.Key, error) {
	return core.NormalizeKey(r["id"])
}

func TestUnionGuardMergesDisjointBranches(t *testing.T) {
	a := dataflow.NewStream()
	b := dataflow.NewStream()
	guard, out := newUnionGuard("u", "result", keyByID, a, b)
	r := out.NewReader()

	a.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value: core.Encode(core.Row{"id": "1"}), Multiplicity: 1,
	}))
	b.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value: core.Encode(core.Row{"id": "2"}), Multiplicity: 1,
	}))

	progressed, err := guard.Step()
	require.NoError(t, err)
	assert.True(t, progressed)
	entries := drainCompilerAll(r)
	assert.Len(t, entries, 2)
}

func TestUnionGuardRaisesKeyConflictOnOverlap(t *testing.T) {
	a := dataflow.NewStream()
	b := dataflow.NewStream()
	guard, _ := newUnionGuard("u", "result", keyByID, a, b)

	a.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value: core.Encode(core.Row{"id": "1"}), Multiplicity: 1,
	}))
	b.NewWriter().Send(mset.New(mset.Entry[core.Tuple]{
		Value: core.Encode(core.Row{"id": "1"}), Multiplicity: 1,
	}))

	_, err := guard.Step()
	require.Error(t, err)
	var conflict *tdberrors.KeyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "result", conflict.CollectionID)
}

func drainCompilerAll(r *dataflow.Reader) []mset.Entry[core.Tuple] {
	var all []mset.Entry[core.Tuple]
	for _, d := range r.Drain() {
		all = append(all, d.Entries()...)
	}
	return all
}
