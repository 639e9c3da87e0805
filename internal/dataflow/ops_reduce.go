package dataflow

import (
	"tdbcore/internal/core"
	"tdbcore/internal/mset"
)

// Reducer computes an aggregate result row from a group's current member
// histogram. It is invoked with every (value, multiplicity) pair currently
// present in the group — including zero-multiplicity-filtered entries
// already removed — so min/max-style reducers can recompute the correct
// extremum after a deletion without needing a separate retraction path:
// they retain the full histogram of values and multiplicities so
// deletions can restore previous extrema.
type Reducer func(members []mset.Entry[core.Row]) core.Row

// ReduceOp maintains per-group aggregated state and emits a retraction of
// the prior aggregate plus an insertion of the new one for every touched
// group.
type ReduceOp struct {
	name    string
	in      *Reader
	out     *Writer
	groupOf func(core.Row) core.Tuple
	reduce  Reducer

	// histogram holds, per group key, every distinct member row currently
	// present with its running multiplicity (zero entries removed).
	histogram map[core.Tuple]map[core.Tuple]*joinRowEntry
	// lastEmitted is the most recently emitted aggregate Tuple per group,
	// so reconciliation can retract exactly that row.
	lastEmitted map[core.Tuple]core.Tuple
}

// Reduce registers a grouped-aggregate operator.
func Reduce(name string, in *Stream, groupOf func(core.Row) core.Tuple, reduce Reducer) (*ReduceOp, *Stream) {
	out := NewStream()
	return &ReduceOp{
		name:        name,
		in:          in.NewReader(),
		out:         out.NewWriter(),
		groupOf:     groupOf,
		reduce:      reduce,
		histogram:   map[core.Tuple]map[core.Tuple]*joinRowEntry{},
		lastEmitted: map[core.Tuple]core.Tuple{},
	}, out
}

func (r *ReduceOp) Name() string { return r.name }

func (r *ReduceOp) Step() (bool, error) {
	if !r.in.HasPending() {
		return false, nil
	}
	touched := map[core.Tuple]struct{}{}
	for _, d := range r.in.Drain() {
		for _, e := range d.Entries() {
			row := core.Decode(e.Value)
			group := r.groupOf(row)
			touched[group] = struct{}{}

			bucket, ok := r.histogram[group]
			if !ok {
				bucket = map[core.Tuple]*joinRowEntry{}
				r.histogram[group] = bucket
			}
			entry, ok := bucket[e.Value]
			if !ok {
				entry = &joinRowEntry{row: row}
				bucket[e.Value] = entry
			}
			entry.mult += e.Multiplicity
			if entry.mult == 0 {
				delete(bucket, e.Value)
			}
		}
	}

	res := mset.New[core.Tuple]()
	for group := range touched {
		bucket := r.histogram[group]
		if prev, ok := r.lastEmitted[group]; ok {
			res.Insert(prev, -1)
			delete(r.lastEmitted, group)
		}
		if len(bucket) == 0 {
			delete(r.histogram, group)
			continue
		}
		members := make([]mset.Entry[core.Row], 0, len(bucket))
		for _, e := range bucket {
			members = append(members, mset.Entry[core.Row]{Value: e.row, Multiplicity: e.mult})
		}
		aggRow := r.reduce(members)
		aggTuple := core.Encode(aggRow)
		res.Insert(aggTuple, 1)
		r.lastEmitted[group] = aggTuple
	}
	progressed := !res.IsEmpty()
	r.out.Send(res)
	return progressed, nil
}
