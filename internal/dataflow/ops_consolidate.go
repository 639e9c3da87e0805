package dataflow

import (
	"tdbcore/internal/core"
	"tdbcore/internal/mset"
)

// ConsolidateOp sums multiplicities per value within each batch drained in
// a single scheduler step and drops zero-sum entries. Consolidation is
// scoped to one batch: multiplicities from different scheduler steps
// represent genuinely different points in time (different commits) and
// must never cancel against each other, or the no-reordering-across-
// commits guarantee would be violated.
type ConsolidateOp struct {
	name string
	in   *Reader
	out  *Writer
}

func Consolidate(name string, in *Stream) (*ConsolidateOp, *Stream) {
	out := NewStream()
	return &ConsolidateOp{name: name, in: in.NewReader(), out: out.NewWriter()}, out
}

func (c *ConsolidateOp) Name() string { return c.name }

func (c *ConsolidateOp) Step() (bool, error) {
	if !c.in.HasPending() {
		return false, nil
	}
	batch := c.in.Drain()
	merged := mset.Concat(batch...).Consolidate()
	progressed := !merged.IsEmpty()
	c.out.Send(merged)
	return progressed, nil
}

// DistinctOp projects each value's running multiplicity to a 0/1 presence
// indicator: project multiplicity to 1 if the running sum is positive,
// else 0, tracked as key -> current sum. Unlike ConsolidateOp, Distinct's
// state spans the stream's entire lifetime: it must remember every value's
// running total to know whether a later retraction crosses the
// presence/absence boundary.
type DistinctOp struct {
	name  string
	in    *Reader
	out   *Writer
	state map[core.Tuple]int
}

func Distinct(name string, in *Stream) (*DistinctOp, *Stream) {
	out := NewStream()
	return &DistinctOp{name: name, in: in.NewReader(), out: out.NewWriter(), state: map[core.Tuple]int{}}, out
}

func (d *DistinctOp) Name() string { return d.name }

func (d *DistinctOp) Step() (bool, error) {
	if !d.in.HasPending() {
		return false, nil
	}
	batch := d.in.Drain()
	merged := mset.Concat(batch...).Consolidate()

	res := mset.New[core.Tuple]()
	for _, e := range merged.Entries() {
		before := d.state[e.Value]
		after := before + e.Multiplicity
		if after == 0 {
			delete(d.state, e.Value)
		} else {
			d.state[e.Value] = after
		}
		beforePresent := before > 0
		afterPresent := after > 0
		switch {
		case !beforePresent && afterPresent:
			res.Insert(e.Value, 1)
		case beforePresent && !afterPresent:
			res.Insert(e.Value, -1)
		}
	}
	progressed := !res.IsEmpty()
	d.out.Send(res)
	return progressed, nil
}
