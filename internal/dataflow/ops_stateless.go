package dataflow

import (
	"tdbcore/internal/core"
	"tdbcore/internal/mset"
)

// MapOp applies f to every row, preserving multiplicities.
type MapOp struct {
	name string
	in   *Reader
	out  *Writer
	f    func(core.Row) core.Row
}

// Map registers a stateless row transform, returning the operator and its
// output stream.
func Map(name string, in *Stream, f func(core.Row) core.Row) (*MapOp, *Stream) {
	out := NewStream()
	return &MapOp{name: name, in: in.NewReader(), out: out.NewWriter(), f: f}, out
}

func (m *MapOp) Name() string { return m.name }

func (m *MapOp) Step() (bool, error) {
	if !m.in.HasPending() {
		return false, nil
	}
	progressed := false
	for _, d := range m.in.Drain() {
		res := mset.New[core.Tuple]()
		for _, e := range d.Entries() {
			res.Insert(core.Encode(m.f(core.Decode(e.Value))), e.Multiplicity)
		}
		res = res.Consolidate()
		if !res.IsEmpty() {
			progressed = true
		}
		m.out.Send(res)
	}
	return progressed, nil
}

// FilterOp keeps only rows for which p holds.
type FilterOp struct {
	name string
	in   *Reader
	out  *Writer
	p    func(core.Row) bool
}

// Filter registers a stateless predicate filter.
func Filter(name string, in *Stream, p func(core.Row) bool) (*FilterOp, *Stream) {
	out := NewStream()
	return &FilterOp{name: name, in: in.NewReader(), out: out.NewWriter(), p: p}, out
}

func (f *FilterOp) Name() string { return f.name }

func (f *FilterOp) Step() (bool, error) {
	if !f.in.HasPending() {
		return false, nil
	}
	progressed := false
	for _, d := range f.in.Drain() {
		res := mset.New[core.Tuple]()
		for _, e := range d.Entries() {
			if f.p(core.Decode(e.Value)) {
				res.Insert(e.Value, e.Multiplicity)
			}
		}
		if !res.IsEmpty() {
			progressed = true
		}
		f.out.Send(res)
	}
	return progressed, nil
}

// NegateOp flips the sign of every multiplicity, typically used to build
// EXCEPT-style operators from union + negate + distinct.
type NegateOp struct {
	name string
	in   *Reader
	out  *Writer
}

func Negate(name string, in *Stream) (*NegateOp, *Stream) {
	out := NewStream()
	return &NegateOp{name: name, in: in.NewReader(), out: out.NewWriter()}, out
}

func (n *NegateOp) Name() string { return n.name }

func (n *NegateOp) Step() (bool, error) {
	if !n.in.HasPending() {
		return false, nil
	}
	progressed := false
	for _, d := range n.in.Drain() {
		res := d.Negate()
		if !res.IsEmpty() {
			progressed = true
		}
		n.out.Send(res)
	}
	return progressed, nil
}

// ConcatOp unions two or more streams unchanged. It is the only way two
// readers may observe the same upstream content through one operator (a
// "tee").
type ConcatOp struct {
	name string
	ins  []*Reader
	out  *Writer
}

func Concat(name string, ins ...*Stream) (*ConcatOp, *Stream) {
	readers := make([]*Reader, len(ins))
	for i, s := range ins {
		readers[i] = s.NewReader()
	}
	out := NewStream()
	return &ConcatOp{name: name, ins: readers, out: out.NewWriter()}, out
}

func (c *ConcatOp) Name() string { return c.name }

func (c *ConcatOp) Step() (bool, error) {
	progressed := false
	for _, r := range c.ins {
		if !r.HasPending() {
			continue
		}
		for _, d := range r.Drain() {
			if !d.IsEmpty() {
				progressed = true
			}
			c.out.Send(d)
		}
	}
	return progressed, nil
}
