package dataflow

import (
	"tdbcore/internal/core"
	"tdbcore/internal/mset"
)

// BufferOp holds every diff it drains without forwarding it, until Flush is
// called. It is how a live query (internal/livequery) isolates a compiled
// graph's partial, in-progress output from its sink collection while it is
// still subscribing to sources: a multi-source query's sources each deliver
// their own initial snapshot as a separate callback, so without buffering,
// the first callback to run the graph would commit a partially joined
// result before the rest of the sources ever loaded. The engine driver
// keeps the buffer closed for the whole subscription setup and flushes it
// once every source has delivered its initial state, so subscribers never
// observe a half-loaded snapshot.
type BufferOp struct {
	name    string
	in      *Reader
	out     *Writer
	pending *mset.MultiSet[core.Tuple]
}

func Buffer(name string, in *Stream) (*BufferOp, *Stream) {
	out := NewStream()
	return &BufferOp{name: name, in: in.NewReader(), out: out.NewWriter(), pending: mset.New[core.Tuple]()}, out
}

func (b *BufferOp) Name() string { return b.name }

// Step only accumulates; it never reports progress on its own, since
// accumulating into the buffer is not externally visible.
func (b *BufferOp) Step() (bool, error) {
	if !b.in.HasPending() {
		return false, nil
	}
	for _, d := range b.in.Drain() {
		b.pending = mset.Concat(b.pending, d)
	}
	return false, nil
}

// Flush releases everything accumulated so far downstream, consolidated
// into a single diff, and resets the buffer. Call it from the sync driver's
// commit hook.
func (b *BufferOp) Flush() {
	if b.pending.IsEmpty() {
		return
	}
	merged := b.pending.Consolidate()
	b.pending = mset.New[core.Tuple]()
	b.out.Send(merged)
}

// UnbufferOp forwards every diff it drains unchanged; it exists as the
// named symmetric counterpart to BufferOp so compiled graphs stay readable
// as a fixed operator vocabulary, and as a seam where a future gate (e.g.
// a pause/resume toggle) could be inserted without changing the graph's
// shape.
type UnbufferOp struct {
	name string
	in   *Reader
	out  *Writer
}

func Unbuffer(name string, in *Stream) (*UnbufferOp, *Stream) {
	out := NewStream()
	return &UnbufferOp{name: name, in: in.NewReader(), out: out.NewWriter()}, out
}

func (u *UnbufferOp) Name() string { return u.name }

func (u *UnbufferOp) Step() (bool, error) {
	if !u.in.HasPending() {
		return false, nil
	}
	progressed := false
	for _, d := range u.in.Drain() {
		if !d.IsEmpty() {
			progressed = true
		}
		u.out.Send(d)
	}
	return progressed, nil
}
