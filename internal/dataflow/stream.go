// Package dataflow implements the differential-dataflow operators and the
// DAG runtime that drives them. Every edge in the
// graph carries a difference stream of core.Tuple-keyed multisets: rows are
// encoded to their canonical core.Tuple form so internal/mset's
// comparable-keyed MultiSet can represent them.
package dataflow

import (
	"tdbcore/internal/core"
	"tdbcore/internal/mset"
)

// Diff is the message type flowing across every stream edge.
type Diff = *mset.MultiSet[core.Tuple]

// Stream is an edge in the dataflow graph: a writer appends messages,
// readers each maintain their own cursor so the same stream can fan out to
// several downstream operators — readers share only through an explicit
// tee (concat); a Stream already behaves like a tee since every reader
// sees every message exactly once, independent of other readers.
type Stream struct {
	messages []Diff
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{}
}

// NewWriter returns a Writer appending to this stream.
func (s *Stream) NewWriter() *Writer {
	return &Writer{s: s}
}

// NewReader returns an independent Reader over this stream, starting at
// the current write position (it will not see messages already sent).
func (s *Stream) NewReader() *Reader {
	return &Reader{s: s, cursor: len(s.messages)}
}

// Writer appends messages to its stream.
type Writer struct {
	s *Stream
}

// Send appends d to the stream. Empty diffs are dropped rather than
// forwarded as no-op messages, keeping "has pending work" checks cheap.
func (w *Writer) Send(d Diff) {
	if d.IsEmpty() {
		return
	}
	w.s.messages = append(w.s.messages, d)
}

// Reader consumes messages from its stream starting at its own cursor.
type Reader struct {
	s      *Stream
	cursor int
}

// HasPending reports whether any unconsumed messages are available.
func (r *Reader) HasPending() bool {
	return r.cursor < len(r.s.messages)
}

// Drain returns every message produced since the last Drain/since creation,
// in order, and advances the cursor past them. Each message is atomic:
// readers process all messages produced in one scheduler step as a
// batch, so operators call Drain once per Step and
// treat the whole slice as one batch.
func (r *Reader) Drain() []Diff {
	if r.cursor >= len(r.s.messages) {
		return nil
	}
	out := r.s.messages[r.cursor:]
	r.cursor = len(r.s.messages)
	return out
}
