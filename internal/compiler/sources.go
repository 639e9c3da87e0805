// Package compiler lowers a query IR tree (internal/ir) into a dataflow
// graph (internal/dataflow) bound to source collection change streams,
// following a fixed nine-step lowering algorithm: walk a structured IR and
// emit a sequence of lower-level operations.
package compiler

import (
	"tdbcore/internal/core"
	"tdbcore/internal/dataflow"
	"tdbcore/internal/ir"
	"tdbcore/internal/mset"
)

// SourceHandle is one input node of the compiled graph: the per-alias
// difference stream a collection's change subscription feeds. Handles are
// keyed by alias rather than by collection id so the same collection can
// appear twice under distinct aliases, supporting self-joins.
type SourceHandle struct {
	Alias        string
	CollectionID string
	Stream       *dataflow.Stream
	Writer       *dataflow.Writer
}

// NewSourceStreams walks q (and any unioned subqueries) enumerating every
// distinct alias that needs its own input stream.
func NewSourceStreams(q *ir.Query) map[string]*SourceHandle {
	handles := map[string]*SourceHandle{}
	var walk func(q *ir.Query)
	walk = func(q *ir.Query) {
		if q == nil {
			return
		}
		registerAlias(handles, q.From)
		for _, j := range q.Joins {
			registerAlias(handles, j.Source)
		}
		for _, u := range q.Union {
			walk(u)
		}
	}
	walk(q)
	return handles
}

func registerAlias(handles map[string]*SourceHandle, src ir.Source) {
	alias := aliasOf(src)
	if _, exists := handles[alias]; exists {
		return
	}
	s := dataflow.NewStream()
	handles[alias] = &SourceHandle{
		Alias:        alias,
		CollectionID: src.CollectionID,
		Stream:       s,
		Writer:       s.NewWriter(),
	}
}

func aliasOf(src ir.Source) string {
	if src.Alias != "" {
		return src.Alias
	}
	return src.CollectionID
}

// wrapAlias nests a raw collection row under its source alias so every
// row flowing through the graph is addressable by dotted alias.field paths
// (e.g. "e.managerId"), uniformly whether the query has one source or many.
func wrapAlias(alias string, row core.Row) core.Row {
	return core.Row{alias: row}
}

// ApplyChangeBatch converts one collection change batch into the multiset
// diff the compiled graph consumes (insert -> +1, delete -> -1, update ->
// -1 of prior then +1 of new) and sends it on h's writer.
func ApplyChangeBatch(h *SourceHandle, batch core.Batch) {
	res := mset.New[core.Tuple]()
	for _, msg := range batch {
		switch msg.Type {
		case core.Insert:
			res.Insert(core.Encode(wrapAlias(h.Alias, msg.Value)), 1)
		case core.Delete:
			res.Insert(core.Encode(wrapAlias(h.Alias, msg.Value)), -1)
		case core.Update:
			if msg.PreviousValue != nil {
				res.Insert(core.Encode(wrapAlias(h.Alias, msg.PreviousValue)), -1)
			}
			res.Insert(core.Encode(wrapAlias(h.Alias, msg.Value)), 1)
		}
	}
	h.Writer.Send(res)
}
