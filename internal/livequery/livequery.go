// Package livequery materializes a compiled query (internal/compiler) as
// a regular Collection (internal/collection): one whose sync driver is the
// query engine itself rather than an external system. Subscribing to one
// of the query's source collections re-runs the compiled graph and mirrors
// whatever it emits into the sink collection as ordinary synced writes.
package livequery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tdbcore/internal/collection"
	"tdbcore/internal/compiler"
	"tdbcore/internal/config"
	"tdbcore/internal/core"
	"tdbcore/internal/dataflow"
	"tdbcore/internal/dlog"
	"tdbcore/internal/index"
	"tdbcore/internal/ir"
	"tdbcore/internal/tdberrors"
)

// SourceProvider resolves a collection id referenced by a query's From or
// Joins into the live Collection a live query should subscribe to.
type SourceProvider func(collectionID string) (*collection.Collection, error)

// Options configures a live query collection.
type Options struct {
	// ID identifies the resulting collection (used for error messages, the
	// $collectionId virtual, and KeyConflictError should a Union collide).
	ID string
	// Query is the compiled query's IR tree.
	Query *ir.Query
	// Sources resolves every alias's backing collection.
	Sources SourceProvider
	// SourceKeyField is the From source's key field name, used by
	// RequireExplicitKeyFunc to decide whether GetKey is mandatory.
	// Defaults to "id".
	SourceKeyField string
	// GetKey overrides key derivation for the query's output rows. Required
	// whenever Select renames or drops SourceKeyField.
	GetKey core.KeyFunc
	// StartSync starts the underlying driver immediately rather than
	// waiting for the first subscriber.
	StartSync bool
	Scheduler config.Scheduler
	GCTime    time.Duration
	Log       *dlog.Logger

	// Indexes resolves a live index over collectionID at the given
	// relative field path, or nil if none exists. When set, the query
	// optimizer (compiler.IndexSeed) uses it to seed each source alias's
	// initial population from a matched key set instead of scanning the
	// whole collection, for any top-level equality/range Where predicate
	// on an indexed path.
	Indexes func(collectionID, path string) *index.Index
	// Advisor records, across every query compiled against it, which
	// unindexed Where paths would benefit from an index (internal/index's
	// dev-mode suggestion feed). Optional.
	Advisor *index.Advisor
}

// New compiles opts.Query and returns the Collection whose derived view is
// that query's live result set.
func New(opts Options) (*collection.Collection, error) {
	if opts.Query == nil {
		return nil, &tdberrors.ContractViolation{Component: "livequery", Detail: "query is required"}
	}
	if opts.Sources == nil {
		return nil, &tdberrors.ContractViolation{Component: "livequery", Detail: "source provider is required"}
	}
	sourceKeyField := opts.SourceKeyField
	if sourceKeyField == "" {
		sourceKeyField = "id"
	}
	if err := compiler.RequireExplicitKeyFunc(opts.Query, sourceKeyField, opts.GetKey); err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = dlog.Nop()
	}
	keyFn := opts.GetKey
	if keyFn == nil {
		keyFn = defaultKeyFunc(sourceKeyField, fromAlias(opts.Query), len(opts.Query.Select) > 0)
	}

	driver := newEngineDriver(opts, keyFn, log)
	sink := collection.New(opts.ID, keyFn, driver, config.Collection{GCTime: opts.GCTime}, log)
	if opts.StartSync {
		if err := sink.StartSyncImmediate(); err != nil {
			return nil, err
		}
	}
	return sink, nil
}

// fromAlias mirrors the compiler's own From-alias resolution: the alias
// name if one is declared, otherwise the bare collection id.
func fromAlias(q *ir.Query) string {
	if q.From.Alias != "" {
		return q.From.Alias
	}
	return q.From.CollectionID
}

// defaultKeyFunc derives a key from sourceKeyField. A query with a
// non-empty Select produces flat, top-level output rows (RequireExplicitKeyFunc
// already guaranteed sourceKeyField passes through under its own name), so
// the field is read directly; a bare passthrough query's rows are still
// nested under the From alias, so the field is read from there instead.
func defaultKeyFunc(sourceKeyField, alias string, hasSelect bool) core.KeyFunc {
	path := core.SplitPath(sourceKeyField)
	if !hasSelect {
		path = core.SplitPath(alias + "." + sourceKeyField)
	}
	return func(r core.Row) (core.Key, error) {
		v, _ := r.Get(path)
		return core.NormalizeKey(v)
	}
}

// newEngineDriver builds the collection.Driver that recompiles and
// resubscribes on every (re)start: a fresh graph and fresh source
// subscriptions per driver instance keeps cleanup trivial (unsubscribe
// everything) and avoids carrying stale operator state across a restart.
//
// The compiled graph's output is routed through a dataflow.BufferOp before
// any subscriber sees it. A multi-source query's sources each deliver
// their own initial snapshot via a separate SubscribeChanges callback, so
// without buffering, the first source's callback would run the graph and
// commit a partially joined result (e.g. a join missing its other side
// entirely) before the remaining sources ever load. Keeping the buffer
// closed for the whole setup loop and flushing it only once every source
// has delivered its initial state turns that into a single coherent
// initial commit; every live update thereafter flushes immediately, so it
// behaves as a plain pass-through once steady state is reached.
func newEngineDriver(opts Options, keyFn core.KeyFunc, log *dlog.Logger) collection.Driver {
	return func(ctx context.Context, sc *collection.SyncContext) (func(), error) {
		handles := compiler.NewSourceStreams(opts.Query)
		graph, out, err := compiler.Compile(opts.Query, handles, keyFn, opts.ID, opts.Scheduler, log)
		if err != nil {
			return nil, err
		}
		bufOp, buffered := dataflow.Buffer(opts.ID+"#buffer", out)
		graph.AddOperator(bufOp)
		reader := buffered.NewReader()

		var unsubs []func()
		cleanup := func() {
			for _, u := range unsubs {
				u()
			}
		}

		initializing := true
		for _, handle := range handles {
			h := handle
			srcCol, err := opts.Sources(h.CollectionID)
			if err != nil {
				cleanup()
				return nil, err
			}

			seeded := seedFromIndex(opts, h, srcCol)
			if opts.Advisor != nil {
				suggestions := opts.Advisor.Observe(h.CollectionID, srcCol.Size(), opts.Query, func(path string) bool {
					return opts.Indexes != nil && opts.Indexes(h.CollectionID, path) != nil
				})
				for _, s := range suggestions {
					log.Warn("index advisor suggestion",
						zap.String("collection", s.CollectionID),
						zap.String("path", s.Path),
						zap.Int("hits", s.Hits))
				}
			}

			unsub := srcCol.SubscribeChanges(func(batch core.Batch) {
				compiler.ApplyChangeBatch(h, batch)
				if err := graph.Run(); err != nil {
					log.Error("live query graph run failed", zap.String("collection", opts.ID), zap.Error(err))
					return
				}
				if initializing {
					return
				}
				bufOp.Flush()
				emit(sc, reader, keyFn, log, opts.ID)
			}, !seeded)
			unsubs = append(unsubs, unsub)
		}

		initializing = false
		if err := graph.Run(); err != nil {
			cleanup()
			return nil, err
		}
		bufOp.Flush()
		emit(sc, reader, keyFn, log, opts.ID)
		sc.MarkReady()

		return cleanup, nil
	}
}

// seedFromIndex resolves an index-backed initial population for h from a
// top-level equality/range Where predicate against one of opts.Indexes, and
// if one exists, feeds exactly those matched rows into h's stream as the
// initial commit instead of a full subscription snapshot. Reports whether
// seeding happened; when it did, the caller must subscribe with
// includeInitialState=false so the full collection isn't also delivered.
func seedFromIndex(opts Options, h *compiler.SourceHandle, srcCol *collection.Collection) bool {
	if opts.Indexes == nil {
		return false
	}
	keys, ok := compiler.IndexSeed(opts.Query, h.Alias, func(path string) *index.Index {
		return opts.Indexes(h.CollectionID, path)
	})
	if !ok {
		return false
	}
	var batch core.Batch
	for _, k := range keys {
		if row, present := srcCol.Get(k); present {
			batch = append(batch, core.ChangeMessage{Type: core.Insert, Key: k, Value: row})
		}
	}
	compiler.ApplyChangeBatch(h, batch)
	return true
}

// emit drains whatever the graph has produced since the last call and
// reports it to the sink collection as a synced commit: positive
// multiplicity entries become inserts, negative ones deletes. The sink's
// own applySyncedBatch upserts on either Insert or Update, so inserts
// suffice for both "new row" and "row changed" — the net effect converges
// to the correct derived state regardless.
func emit(sc *collection.SyncContext, reader *dataflow.Reader, keyFn core.KeyFunc, log *dlog.Logger, id string) {
	sc.Begin()
	wrote := false
	for _, d := range reader.Drain() {
		for _, e := range d.Entries() {
			row := core.Decode(e.Value)
			if _, err := keyFn(row); err != nil {
				log.Error("live query output row has no derivable key", zap.String("collection", id), zap.Error(err))
				continue
			}
			n := e.Multiplicity
			op := collection.WriteOp{Type: core.Insert, Value: row}
			if n < 0 {
				op.Type = core.Delete
				n = -n
			}
			for i := 0; i < n; i++ {
				if err := sc.Write(op); err != nil {
					log.Error("live query sync write failed", zap.String("collection", id), zap.Error(err))
					continue
				}
				wrote = true
			}
		}
	}
	if wrote {
		if err := sc.Commit(); err != nil {
			log.Error("live query sync commit failed", zap.String("collection", id), zap.Error(err))
		}
	}
}
