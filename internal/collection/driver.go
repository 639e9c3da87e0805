package collection

import (
	"context"

	"tdbcore/internal/core"
	"tdbcore/internal/tdberrors"
)

// WriteOp is one write a driver reports between Begin and Commit: a
// driver instance calls begin(), then a sequence of write({type, value,
// previousValue?}), then commit(). Key is derived from Value via the
// collection's key function; PreviousValue is only meaningful for Update.
type WriteOp struct {
	Type          core.ChangeType
	Value         core.Row
	PreviousValue core.Row
}

// Driver is the function a sync driver implements: start({begin, write,
// commit, markReady, collection}) -> async cleanup. It is called once per
// driver instance (including restarts
// after cleanup); ctx is cancelled when this specific instance is torn
// down. The returned cleanup is invoked exactly once, and may itself take
// time — the collection never assumes it has completed synchronously.
type Driver func(ctx context.Context, sc *SyncContext) (cleanup func(), err error)

// SyncContext is the handle a Driver instance uses to report writes. It is
// scoped to one driver generation: calls made through a stale SyncContext
// (one whose generation has been superseded by a restart) are accepted
// without effect rather than corrupting the newer instance's state, since
// a driver may still have in-flight callbacks racing its own cleanup.
type SyncContext struct {
	collection *Collection
	generation uint64

	pending core.Batch
}

func (sc *SyncContext) stale() bool {
	return sc.collection.generation != sc.generation
}

// Begin starts a new commit batch.
func (sc *SyncContext) Begin() {
	if sc.stale() {
		return
	}
	sc.pending = nil
}

// Write records one change within the currently open batch.
func (sc *SyncContext) Write(op WriteOp) error {
	if sc.stale() {
		return nil
	}
	key, err := sc.collection.keyFunc(op.Value)
	if err != nil {
		return &tdberrors.ValidationError{
			CollectionID: sc.collection.id,
			Issues:       []string{"sync driver write: " + err.Error()},
			Cause:        err,
		}
	}
	sc.pending = append(sc.pending, core.ChangeMessage{
		Type:          op.Type,
		Key:           key,
		Value:         op.Value,
		PreviousValue: op.PreviousValue,
		Metadata:      core.Metadata{Origin: core.OriginRemote, Synced: true},
	})
	return nil
}

// Commit applies every Write since the last Begin atomically to synced
// state and broadcasts the resulting batch to subscribers.
func (sc *SyncContext) Commit() error {
	if sc.stale() {
		return nil
	}
	batch := sc.pending
	sc.pending = nil
	return sc.collection.applySyncedBatch(batch)
}

// MarkReady signals the first commit has landed; preload() unblocks once
// this has been called and the collection reaches quiescence.
func (sc *SyncContext) MarkReady() {
	if sc.stale() {
		return
	}
	sc.collection.markReady()
}
