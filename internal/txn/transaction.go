// Package txn implements the optimistic mutation & transaction manager:
// user mutations are recorded into an ordered, per-transaction mutation
// list and applied immediately to the optimistic overlay of their target
// collections (internal/collection), then reconciled against persistence
// through a user-supplied mutationFn.
package txn

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"tdbcore/internal/collection"
	"tdbcore/internal/core"
	"tdbcore/internal/tdberrors"
)

// Status is a transaction's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitting Status = "committing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MutationFn persists a transaction's recorded mutations. Its error, if
// any, becomes the transaction's failure cause: mutationFn errors are
// surfaced as transaction failure, and retries are the caller's
// responsibility.
type MutationFn func(ctx context.Context, tx *Transaction) error

// Transaction is the handle createTransaction/Collection mutation calls
// return. Mutations recorded through Insert/Update/Delete are applied to
// their target collection's optimistic overlay immediately, in the order
// recorded; Commit decides whether they become durable.
type Transaction struct {
	mu sync.Mutex

	ID         string
	autoCommit bool
	mutationFn MutationFn

	status Status
	err    error

	touched    []*collection.Collection
	touchedSet map[string]bool
}

// New creates a pending transaction. mutationFn may be nil for a
// transaction whose mutations are reconciled entirely through
// AcceptMutations (the persistence-adapter escape hatch).
func New(autoCommit bool, mutationFn MutationFn) *Transaction {
	return &Transaction{
		ID:         uuid.NewString(),
		autoCommit: autoCommit,
		mutationFn: mutationFn,
		status:     StatusPending,
		touchedSet: map[string]bool{},
	}
}

// Status reports the transaction's current lifecycle state.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err reports the cause of a failed transaction, nil otherwise.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Mutate runs fn with this transaction, then auto-commits if the
// transaction was created with autoCommit (the sugar Collection's own
// insert/update/delete use internally to wrap a single mutation in its
// own throwaway transaction).
func (t *Transaction) Mutate(ctx context.Context, fn func(tx *Transaction)) error {
	fn(t)
	if t.autoCommit {
		return t.Commit(ctx)
	}
	return nil
}

// Insert records an insert against col, applying it to col's optimistic
// overlay immediately.
func (t *Transaction) Insert(col *collection.Collection, value core.Row) error {
	key, err := col.KeyFunc()(value)
	if err != nil {
		return err
	}
	return t.record(col, core.ChangeMessage{Type: core.Insert, Key: key, Value: value})
}

// Update records an update against col: mutate receives a clone of the
// key's current derived value and returns the value to write.
func (t *Transaction) Update(col *collection.Collection, key core.Key, mutate func(core.Row) core.Row) error {
	current, ok := col.Get(key)
	if !ok {
		return &tdberrors.ContractViolation{
			Component: "txn",
			Detail:    "update of missing key " + string(key) + " in collection " + col.ID(),
		}
	}
	next := mutate(current.Clone())
	return t.record(col, core.ChangeMessage{Type: core.Update, Key: key, Value: next, PreviousValue: current})
}

// Delete records a delete against col.
func (t *Transaction) Delete(col *collection.Collection, key core.Key) error {
	current, ok := col.Get(key)
	if !ok {
		return &tdberrors.ContractViolation{
			Component: "txn",
			Detail:    "delete of missing key " + string(key) + " in collection " + col.ID(),
		}
	}
	return t.record(col, core.ChangeMessage{Type: core.Delete, Key: key, Value: current})
}

func (t *Transaction) record(col *collection.Collection, msg core.ChangeMessage) error {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return &tdberrors.ContractViolation{
			Component: "txn",
			Detail:    "transaction " + t.ID + " is no longer pending",
		}
	}
	if !t.touchedSet[col.ID()] {
		t.touchedSet[col.ID()] = true
		t.touched = append(t.touched, col)
	}
	t.mu.Unlock()
	col.ApplyOptimistic(t.ID, []core.ChangeMessage{msg})
	return nil
}

// Commit invokes mutationFn (if any) with this transaction. On success the
// transaction is marked completed and every touched collection's overlay
// is flagged as awaiting sync confirmation — see internal/collection's
// reconcileAwaitingOverlaysLocked for the decided confirmation policy.
// On failure the overlay rolls back and a PersistenceError is returned.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return &tdberrors.ContractViolation{
			Component: "txn",
			Detail:    "transaction " + t.ID + " already committed",
		}
	}
	t.status = StatusCommitting
	fn := t.mutationFn
	touched := append([]*collection.Collection(nil), t.touched...)
	t.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, t); err != nil {
			t.mu.Lock()
			t.status = StatusFailed
			t.err = err
			t.mu.Unlock()
			for _, col := range touched {
				col.RollbackOverlay(t.ID)
			}
			return &tdberrors.PersistenceError{TransactionID: t.ID, Cause: err}
		}
	}

	t.mu.Lock()
	t.status = StatusCompleted
	t.mu.Unlock()
	for _, col := range touched {
		col.MarkOverlayAwaitingConfirmation(t.ID)
	}
	return nil
}

// AcceptMutations lets a persistence adapter treat this transaction's
// mutations as already durable without invoking mutationFn: overlays
// retire immediately rather than waiting for a matching synced write.
func (t *Transaction) AcceptMutations() error {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return &tdberrors.ContractViolation{
			Component: "txn",
			Detail:    "transaction " + t.ID + " is no longer pending",
		}
	}
	t.status = StatusCompleted
	touched := append([]*collection.Collection(nil), t.touched...)
	t.mu.Unlock()
	for _, col := range touched {
		col.RetireOverlay(t.ID)
	}
	return nil
}
