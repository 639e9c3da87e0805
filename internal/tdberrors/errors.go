// Package tdberrors defines the system's typed error kinds. User
// callback failures (evaluators, key functions, mutation functions) are
// captured at the boundary where they are invoked and re-wrapped into one
// of these kinds with the original cause attached; they are never silently
// swallowed.
package tdberrors

import "fmt"

// ValidationError reports that a schema validator rejected a value before
// the optimistic overlay was mutated. Surfaced synchronously from the
// mutate call.
type ValidationError struct {
	CollectionID string
	Issues       []string
	Cause        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tdbcore: validation failed for collection %q: %v", e.CollectionID, e.Issues)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// KeyConflictError reports a duplicate key surfacing at runtime, most
// commonly from a Union whose sources were supposed to have disjoint keys.
type KeyConflictError struct {
	CollectionID string
	Key          string
}

func (e *KeyConflictError) Error() string {
	return fmt.Sprintf("tdbcore: duplicate key %q in collection %q", e.Key, e.CollectionID)
}

// SyncDriverError wraps a panic or returned error from a sync driver's
// start/commit lifecycle.
type SyncDriverError struct {
	CollectionID string
	Cause        error
}

func (e *SyncDriverError) Error() string {
	return fmt.Sprintf("tdbcore: sync driver for collection %q failed: %v", e.CollectionID, e.Cause)
}

func (e *SyncDriverError) Unwrap() error { return e.Cause }

// GraphError wraps an operator evaluator panic or error, surfaced to the
// live query collection as a status transition to error.
type GraphError struct {
	OperatorName string
	Cause        error
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("tdbcore: dataflow operator %q failed: %v", e.OperatorName, e.Cause)
}

func (e *GraphError) Unwrap() error { return e.Cause }

// PersistenceError wraps a rejected mutationFn. The owning transaction
// transitions to failed and its overlay rolls back.
type PersistenceError struct {
	TransactionID string
	Cause         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("tdbcore: persistence failed for transaction %s: %v", e.TransactionID, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// IterationCapExceeded reports that the scheduler truncated a fixpoint
// (iterate operator) after exceeding its configured step budget. It is
// logged as a structured warning, not returned as a hard failure — the
// graph remains live and keeps its best-effort partial result.
type IterationCapExceeded struct {
	OperatorName string
	Steps        int
	Cap          int
}

func (e *IterationCapExceeded) Error() string {
	return fmt.Sprintf("tdbcore: operator %q exceeded its iteration cap (%d/%d steps); truncating", e.OperatorName, e.Steps, e.Cap)
}

// ContractViolation reports an internal invariant check (precondition,
// postcondition, or invariant) that failed. It is distinct from the user-
// facing error kinds above: it signals a bug in tdbcore itself or in a
// collaborator's use of its contract (e.g. compiling a query whose Select
// renames the key field without supplying an explicit getKey).
type ContractViolation struct {
	Component string
	Detail    string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("tdbcore: contract violation in %s: %s", e.Component, e.Detail)
}
