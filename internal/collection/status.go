// Package collection implements the three-tier (synced, optimistic,
// derived) reactive collection core: a keyed store fed by a sync driver,
// overlaid with local optimistic mutations from internal/txn, and
// broadcast to subscribers as coherent change batches.
package collection

import "tdbcore/internal/tdberrors"

// Status is the collection's lifecycle state: idle -> loading ->
// initialCommit -> ready -> cleaned-up, with error absorbing from any
// state.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusLoading       Status = "loading"
	StatusInitialCommit Status = "initialCommit"
	StatusReady         Status = "ready"
	StatusCleanedUp     Status = "cleaned-up"
	StatusError         Status = "error"
)

// validTransitions enumerates the status machine's edges. error is
// absorbing from every state (checked separately in setStatus), and
// cleaned-up may transition back to loading on a new subscription
// restarting the driver.
var validTransitions = map[Status]map[Status]bool{
	StatusIdle:          {StatusLoading: true},
	StatusLoading:       {StatusInitialCommit: true, StatusReady: true},
	StatusInitialCommit: {StatusReady: true},
	StatusReady:         {StatusCleanedUp: true},
	StatusCleanedUp:     {StatusLoading: true},
}

func canTransition(from, to Status) bool {
	if to == StatusError {
		return true
	}
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// setStatus validates and applies a status transition, recording err when
// transitioning into StatusError. Invalid transitions are a
// ContractViolation: a bug in the collection's own state machine, not a
// user-facing condition.
func (c *Collection) setStatus(to Status, err error) error {
	if !canTransition(c.status, to) {
		return &tdberrors.ContractViolation{
			Component: "collection",
			Detail:    "invalid status transition " + string(c.status) + " -> " + string(to),
		}
	}
	c.status = to
	if to == StatusError {
		c.lastError = err
	}
	return nil
}
