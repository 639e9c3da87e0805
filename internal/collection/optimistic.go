package collection

import "tdbcore/internal/core"

// overlayMutation is one ordered write recorded against a transaction,
// scoped to a single key.
type overlayMutation struct {
	key    core.Key
	change core.ChangeMessage
}

// overlayTxn is one transaction's ordered mutation list as seen by the
// collection it targets. internal/txn owns transaction lifecycle;
// Collection only needs enough to fold, order, and retract overlays.
type overlayTxn struct {
	id                   string
	mutations            []overlayMutation
	awaitingConfirmation bool
}

// ApplyOptimistic records txnID's mutations against this collection's
// overlay, applying them immediately to the derived view, and broadcasts
// the resulting derived-view changes. If txnID already has an
// overlay entry, the new mutations are appended to its existing ordered
// list rather than replacing it, preserving within-transaction ordering
// across multiple mutate() calls.
func (c *Collection) ApplyOptimistic(txnID string, changes []core.ChangeMessage) {
	c.mu.Lock()
	var batch core.Batch
	txn := c.findOrCreateOverlayLocked(txnID)
	for _, ch := range changes {
		before, hadBefore := c.derivedLocked(ch.Key)
		txn.mutations = append(txn.mutations, overlayMutation{key: ch.Key, change: ch})
		after, hasAfter := c.derivedLocked(ch.Key)
		if !hadBefore && !hasAfter {
			continue
		}
		batch = append(batch, deriveChangeMessage(ch.Key, before, hadBefore, after, hasAfter))
	}
	c.mu.Unlock()
	if len(batch) > 0 {
		c.broadcast(batch)
	}
}

func (c *Collection) findOrCreateOverlayLocked(txnID string) *overlayTxn {
	for _, txn := range c.overlay {
		if txn.id == txnID {
			return txn
		}
	}
	txn := &overlayTxn{id: txnID}
	c.overlay = append(c.overlay, txn)
	return txn
}

// RetireOverlay drops txnID's overlay entirely without emitting further
// change messages: its effect is expected to already be reflected in
// synced state (the sync driver has confirmed it), so derived state is
// unchanged by the retirement itself.
func (c *Collection) RetireOverlay(txnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlay = removeOverlay(c.overlay, txnID)
}

// RollbackOverlay removes txnID's overlay and broadcasts whatever change
// in the derived view that removal causes — keys this transaction
// introduced disappear (or revert to whatever the remaining overlay stack
// supplies), coherently in one batch: on rollback, the remaining stack
// re-applies.
func (c *Collection) RollbackOverlay(txnID string) {
	c.mu.Lock()
	var txn *overlayTxn
	for _, t := range c.overlay {
		if t.id == txnID {
			txn = t
			break
		}
	}
	if txn == nil {
		c.mu.Unlock()
		return
	}
	touched := map[core.Key]core.Row{}
	touchedPresent := map[core.Key]bool{}
	for _, m := range txn.mutations {
		if _, ok := touched[m.key]; !ok {
			row, ok := c.derivedLocked(m.key)
			touched[m.key] = row
			touchedPresent[m.key] = ok
		}
	}
	c.overlay = removeOverlay(c.overlay, txnID)
	var batch core.Batch
	for key, before := range touched {
		after, hasAfter := c.derivedLocked(key)
		if !touchedPresent[key] && !hasAfter {
			continue
		}
		batch = append(batch, deriveChangeMessage(key, before, touchedPresent[key], after, hasAfter))
	}
	c.mu.Unlock()
	if len(batch) > 0 {
		c.broadcast(batch)
	}
}

func removeOverlay(overlay []*overlayTxn, txnID string) []*overlayTxn {
	out := overlay[:0:0]
	for _, t := range overlay {
		if t.id != txnID {
			out = append(out, t)
		}
	}
	return out
}

// deriveChangeMessage converts a before/after pair of the derived view for
// one key into the single change message that represents the net effect,
// matching whichever of insert/update/delete actually happened.
func deriveChangeMessage(key core.Key, before core.Row, hadBefore bool, after core.Row, hasAfter bool) core.ChangeMessage {
	switch {
	case !hadBefore && hasAfter:
		return core.ChangeMessage{Type: core.Insert, Key: key, Value: after}
	case hadBefore && !hasAfter:
		return core.ChangeMessage{Type: core.Delete, Key: key, Value: before}
	default:
		return core.ChangeMessage{Type: core.Update, Key: key, Value: after, PreviousValue: before}
	}
}
