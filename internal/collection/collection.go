package collection

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tdbcore/internal/config"
	"tdbcore/internal/core"
	"tdbcore/internal/dlog"
	"tdbcore/internal/tdberrors"
)

// Subscriber is a change-subscription callback registered through
// SubscribeChanges. Batches are delivered in commit order and are never
// partial for a given commit.
type Subscriber func(batch core.Batch)

// Collection is the three-tier reactive store: synced state from a sync
// driver, an optimistic overlay from in-flight transactions (applied
// in-process by internal/txn via ApplyOptimistic/RetireOverlay/
// RollbackOverlay), and the derived view the two combine into. Grounded on
// internal/core/validate.go's staged pipeline (run an ordered sequence of
// steps, bail/flag on the first rejection) for the commit/subscriber fan-out
// shape, and internal/core/schema.go's name-keyed Database/Table modeling
// for the keyed store itself.
type Collection struct {
	mu sync.Mutex

	id      string
	keyFunc core.KeyFunc
	cfg     config.Collection
	log     *dlog.Logger

	status    Status
	lastError error

	synced    map[core.Key]core.Row
	order     []core.Key
	overlay   []*overlayTxn
	subs      map[int]subEntry
	nextSubID int

	driver         Driver
	generation     uint64
	activeInstance *syncInstance
	readyCh        chan struct{}
	readyOnce      bool

	gcTimer *time.Timer
}

type subEntry struct {
	fn Subscriber
}

type syncInstance struct {
	generation uint64
	cancel     context.CancelFunc
	cleanup    func()
}

// New constructs a Collection bound to driver, keyed by keyFunc. The
// driver does not start until preload() or startSyncImmediate() is
// called.
func New(id string, keyFunc core.KeyFunc, driver Driver, cfg config.Collection, log *dlog.Logger) *Collection {
	if log == nil {
		log = dlog.Nop()
	}
	return &Collection{
		id:      id,
		keyFunc: keyFunc,
		driver:  driver,
		cfg:     cfg,
		log:     log,
		status:  StatusIdle,
		synced:  map[core.Key]core.Row{},
		subs:    map[int]subEntry{},
		readyCh: make(chan struct{}),
	}
}

// ID returns the collection's identifier, used in error messages and as
// the $collectionId virtual.
func (c *Collection) ID() string { return c.id }

// KeyFunc exposes the collection's key function so internal/txn can derive
// keys for values it is about to mutate through.
func (c *Collection) KeyFunc() core.KeyFunc { return c.keyFunc }

// Status reports the collection's current lifecycle state.
func (c *Collection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError reports the error that drove the collection into StatusError,
// if any.
func (c *Collection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Get returns the derived value for key: synced state with every
// transaction's overlay folded in, latest transaction winning per key.
func (c *Collection) Get(key core.Key) (core.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.derivedLocked(key)
}

// Has reports whether key is present in the derived view.
func (c *Collection) Has(key core.Key) bool {
	_, ok := c.Get(key)
	return ok
}

// Size returns the number of distinct keys in the derived view.
func (c *Collection) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.derivedKeysLocked())
}

// Keys returns every key currently in the derived view, in insertion
// order (synced insertion order, with keys optimistic-only trailing in
// the order their owning transaction introduced them).
func (c *Collection) Keys() []core.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.derivedKeysLocked()
}

// FindOne returns the first row of the derived view in Keys order, or
// false if the collection is empty. This is the single-result convenience
// form every collection supports, live query or not: a live query compiled
// with limit(1) is still a regular Collection underneath, so FindOne gives
// its caller the "first value of the result set" shape without fetching
// Keys and Get separately.
func (c *Collection) FindOne() (core.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.derivedKeysLocked() {
		if row, ok := c.derivedLocked(k); ok {
			return row, true
		}
	}
	return nil, false
}

func (c *Collection) derivedKeysLocked() []core.Key {
	seen := map[core.Key]bool{}
	var out []core.Key
	for _, k := range c.order {
		if _, ok := c.derivedLocked(k); ok {
			out = append(out, k)
		}
		seen[k] = true
	}
	var extra []core.Key
	for _, txn := range c.overlay {
		for _, m := range txn.mutations {
			if !seen[m.key] {
				seen[m.key] = true
				extra = append(extra, m.key)
			}
		}
	}
	for _, k := range extra {
		if _, ok := c.derivedLocked(k); ok {
			out = append(out, k)
		}
	}
	return out
}

// derivedLocked folds synced state with every transaction's overlay for
// key, latest transaction winning, and must be called with mu held. A row
// carrying an optimistic overlay is always $synced=false/$origin=local
// until the overlay retires, since that overlay is this collection's own
// unconfirmed write. A row untouched by any overlay defaults to
// $synced=true/$origin=remote, unless the synced value itself already
// carries explicit $synced/$origin (a live query's joined/grouped row,
// stamped by the compiler's virtual-aggregation step with the provenance
// folded from its own contributing sources) — that upstream signal is
// preserved rather than overwritten, since this collection itself is not
// the row's origin.
func (c *Collection) derivedLocked(key core.Key) (core.Row, bool) {
	row, present := c.synced[key]
	fromOverlay := false
	for _, txn := range c.overlay {
		for _, m := range txn.mutations {
			if m.key != key {
				continue
			}
			fromOverlay = true
			switch m.change.Type {
			case core.Delete:
				present = false
				row = nil
			default:
				present = true
				row = m.change.Value
			}
		}
	}
	if !present {
		return nil, false
	}
	synced := true
	origin := core.OriginRemote
	switch {
	case fromOverlay:
		synced = false
		origin = core.OriginLocal
	default:
		if s, hasS := row[core.VSynced].(bool); hasS {
			synced = s
		}
		if o, hasO := row[core.VOrigin].(string); hasO {
			origin = core.Origin(o)
		}
	}
	return core.EnsureVirtuals(row, key, c.id, synced, origin), true
}

// SubscribeChanges registers cb for every future coherent change batch. If
// includeInitialState is true, cb is invoked once immediately with the
// current derived state expressed as a batch of inserts before the first
// live batch it will ever see. The returned function unsubscribes; the
// collection schedules cleanup() after cfg.GCTime once the last subscriber
// unsubscribes.
func (c *Collection) SubscribeChanges(cb Subscriber, includeInitialState bool) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = subEntry{fn: cb}
	if c.gcTimer != nil {
		c.gcTimer.Stop()
		c.gcTimer = nil
	}
	var initial core.Batch
	if includeInitialState {
		for _, k := range c.derivedKeysLocked() {
			row, ok := c.derivedLocked(k)
			if !ok {
				continue
			}
			initial = append(initial, core.ChangeMessage{Type: core.Insert, Key: k, Value: row})
		}
	}
	needsRestart := c.status == StatusCleanedUp
	c.mu.Unlock()

	if len(initial) > 0 {
		cb(initial)
	}
	if needsRestart {
		_ = c.startSyncImmediate()
	}

	return func() { c.unsubscribe(id) }
}

func (c *Collection) unsubscribe(id int) {
	c.mu.Lock()
	delete(c.subs, id)
	empty := len(c.subs) == 0
	var gcTime time.Duration
	if empty {
		gcTime = c.cfg.GCTime
	}
	c.mu.Unlock()
	if empty {
		c.scheduleGC(gcTime)
	}
}

func (c *Collection) scheduleGC(after time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) != 0 {
		return
	}
	if c.gcTimer != nil {
		c.gcTimer.Stop()
	}
	c.gcTimer = time.AfterFunc(after, c.cleanupIfStillIdle)
}

func (c *Collection) cleanupIfStillIdle() {
	c.mu.Lock()
	empty := len(c.subs) == 0
	c.mu.Unlock()
	if empty {
		c.Cleanup()
	}
}

// broadcast delivers batch to every current subscriber, in registration
// order, as one coherent delivery.
func (c *Collection) broadcast(batch core.Batch) {
	c.mu.Lock()
	subs := make([]Subscriber, 0, len(c.subs))
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, c.subs[id].fn)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s(batch)
	}
}

// applySyncedBatch atomically applies batch to synced state and
// broadcasts it, transitioning idle/loading into initialCommit on the
// first commit. The broadcast batch is re-stamped with each row's
// post-overlay $synced/$origin (same as derivedLocked/Get) rather than the
// driver's raw values, so every subscriber — including a live query's
// source subscription — sees accurate provenance on every delivery, not
// only the initial snapshot.
func (c *Collection) applySyncedBatch(batch core.Batch) error {
	c.mu.Lock()
	for _, msg := range batch {
		switch msg.Type {
		case core.Insert, core.Update:
			if _, existed := c.synced[msg.Key]; !existed {
				c.order = append(c.order, msg.Key)
			}
			c.synced[msg.Key] = msg.Value
		case core.Delete:
			delete(c.synced, msg.Key)
			c.order = removeKey(c.order, msg.Key)
		}
	}
	if c.status == StatusLoading {
		_ = c.setStatus(StatusInitialCommit, nil)
	}
	c.reconcileAwaitingOverlaysLocked(batch)

	stamped := make(core.Batch, len(batch))
	for i, msg := range batch {
		if msg.Type == core.Delete {
			msg.Value = core.EnsureVirtuals(msg.Value, msg.Key, c.id, true, core.OriginRemote)
			stamped[i] = msg
			continue
		}
		if row, ok := c.derivedLocked(msg.Key); ok {
			msg.Value = row
		}
		stamped[i] = msg
	}
	c.mu.Unlock()
	if len(stamped) > 0 {
		c.broadcast(stamped)
	}
	return nil
}

// reconcileAwaitingOverlaysLocked implements the decided confirmation
// policy for awaiting-confirmation overlays: a transaction's mutation
// retires once a synced write lands for the same key with a deep-equal
// value, not merely on any write touching the key. Called with mu held.
func (c *Collection) reconcileAwaitingOverlaysLocked(batch core.Batch) {
	var empty []string
	for _, txn := range c.overlay {
		if !txn.awaitingConfirmation {
			continue
		}
		var remaining []overlayMutation
		for _, m := range txn.mutations {
			confirmed := false
			for _, msg := range batch {
				if msg.Key == m.key && reflect.DeepEqual(msg.Value, m.change.Value) {
					confirmed = true
					break
				}
			}
			if !confirmed {
				remaining = append(remaining, m)
			}
		}
		txn.mutations = remaining
		if len(remaining) == 0 {
			empty = append(empty, txn.id)
		}
	}
	for _, id := range empty {
		c.overlay = removeOverlay(c.overlay, id)
	}
}

// MarkOverlayAwaitingConfirmation flags txnID's overlay (if present) as
// awaiting sync confirmation: its mutations retire individually as
// matching synced writes arrive, rather than all at once.
func (c *Collection) MarkOverlayAwaitingConfirmation(txnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.overlay {
		if t.id == txnID {
			t.awaitingConfirmation = true
		}
	}
}

func removeKey(order []core.Key, key core.Key) []core.Key {
	for i, k := range order {
		if k == key {
			return append(order[:i:i], order[i+1:]...)
		}
	}
	return order
}

func (c *Collection) markReady() {
	c.mu.Lock()
	if c.status == StatusLoading || c.status == StatusInitialCommit {
		_ = c.setStatus(StatusReady, nil)
	}
	alreadyClosed := c.readyOnce
	if !alreadyClosed {
		c.readyOnce = true
	}
	ch := c.readyCh
	c.mu.Unlock()
	if !alreadyClosed {
		close(ch)
	}
}

// Preload starts the sync driver if not already started and blocks until
// markReady() has been called once, or ctx is cancelled, or the
// collection transitions to error.
func (c *Collection) Preload(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusIdle {
		c.mu.Unlock()
		if err := c.startSyncImmediate(); err != nil {
			return err
		}
		c.mu.Lock()
	}
	ch := c.readyCh
	c.mu.Unlock()

	select {
	case <-ch:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.status == StatusError {
			return c.lastError
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartSyncImmediate starts (or restarts) the driver without waiting for
// markReady, for callers that only need the sync loop running.
func (c *Collection) StartSyncImmediate() error {
	return c.startSyncImmediate()
}

func (c *Collection) startSyncImmediate() error {
	c.mu.Lock()
	if c.driver == nil {
		c.mu.Unlock()
		return &tdberrors.ContractViolation{Component: "collection", Detail: "no sync driver configured"}
	}
	if err := c.setStatus(StatusLoading, nil); err != nil {
		c.mu.Unlock()
		return err
	}
	c.generation++
	gen := c.generation
	c.readyCh = make(chan struct{})
	c.readyOnce = false
	ctx, cancel := context.WithCancel(context.Background())
	inst := &syncInstance{generation: gen, cancel: cancel}
	c.activeInstance = inst
	driver := c.driver
	c.mu.Unlock()

	sc := &SyncContext{collection: c, generation: gen}
	cleanupFn, err := driver(ctx, sc)
	if err != nil {
		c.mu.Lock()
		_ = c.setStatus(StatusError, &tdberrors.SyncDriverError{CollectionID: c.id, Cause: err})
		c.mu.Unlock()
		c.log.Error("sync driver failed to start", zap.String("collection", c.id), zap.Error(err))
		return err
	}
	c.mu.Lock()
	inst.cleanup = cleanupFn
	c.mu.Unlock()
	return nil
}

// Cleanup transitions the collection to cleaned-up immediately (so a new
// subscription can restart it right away) and cancels + tears down the
// active driver instance in the background. The instance's cleanup is
// scoped by identity: if a restart races ahead of a still-in-flight
// cleanup, the stale cleanup resolving later only clears its own
// instance's bookkeeping, never a newer instance's: a stale cleanup must
// not cancel the new instance's work.
func (c *Collection) Cleanup() {
	c.mu.Lock()
	inst := c.activeInstance
	_ = c.setStatus(StatusCleanedUp, nil)
	c.mu.Unlock()
	if inst == nil {
		return
	}
	inst.cancel()
	go func() {
		if inst.cleanup != nil {
			inst.cleanup()
		}
		c.mu.Lock()
		if c.activeInstance == inst {
			c.activeInstance = nil
		}
		c.mu.Unlock()
	}()
}

// SetDriver installs driver, used by constructors in internal/livequery and
// internal/syncdrivers that build the Collection before the driver closure
// (which may capture the Collection itself) exists.
func (c *Collection) SetDriver(driver Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.driver = driver
}
