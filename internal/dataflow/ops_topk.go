package dataflow

import (
	"sort"

	"tdbcore/internal/core"
	"tdbcore/internal/mset"
)

// TopKPositionField is the virtual property topK attaches to every row it
// emits, carrying that row's fractional-index rank within its window so a
// consumer can maintain a stably ordered list without resorting on every
// change.
const TopKPositionField = "$position"

// TopKOp maintains, per group, the full member set and emits only the rows
// currently within [offset, offset+limit) of the orderBy order: orderBy +
// limit/offset compiles to a topK operator. Unlike a plain windowed slice,
// every window-resident row carries a fractional
// position key (TopKPositionField) so a row moving one rank doesn't force
// renumbering the rest of the window.
type TopKOp struct {
	name    string
	in      *Reader
	out     *Writer
	groupOf func(core.Row) core.Tuple
	less    func(a, b core.Row) bool
	offset  int
	limit   int

	members map[core.Tuple]map[core.Tuple]*joinRowEntry
	// window holds, per group, the tuple (including its $position) last
	// emitted for each underlying row key, so reconciliation can retract
	// exactly that tuple when the row's rank changes or it leaves the
	// window.
	window map[core.Tuple]map[core.Tuple]core.Tuple
}

// TopK registers a topK operator. limit <= 0 means unbounded (offset still
// applies).
func TopK(name string, in *Stream, groupOf func(core.Row) core.Tuple, less func(a, b core.Row) bool, offset, limit int) (*TopKOp, *Stream) {
	out := NewStream()
	return &TopKOp{
		name:    name,
		in:      in.NewReader(),
		out:     out.NewWriter(),
		groupOf: groupOf,
		less:    less,
		offset:  offset,
		limit:   limit,
		members: map[core.Tuple]map[core.Tuple]*joinRowEntry{},
		window:  map[core.Tuple]map[core.Tuple]core.Tuple{},
	}, out
}

func (t *TopKOp) Name() string { return t.name }

func (t *TopKOp) Step() (bool, error) {
	if !t.in.HasPending() {
		return false, nil
	}
	touched := map[core.Tuple]struct{}{}
	for _, d := range t.in.Drain() {
		for _, e := range d.Entries() {
			row := core.Decode(e.Value)
			group := t.groupOf(row)
			touched[group] = struct{}{}

			bucket, ok := t.members[group]
			if !ok {
				bucket = map[core.Tuple]*joinRowEntry{}
				t.members[group] = bucket
			}
			entry, ok := bucket[e.Value]
			if !ok {
				entry = &joinRowEntry{row: row}
				bucket[e.Value] = entry
			}
			entry.mult += e.Multiplicity
			if entry.mult == 0 {
				delete(bucket, e.Value)
			}
		}
	}

	res := mset.New[core.Tuple]()
	for group := range touched {
		t.reconcileGroup(group, res)
	}
	progressed := !res.IsEmpty()
	t.out.Send(res)
	return progressed, nil
}

func (t *TopKOp) reconcileGroup(group core.Tuple, res *mset.MultiSet[core.Tuple]) {
	bucket := t.members[group]
	prevWindow := t.window[group]

	ordered := make([]core.Tuple, 0, len(bucket))
	rowOf := map[core.Tuple]core.Row{}
	for key, e := range bucket {
		ordered = append(ordered, key)
		rowOf[key] = e.row
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := rowOf[ordered[i]], rowOf[ordered[j]]
		if t.less(a, b) {
			return true
		}
		if t.less(b, a) {
			return false
		}
		return ordered[i] < ordered[j]
	})

	lo := t.offset
	if lo > len(ordered) {
		lo = len(ordered)
	}
	hi := len(ordered)
	if t.limit > 0 && lo+t.limit < hi {
		hi = lo + t.limit
	}
	windowed := ordered[lo:hi]

	positions := t.assignPositions(windowed, prevWindow)
	newWindow := make(map[core.Tuple]core.Tuple, len(windowed))
	for i, rowKey := range windowed {
		positioned := rowOf[rowKey].Clone()
		positioned[TopKPositionField] = positions[i]
		newWindow[rowKey] = core.Encode(positioned)
	}

	for rowKey, newTuple := range newWindow {
		if oldTuple, existed := prevWindow[rowKey]; existed {
			if oldTuple == newTuple {
				continue
			}
			res.Insert(oldTuple, -1)
		}
		res.Insert(newTuple, 1)
	}
	for rowKey, oldTuple := range prevWindow {
		if _, stillIn := newWindow[rowKey]; !stillIn {
			res.Insert(oldTuple, -1)
		}
	}

	if len(bucket) == 0 {
		delete(t.members, group)
	}
	if len(newWindow) == 0 {
		delete(t.window, group)
	} else {
		t.window[group] = newWindow
	}
}

// assignPositions picks windowed's $position keys in order. A row that was
// already present in prevWindow keeps its existing key as long as it still
// sorts strictly after the key assigned to the row before it; only rows new
// to the window, or whose old key no longer fits the new order, get a
// freshly synthesized key. This is what keeps an unmoved row's key stable
// when the window shifts around it — e.g. another row's rank changing
// — instead of renumbering every resident row on every reconcile.
func (t *TopKOp) assignPositions(windowed []core.Tuple, prevWindow map[core.Tuple]core.Tuple) []string {
	positions := make([]string, len(windowed))
	kept := make([]bool, len(windowed))
	last := ""
	for i, rowKey := range windowed {
		old, existed := prevWindow[rowKey]
		if !existed {
			continue
		}
		key, ok := core.Decode(old)[TopKPositionField].(string)
		if !ok || key <= last {
			continue
		}
		positions[i] = key
		kept[i] = true
		last = key
	}

	for i := 0; i < len(windowed); {
		if kept[i] {
			i++
			continue
		}
		j := i
		for j < len(windowed) && !kept[j] {
			j++
		}
		lo := ""
		if i > 0 {
			lo = positions[i-1]
		}
		hi := ""
		if j < len(windowed) {
			hi = positions[j]
		}
		copy(positions[i:j], fractionalFill(lo, hi, j-i))
		i = j
	}
	return positions
}
