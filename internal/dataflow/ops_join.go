package dataflow

import (
	"tdbcore/internal/core"
	"tdbcore/internal/mset"
)

// JoinType identifies the outer-join semantics of a JoinOp.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinFull  JoinType = "full"
)

// joinRowEntry is one row held in a side's per-key index, alongside its
// running multiplicity so repeated inserts/deletes of the same row net
// correctly.
type joinRowEntry struct {
	row  core.Row
	mult int
}

// JoinOp is an equi-join keyed by leftKey/rightKey extractors. It
// maintains a multiset index per side, keyed by the join key,
// and — for every key touched by a change — recomputes that key's full
// desired output (the cross product of its two buckets, or synthetic
// null-padded rows for outer joins when one side's bucket is empty) and
// diffs it against what was last emitted for that key, so only the
// touched keys are ever revisited: work proportional to the change, not
// the join's total size.
type JoinOp struct {
	name     string
	left     *Reader
	right    *Reader
	out      *Writer
	leftKey  func(core.Row) core.Tuple
	rightKey func(core.Row) core.Tuple
	joinType JoinType
	combine  func(left, right core.Row) core.Row

	leftIndex  map[core.Tuple]map[core.Tuple]*joinRowEntry
	rightIndex map[core.Tuple]map[core.Tuple]*joinRowEntry
	// emitted remembers, per join key, the multiplicity of every joined
	// output tuple currently emitted downstream, so reconcileKey can emit
	// the minimal delta between what was emitted and what is now desired.
	emitted map[core.Tuple]map[core.Tuple]int
}

// Join registers an equi-join operator.
func Join(name string, left, right *Stream, leftKey, rightKey func(core.Row) core.Tuple, joinType JoinType, combine func(left, right core.Row) core.Row) (*JoinOp, *Stream) {
	out := NewStream()
	return &JoinOp{
		name:       name,
		left:       left.NewReader(),
		right:      right.NewReader(),
		out:        out.NewWriter(),
		leftKey:    leftKey,
		rightKey:   rightKey,
		joinType:   joinType,
		combine:    combine,
		leftIndex:  map[core.Tuple]map[core.Tuple]*joinRowEntry{},
		rightIndex: map[core.Tuple]map[core.Tuple]*joinRowEntry{},
		emitted:    map[core.Tuple]map[core.Tuple]int{},
	}, out
}

func (j *JoinOp) Name() string { return j.name }

func (j *JoinOp) Step() (bool, error) {
	touched := map[core.Tuple]struct{}{}
	if j.left.HasPending() {
		for _, d := range j.left.Drain() {
			j.applySide(d, true, touched)
		}
	}
	if j.right.HasPending() {
		for _, d := range j.right.Drain() {
			j.applySide(d, false, touched)
		}
	}
	if len(touched) == 0 {
		return false, nil
	}
	res := mset.New[core.Tuple]()
	for key := range touched {
		j.reconcileKey(key, res)
	}
	progressed := !res.IsEmpty()
	j.out.Send(res)
	return progressed, nil
}

func (j *JoinOp) applySide(d Diff, isLeft bool, touched map[core.Tuple]struct{}) {
	index := j.leftIndex
	keyOf := j.leftKey
	if !isLeft {
		index = j.rightIndex
		keyOf = j.rightKey
	}
	for _, e := range d.Entries() {
		row := core.Decode(e.Value)
		key := keyOf(row)
		touched[key] = struct{}{}

		bucket, ok := index[key]
		if !ok {
			bucket = map[core.Tuple]*joinRowEntry{}
			index[key] = bucket
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
		if len(bucket) == 0 {
			delete(index, key)
		}
	}
}

// reconcileKey recomputes the fully desired output multiset for key and
// emits whatever delta is needed to move from what was last emitted to
// that desired state.
func (j *JoinOp) reconcileKey(key core.Tuple, res *mset.MultiSet[core.Tuple]) {
	leftBucket := j.leftIndex[key]
	rightBucket := j.rightIndex[key]

	desired := map[core.Tuple]int{}
	switch {
	case len(leftBucket) > 0 && len(rightBucket) > 0:
		for _, le := range leftBucket {
			for _, re := range rightBucket {
				desired[core.Encode(j.combine(le.row, re.row))] += le.mult * re.mult
			}
		}
	case len(leftBucket) > 0 && len(rightBucket) == 0:
		if j.joinType == JoinLeft || j.joinType == JoinFull {
			for _, le := range leftBucket {
				desired[core.Encode(j.combine(le.row, nil))] += le.mult
			}
		}
	case len(leftBucket) == 0 && len(rightBucket) > 0:
		if j.joinType == JoinRight || j.joinType == JoinFull {
			for _, re := range rightBucket {
				desired[core.Encode(j.combine(nil, re.row))] += re.mult
			}
		}
	}

	prev := j.emitted[key]
	for tuple, want := range desired {
		have := prev[tuple]
		if delta := want - have; delta != 0 {
			res.Insert(tuple, delta)
		}
	}
	for tuple, have := range prev {
		if _, stillWanted := desired[tuple]; !stillWanted && have != 0 {
			res.Insert(tuple, -have)
		}
	}

	if len(desired) == 0 {
		delete(j.emitted, key)
	} else {
		j.emitted[key] = desired
	}
}
