package compiler

import (
	"tdbcore/internal/core"
	"tdbcore/internal/dataflow"
	"tdbcore/internal/mset"
	"tdbcore/internal/tdberrors"
)

// unionGuardOp merges several branch streams like dataflow.Concat, but
// additionally tracks each row's business key (via keyFn) per branch and
// fails the step with a KeyConflictError the moment two distinct branches
// both have positive presence for the same key: a duplicate key appearing
// across branches at runtime is an error, not a silent merge.
type unionGuardOp struct {
	name         string
	collectionID string
	ins          []*dataflow.Reader
	out          *dataflow.Writer
	keyFn        core.KeyFunc

	// presence[key][branch] is that branch's running multiplicity for key.
	presence map[core.Key]map[int]int
}

func newUnionGuard(name, collectionID string, keyFn core.KeyFunc, branches ...*dataflow.Stream) (*unionGuardOp, *dataflow.Stream) {
	readers := make([]*dataflow.Reader, len(branches))
	for i, b := range branches {
		readers[i] = b.NewReader()
	}
	out := dataflow.NewStream()
	return &unionGuardOp{
		name:         name,
		collectionID: collectionID,
		ins:          readers,
		out:          out.NewWriter(),
		keyFn:        keyFn,
		presence:     map[core.Key]map[int]int{},
	}, out
}

func (u *unionGuardOp) Name() string { return u.name }

func (u *unionGuardOp) Step() (bool, error) {
	type incoming struct {
		branch int
		tuple  core.Tuple
		mult   int
	}
	var incomings []incoming
	for i, r := range u.ins {
		if !r.HasPending() {
			continue
		}
		for _, d := range r.Drain() {
			for _, e := range d.Entries() {
				incomings = append(incomings, incoming{branch: i, tuple: e.Value, mult: e.Multiplicity})
			}
		}
	}
	if len(incomings) == 0 {
		return false, nil
	}

	touched := map[core.Key]struct{}{}
	for _, inc := range incomings {
		key, err := u.keyFn(core.Decode(inc.tuple))
		if err != nil {
			return false, err
		}
		bucket, ok := u.presence[key]
		if !ok {
			bucket = map[int]int{}
			u.presence[key] = bucket
		}
		bucket[inc.branch] += inc.mult
		if bucket[inc.branch] == 0 {
			delete(bucket, inc.branch)
		}
		touched[key] = struct{}{}
	}

	for key := range touched {
		bucket := u.presence[key]
		active := 0
		for _, m := range bucket {
			if m > 0 {
				active++
			}
		}
		if active > 1 {
			return false, &tdberrors.KeyConflictError{CollectionID: u.collectionID, Key: string(key)}
		}
		if len(bucket) == 0 {
			delete(u.presence, key)
		}
	}

	res := mset.New[core.Tuple]()
	for _, inc := range incomings {
		res.Insert(inc.tuple, inc.mult)
	}
	progressed := !res.IsEmpty()
	u.out.Send(res)
	return progressed, nil
}
