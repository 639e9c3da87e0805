package dataflow

import (
	"tdbcore/internal/config"
	"tdbcore/internal/core"
	"tdbcore/internal/dlog"
	"tdbcore/internal/mset"
	"tdbcore/internal/tdberrors"

	"go.uber.org/zap"
)

// Expand produces the rows directly reachable from row in one iteration
// step (e.g. "edges out of this node" for a transitive-closure query).
type Expand func(row core.Row) []core.Row

// IterateOp re-feeds its own expansion into itself until no new tuples
// appear, bounded by cfg.MaxStepsWithoutProgress, a cap scoped here
// rather than at the graph level since only an iterate node can churn
// indefinitely — see operator.go. Membership is
// treated as set-valued (a tuple is either reachable or not) rather than
// multiplicity-preserving: an unbounded relational fixpoint like transitive
// closure has no natural finite multiplicity, so iterate caps presence to
// 0/1 the same way distinct does. Base retractions trigger a full
// recompute of the closure from the surviving seed rows rather than an
// incremental retraction of derived tuples, which is the simplification
// this operator makes explicit in exchange for always staying correct.
type IterateOp struct {
	name   string
	in     *Reader
	out    *Writer
	expand Expand
	cfg    config.Scheduler
	log    *dlog.Logger

	base         map[core.Tuple]int
	lastClosure  map[core.Tuple]struct{}
}

// Iterate registers a fixed-point operator.
func Iterate(name string, in *Stream, expand Expand, cfg config.Scheduler, log *dlog.Logger) (*IterateOp, *Stream) {
	if log == nil {
		log = dlog.Nop()
	}
	out := NewStream()
	return &IterateOp{
		name:        name,
		in:          in.NewReader(),
		out:         out.NewWriter(),
		expand:      expand,
		cfg:         cfg,
		log:         log,
		base:        map[core.Tuple]int{},
		lastClosure: map[core.Tuple]struct{}{},
	}, out
}

func (it *IterateOp) Name() string { return it.name }

func (it *IterateOp) Step() (bool, error) {
	if !it.in.HasPending() {
		return false, nil
	}
	for _, d := range it.in.Drain() {
		for _, e := range d.Entries() {
			total := it.base[e.Value] + e.Multiplicity
			if total == 0 {
				delete(it.base, e.Value)
			} else {
				it.base[e.Value] = total
			}
		}
	}

	closure := map[core.Tuple]struct{}{}
	queue := make([]core.Row, 0, len(it.base))
	for tup := range it.base {
		row := core.Decode(tup)
		closure[tup] = struct{}{}
		queue = append(queue, row)
	}

	stepsWithoutProgress := 0
	steps := 0
	for len(queue) > 0 {
		var next []core.Row
		progressed := false
		for _, row := range queue {
			for _, expanded := range it.expand(row) {
				tup := core.Encode(expanded)
				if _, seen := closure[tup]; seen {
					continue
				}
				closure[tup] = struct{}{}
				next = append(next, expanded)
				progressed = true
			}
		}
		if progressed {
			stepsWithoutProgress = 0
		} else {
			stepsWithoutProgress++
		}
		steps++
		// Two independent caps: stepsWithoutProgress bounds a loop that
		// keeps running but stops discovering anything; steps bounds a
		// loop that keeps discovering
		// something new every pass and would otherwise never terminate
		// (an expand function with no finite fixed point).
		if stepsWithoutProgress >= it.cfg.MaxStepsWithoutProgress || steps >= it.cfg.MaxSteps {
			err := &tdberrors.IterationCapExceeded{
				OperatorName: it.name,
				Steps:        steps,
				Cap:          it.cfg.MaxSteps,
			}
			it.log.Warn("iterate exceeded its iteration cap; truncating closure",
				zap.String("operator", it.name), zap.Error(err))
			break
		}
		queue = next
	}

	res := mset.New[core.Tuple]()
	for tup := range closure {
		if _, had := it.lastClosure[tup]; !had {
			res.Insert(tup, 1)
		}
	}
	for tup := range it.lastClosure {
		if _, still := closure[tup]; !still {
			res.Insert(tup, -1)
		}
	}
	it.lastClosure = closure
	progressed := !res.IsEmpty()
	it.out.Send(res)
	return progressed, nil
}
