package dataflow

import (
	"tdbcore/internal/config"
	"tdbcore/internal/dlog"
	"tdbcore/internal/tdberrors"

	"go.uber.org/zap"
)

// Operator is a single dataflow node. Step is invoked by the scheduler; it
// must not block, drains whatever is pending on its input readers, and
// reports whether it did any work so the
// scheduler can detect quiescence.
type Operator interface {
	Name() string
	Step() (progressed bool, err error)
}

// Graph owns a DAG of operators and drives them to quiescence. The
// topology is acyclic except through explicit iterate nodes; Graph itself
// does not enforce acyclicity (that is a compiler-time concern), it only
// bounds runaway execution.
type Graph struct {
	operators []Operator
	cfg       config.Scheduler
	log       *dlog.Logger
}

// NewGraph creates an empty graph governed by cfg's iteration caps.
func NewGraph(cfg config.Scheduler, log *dlog.Logger) *Graph {
	if log == nil {
		log = dlog.Nop()
	}
	return &Graph{cfg: cfg, log: log}
}

// AddOperator registers op with the graph. Order only affects which
// operators get a chance to run first within a single scheduler pass; it
// has no effect on the computed result once the graph reaches quiescence.
func (g *Graph) AddOperator(op Operator) {
	g.operators = append(g.operators, op)
}

// OperatorNames returns every registered operator's Name(), in
// registration order — the compiled pipeline's shape, read back for
// diagnostics (e.g. an explain command).
func (g *Graph) OperatorNames() []string {
	names := make([]string, len(g.operators))
	for i, op := range g.operators {
		names[i] = op.Name()
	}
	return names
}

// Run drives every registered operator until a full pass emits nothing new
// anywhere (quiescence), or until the hard MaxSteps safety cap is hit. A
// cap hit is not a graph failure: it is classified as IterationCapExceeded,
// a structured warning with the graph's partial results kept and the graph
// left live. The second cap (steps without state change) bounds a single
// iterate operator's internal
// fixed-point loop specifically (see ops_iterate.go) rather than the whole
// graph, since a normal acyclic pipeline always reaches quiescence in a
// handful of passes and only an iterate node can churn indefinitely.
//
// A genuine operator error is wrapped as a GraphError and returned:
// operator exceptions must surface as a graph error, not a panic or a
// silently stalled graph.
func (g *Graph) Run() error {
	steps := 0
	for {
		progressedThisPass := false
		for _, op := range g.operators {
			did, err := op.Step()
			if err != nil {
				return &tdberrors.GraphError{OperatorName: op.Name(), Cause: err}
			}
			if did {
				progressedThisPass = true
			}
		}
		steps++
		if !progressedThisPass {
			return nil
		}
		if steps >= g.cfg.MaxSteps {
			g.log.Warn("scheduler exceeded max steps; truncating",
				zap.Int("steps", steps), zap.Int("cap", g.cfg.MaxSteps))
			return nil
		}
	}
}
