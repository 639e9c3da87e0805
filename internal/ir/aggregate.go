package ir

import "tdbcore/internal/tdberrors"

// ValueTransform controls how an aggregate's operand is coerced before
// reduction: numeric coerces operands, raw preserves original types — e.g.
// minStr for lexicographic compare on ISO timestamps.
type ValueTransform string

const (
	TransformRaw     ValueTransform = "raw"
	TransformNumeric ValueTransform = "numeric"
)

// ValueMultiplicity is one distinct operand value and its running
// multiplicity within a group, the unit an AggregateReducer consumes.
type ValueMultiplicity struct {
	Value        any
	Multiplicity int
}

// AggregateReducer folds a group's member values into the aggregate
// result. Built-ins (sum/count/avg/min/max/minStr/maxStr) are commutative
// over the member list, so no ordering is assumed.
type AggregateReducer func(members []ValueMultiplicity) any

// AggregateFactory builds the reducer for one aggregate application,
// closing over its argument expression the same way a Func's factory
// closes over its args.
type AggregateFactory func(arg Expr) AggregateReducer

// Aggregate is a Select-field-only IR node: Aggregate(name, args,
// config{factory, valueTransform}).
type Aggregate struct {
	Name           string
	Arg            Expr
	ValueTransform ValueTransform
	Reduce         AggregateReducer
}

// NewAggregate resolves name against the aggregate registry. Unknown
// aggregate names are refused at build time, mirroring NewFunc.
func NewAggregate(name string, arg Expr) (*Aggregate, error) {
	reg, ok := lookupAggregate(name)
	if !ok {
		return nil, &tdberrors.ContractViolation{
			Component: "ir",
			Detail:    "unknown aggregate " + name,
		}
	}
	return &Aggregate{
		Name:           name,
		Arg:            arg,
		ValueTransform: reg.valueTransform,
		Reduce:         reg.factory(arg),
	}, nil
}
