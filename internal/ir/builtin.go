package ir

import (
	"reflect"

	"tdbcore/internal/core"
)

func init() {
	registerBuiltinFuncs()
	registerBuiltinAggregates()
}

func registerBuiltinFuncs() {
	RegisterFunc("eq", func(args []Expr) Evaluator {
		return func(row core.Row) any {
			a, b := Evaluate(args[0], row), Evaluate(args[1], row)
			if a == nil || b == nil {
				return nil
			}
			return reflect.DeepEqual(a, b)
		}
	})
	RegisterFunc("neq", func(args []Expr) Evaluator {
		return func(row core.Row) any {
			a, b := Evaluate(args[0], row), Evaluate(args[1], row)
			if a == nil || b == nil {
				return nil
			}
			return !reflect.DeepEqual(a, b)
		}
	})
	RegisterFunc("gt", compareFunc(func(c int) bool { return c > 0 }))
	RegisterFunc("gte", compareFunc(func(c int) bool { return c >= 0 }))
	RegisterFunc("lt", compareFunc(func(c int) bool { return c < 0 }))
	RegisterFunc("lte", compareFunc(func(c int) bool { return c <= 0 }))

	RegisterFunc("and", func(args []Expr) Evaluator {
		return func(row core.Row) any {
			acc := True
			for _, a := range args {
				acc = And(acc, EvaluateTri(a, row))
			}
			return FromTri(acc)
		}
	})
	RegisterFunc("or", func(args []Expr) Evaluator {
		return func(row core.Row) any {
			acc := False
			for _, a := range args {
				acc = Or(acc, EvaluateTri(a, row))
			}
			return FromTri(acc)
		}
	})
	RegisterFunc("not", func(args []Expr) Evaluator {
		return func(row core.Row) any {
			return FromTri(Not(EvaluateTri(args[0], row)))
		}
	})
	RegisterFunc("isNull", func(args []Expr) Evaluator {
		return func(row core.Row) any {
			return Evaluate(args[0], row) == nil
		}
	})
	RegisterFunc("add", arithmeticFunc(func(a, b float64) float64 { return a + b }))
	RegisterFunc("sub", arithmeticFunc(func(a, b float64) float64 { return a - b }))
	RegisterFunc("mul", arithmeticFunc(func(a, b float64) float64 { return a * b }))
	RegisterFunc("div", arithmeticFunc(func(a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return a / b
	}))
}

// compareFunc builds a binary comparison Func factory from a predicate over
// the three-way comparison result (-1/0/1). Null propagates: comparison
// with null/undefined yields null.
func compareFunc(ok func(cmp int) bool) func(args []Expr) Evaluator {
	return func(args []Expr) Evaluator {
		return func(row core.Row) any {
			a, b := Evaluate(args[0], row), Evaluate(args[1], row)
			if a == nil || b == nil {
				return nil
			}
			c, comparable := CompareValues(a, b)
			if !comparable {
				return nil
			}
			return ok(c)
		}
	}
}

func arithmeticFunc(f func(a, b float64) float64) func(args []Expr) Evaluator {
	return func(args []Expr) Evaluator {
		return func(row core.Row) any {
			a, aok := toFloat64(Evaluate(args[0], row))
			b, bok := toFloat64(Evaluate(args[1], row))
			if !aok || !bok {
				return nil
			}
			return f(a, b)
		}
	}
}

// CompareValues returns (-1|0|1, true) for two operands that can be
// ordered against each other (both numeric or both string), or (0, false)
// if they can't — exported so the compiler can reuse it for ORDER BY.
func CompareValues(a, b any) (int, bool) {
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func registerBuiltinAggregates() {
	RegisterAggregate("count", TransformRaw, func(arg Expr) AggregateReducer {
		return func(members []ValueMultiplicity) any {
			total := 0
			for _, m := range members {
				total += m.Multiplicity
			}
			return float64(total)
		}
	})
	RegisterAggregate("sum", TransformNumeric, func(arg Expr) AggregateReducer {
		return func(members []ValueMultiplicity) any {
			total := 0.0
			for _, m := range members {
				n, ok := toFloat64(m.Value)
				if !ok {
					continue
				}
				total += n * float64(m.Multiplicity)
			}
			return total
		}
	})
	RegisterAggregate("avg", TransformNumeric, func(arg Expr) AggregateReducer {
		return func(members []ValueMultiplicity) any {
			total, count := 0.0, 0
			for _, m := range members {
				n, ok := toFloat64(m.Value)
				if !ok {
					continue
				}
				total += n * float64(m.Multiplicity)
				count += m.Multiplicity
			}
			if count == 0 {
				return nil
			}
			return total / float64(count)
		}
	})
	RegisterAggregate("min", TransformNumeric, numericExtremumReducer(func(c int) bool { return c < 0 }))
	RegisterAggregate("max", TransformNumeric, numericExtremumReducer(func(c int) bool { return c > 0 }))
	RegisterAggregate("minStr", TransformRaw, stringExtremumReducer(func(c int) bool { return c < 0 }))
	RegisterAggregate("maxStr", TransformRaw, stringExtremumReducer(func(c int) bool { return c > 0 }))
}

// numericExtremumReducer recomputes the extremum from the full histogram of
// still-present members every call, so a deletion that removes the current
// extremum correctly falls back to the next-best value: min/max retain the
// full histogram of values and multiplicities so deletions can restore
// previous extrema.
func numericExtremumReducer(better func(cmp int) bool) AggregateFactory {
	return func(arg Expr) AggregateReducer {
		return func(members []ValueMultiplicity) any {
			var best float64
			found := false
			for _, m := range members {
				if m.Multiplicity <= 0 {
					continue
				}
				n, ok := toFloat64(m.Value)
				if !ok {
					continue
				}
				if !found || better(cmpFloat(n, best)) {
					best = n
					found = true
				}
			}
			if !found {
				return nil
			}
			return best
		}
	}
}

func stringExtremumReducer(better func(cmp int) bool) AggregateFactory {
	return func(arg Expr) AggregateReducer {
		return func(members []ValueMultiplicity) any {
			var best string
			found := false
			for _, m := range members {
				if m.Multiplicity <= 0 {
					continue
				}
				s, ok := m.Value.(string)
				if !ok {
					continue
				}
				if !found {
					best, found = s, true
					continue
				}
				c := 0
				switch {
				case s < best:
					c = -1
				case s > best:
					c = 1
				}
				if better(c) {
					best = s
				}
			}
			if !found {
				return nil
			}
			return best
		}
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
