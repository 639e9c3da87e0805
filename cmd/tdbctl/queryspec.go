package main

import (
	"encoding/json"
	"fmt"
	"os"

	"tdbcore/internal/ir"
)

// exprSpec is the JSON shape of one ir.Expr node: exactly one of Prop,
// Value, or Func is set. A Func node additionally carries Args, each
// itself an exprSpec.
type exprSpec struct {
	Prop  string          `json:"prop,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Func  string          `json:"func,omitempty"`
	Args  []exprSpec      `json:"args,omitempty"`
}

func (e exprSpec) build() (ir.Expr, error) {
	switch {
	case e.Prop != "":
		return ir.NewPropRef(e.Prop), nil
	case len(e.Value) > 0:
		var v any
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
		return ir.NewValue(v), nil
	case e.Func != "":
		args := make([]ir.Expr, len(e.Args))
		for i, a := range e.Args {
			built, err := a.build()
			if err != nil {
				return nil, err
			}
			args[i] = built
		}
		f, err := ir.NewFunc(e.Func, args...)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("expression must set one of prop, value, or func")
	}
}

// selectFieldSpec is one output field of a querySpec's Select: either a
// plain expression, an aggregate application, or a nested object of
// further selectFieldSpecs.
type selectFieldSpec struct {
	exprSpec
	Agg    string                     `json:"agg,omitempty"`
	Arg    *exprSpec                  `json:"arg,omitempty"`
	Nested map[string]selectFieldSpec `json:"nested,omitempty"`
}

func (s selectFieldSpec) build() (ir.SelectField, error) {
	switch {
	case s.Agg != "":
		var argExpr ir.Expr
		if s.Arg != nil {
			built, err := s.Arg.build()
			if err != nil {
				return ir.SelectField{}, err
			}
			argExpr = built
		}
		agg, err := ir.NewAggregate(s.Agg, argExpr)
		if err != nil {
			return ir.SelectField{}, err
		}
		return ir.FieldAggregate(agg), nil
	case s.Nested != nil:
		nested, err := buildSelect(s.Nested)
		if err != nil {
			return ir.SelectField{}, err
		}
		return ir.FieldNested(nested), nil
	default:
		e, err := s.exprSpec.build()
		if err != nil {
			return ir.SelectField{}, err
		}
		return ir.FieldExpr(e), nil
	}
}

func buildSelect(spec map[string]selectFieldSpec) (ir.Select, error) {
	if len(spec) == 0 {
		return nil, nil
	}
	sel := make(ir.Select, len(spec))
	for name, fs := range spec {
		field, err := fs.build()
		if err != nil {
			return nil, fmt.Errorf("select field %q: %w", name, err)
		}
		sel[name] = field
	}
	return sel, nil
}

type sourceSpec struct {
	Collection string `json:"collection"`
	Alias      string `json:"alias,omitempty"`
}

func (s sourceSpec) build() ir.Source {
	return ir.Source{CollectionID: s.Collection, Alias: s.Alias}
}

type joinSpec struct {
	sourceSpec
	Type  string   `json:"type"`
	Left  exprSpec `json:"left"`
	Right exprSpec `json:"right"`
}

func (j joinSpec) build() (ir.JoinClause, error) {
	left, err := j.Left.build()
	if err != nil {
		return ir.JoinClause{}, fmt.Errorf("join left: %w", err)
	}
	right, err := j.Right.build()
	if err != nil {
		return ir.JoinClause{}, fmt.Errorf("join right: %w", err)
	}
	jt := ir.JoinInner
	switch j.Type {
	case "", "inner":
		jt = ir.JoinInner
	case "left":
		jt = ir.JoinLeft
	case "right":
		jt = ir.JoinRight
	case "full":
		jt = ir.JoinFull
	default:
		return ir.JoinClause{}, fmt.Errorf("unknown join type %q", j.Type)
	}
	return ir.JoinClause{Source: j.sourceSpec.build(), Type: jt, Left: left, Right: right}, nil
}

type groupBySpec struct {
	Exprs  []exprSpec `json:"exprs"`
	Having []exprSpec `json:"having,omitempty"`
}

type orderTermSpec struct {
	exprSpec
	Desc       bool `json:"desc,omitempty"`
	NullsFirst bool `json:"nullsFirst,omitempty"`
}

type limitSpec struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset,omitempty"`
}

// querySpec is the JSON document a "query"/"explain" invocation reads: a
// minimal surface over ir.Query covering a single From, Joins, Where,
// GroupBy/Having, Select (plain/aggregate/nested), OrderBy, and
// Limit/Offset. Union is not exposed here; it has no natural single-request
// JSON shape and isn't needed to demonstrate the engine end to end.
type querySpec struct {
	From     sourceSpec                `json:"from"`
	Joins    []joinSpec                `json:"joins,omitempty"`
	Where    []exprSpec                `json:"where,omitempty"`
	GroupBy  *groupBySpec              `json:"groupBy,omitempty"`
	Select   map[string]selectFieldSpec `json:"select,omitempty"`
	OrderBy  []orderTermSpec            `json:"orderBy,omitempty"`
	Limit    *limitSpec                 `json:"limit,omitempty"`
	Distinct bool                       `json:"distinct,omitempty"`
}

func (qs querySpec) build() (*ir.Query, error) {
	q := &ir.Query{From: qs.From.build(), Distinct: qs.Distinct}

	for _, j := range qs.Joins {
		jc, err := j.build()
		if err != nil {
			return nil, err
		}
		q.Joins = append(q.Joins, jc)
	}

	for _, w := range qs.Where {
		e, err := w.build()
		if err != nil {
			return nil, fmt.Errorf("where: %w", err)
		}
		q.Where = append(q.Where, e)
	}

	if qs.GroupBy != nil {
		gb := &ir.GroupBy{}
		for _, e := range qs.GroupBy.Exprs {
			built, err := e.build()
			if err != nil {
				return nil, fmt.Errorf("groupBy: %w", err)
			}
			gb.Exprs = append(gb.Exprs, built)
		}
		for _, h := range qs.GroupBy.Having {
			built, err := h.build()
			if err != nil {
				return nil, fmt.Errorf("having: %w", err)
			}
			gb.Having = append(gb.Having, built)
		}
		q.GroupBy = gb
	}

	sel, err := buildSelect(qs.Select)
	if err != nil {
		return nil, err
	}
	q.Select = sel

	for _, ot := range qs.OrderBy {
		e, err := ot.exprSpec.build()
		if err != nil {
			return nil, fmt.Errorf("orderBy: %w", err)
		}
		q.OrderBy = append(q.OrderBy, ir.OrderTerm{Expr: e, Desc: ot.Desc, NullsFirst: ot.NullsFirst})
	}

	if qs.Limit != nil {
		q.Limit = &ir.LimitOffset{HasLimit: true, Limit: qs.Limit.Limit, Offset: qs.Limit.Offset}
	}

	return q, nil
}

func loadQuerySpec(path string) (*ir.Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query spec: %w", err)
	}
	var qs querySpec
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	return qs.build()
}
