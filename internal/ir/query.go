package ir

// JoinType is the outer-join kind declared on a JoinClause. Joins are
// equi-joins only, keyed by paired expressions.
type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinFull  JoinType = "full"
)

// Source is a query's From clause: either a CollectionRef or a QueryRef
// (subquery), never both.
type Source struct {
	CollectionID string
	Alias        string
	Subquery     *Query
}

// JoinClause adds one additional source, keyed by a pair of equi-join
// expressions evaluated against the accumulated row so far and the new
// source's row respectively.
type JoinClause struct {
	Source Source
	Type   JoinType
	Left   Expr
	Right  Expr
}

// GroupBy groups rows by Exprs and filters groups by Having (evaluated
// against the post-reduce output row, so Having may reference aggregate
// result fields by name).
type GroupBy struct {
	Exprs  []Expr
	Having []Expr
}

// SelectField is exactly one of Expr, Aggregate, or a Nested select: a
// nested map of output field to Expr, Aggregate, or nested select.
type SelectField struct {
	Expr      Expr
	Aggregate *Aggregate
	Nested    Select
}

// FieldExpr wraps a plain expression as a SelectField.
func FieldExpr(e Expr) SelectField { return SelectField{Expr: e} }

// FieldAggregate wraps an aggregate as a SelectField.
func FieldAggregate(a *Aggregate) SelectField { return SelectField{Aggregate: a} }

// FieldNested wraps a nested object projection as a SelectField.
func FieldNested(s Select) SelectField { return SelectField{Nested: s} }

// Select is the output projection: field name to SelectField.
type Select map[string]SelectField

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Expr       Expr
	Desc       bool
	NullsFirst bool
}

// LimitOffset bounds the result window. HasLimit distinguishes "no limit"
// from "limit 0", which yields an empty output.
type LimitOffset struct {
	HasLimit bool
	Limit    int
	Offset   int
}

// Query is the root IR node the compiler consumes.
type Query struct {
	From     Source
	Joins    []JoinClause
	Where    []Expr
	GroupBy  *GroupBy
	Select   Select
	OrderBy  []OrderTerm
	Limit    *LimitOffset
	Distinct bool
	// Union holds additional queries whose results are combined with this
	// one; their key sets must be disjoint at runtime.
	Union []*Query
}
