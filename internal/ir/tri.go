// Package ir is the query intermediate representation: a language-agnostic
// tree the compiler lowers into a dataflow graph. IR nodes are tagged Go
// variants rather than embedded closures, the same Dialect-string-plus-
// option-struct modeling internal/core/schema.go uses.
package ir

// Tri is SQL's three-valued logic: True, False, or Unknown. Where/Having
// sinks collapse Unknown to False; nothing else in the IR does.
type Tri int

const (
	False Tri = iota
	True
	Unknown
)

// ToTri maps a raw evaluator result onto Tri: nil is Unknown, a Go bool
// maps directly, anything else is treated as Unknown rather than panicking
// — a mistyped predicate should fail closed, not crash the graph.
func ToTri(v any) Tri {
	if v == nil {
		return Unknown
	}
	if b, ok := v.(bool); ok {
		if b {
			return True
		}
		return False
	}
	return Unknown
}

// FromTri reverses ToTri, the form a Func's Evaluator returns so callers
// can keep treating every expression result as `any`.
func FromTri(t Tri) any {
	switch t {
	case True:
		return true
	case False:
		return false
	default:
		return nil
	}
}

// And implements the SQL AND truth table: False dominates, True/True is
// True, anything else involving Unknown is Unknown.
func And(a, b Tri) Tri {
	if a == False || b == False {
		return False
	}
	if a == True && b == True {
		return True
	}
	return Unknown
}

// Or implements the SQL OR truth table: True dominates, False/False is
// False, anything else involving Unknown is Unknown.
func Or(a, b Tri) Tri {
	if a == True || b == True {
		return True
	}
	if a == False && b == False {
		return False
	}
	return Unknown
}

// Not flips True/False and leaves Unknown as Unknown.
func Not(a Tri) Tri {
	switch a {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

// CollapseToFalse is what a Where/Having sink applies: Unknown is excluded
// just like False, so a null predicate excludes the row from the result.
func CollapseToFalse(t Tri) bool {
	return t == True
}
