package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"tdbcore/internal/config"
	"tdbcore/internal/ir"
)

// Suggestion is one dev-mode recommendation to add an index.
type Suggestion struct {
	CollectionID string
	Path         string
	Hits         int
	DDL          string
}

// Advisor watches Where predicates evaluated against unindexed paths and,
// once a path crosses both the size and hit thresholds enough times
// without an index covering it, emits a one-time suggestion. It holds no
// reference to the collections it watches — Observe is called by the
// compiler or caller on each query compilation/run, passing the current
// size and the set of already-indexed paths.
type Advisor struct {
	cfg config.Indexing

	mu        sync.Mutex
	hits      map[string]int
	suggested map[string]bool
}

// NewAdvisor builds an Advisor using cfg's size/hit thresholds.
func NewAdvisor(cfg config.Indexing) *Advisor {
	return &Advisor{
		cfg:       cfg,
		hits:      map[string]int{},
		suggested: map[string]bool{},
	}
}

// IndexedPaths reports which dotted field paths already have a live index,
// as understood by Observe's indexed lookup.
type IndexedPaths func(path string) bool

// Observe inspects q's top-level Where predicates for equality/range
// comparisons against a bare field path (PropRef compared with a Value),
// and records a hit against collectionID+path for every such predicate not
// already covered by indexed. It returns any new suggestions crossing
// threshold on this call — each is only ever returned once.
func (a *Advisor) Observe(collectionID string, size int, q *ir.Query, indexed IndexedPaths) []Suggestion {
	if q == nil {
		return nil
	}
	paths := scanComparablePaths(q.Where)
	if len(paths) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Suggestion
	for _, p := range paths {
		if indexed != nil && indexed(p) {
			continue
		}
		key := collectionID + "\x00" + p
		if a.suggested[key] {
			continue
		}
		a.hits[key]++
		if size < a.cfg.AdvisorSizeThreshold || a.hits[key] < a.cfg.AdvisorHitThreshold {
			continue
		}
		a.suggested[key] = true
		out = append(out, Suggestion{
			CollectionID: collectionID,
			Path:         p,
			Hits:         a.hits[key],
			DDL:          suggestionDDL(collectionID, p),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// scanComparablePaths walks Where's top-level Funcs (and the direct
// operands of and/or) looking for a comparison Func whose arguments are
// exactly one PropRef and one Value — the shape an index can actually
// serve. Predicates nested inside not, or comparing two PropRefs against
// each other, are left to a full query-plan rewrite this advisor does not
// attempt.
func scanComparablePaths(where []ir.Expr) []string {
	var paths []string
	seen := map[string]bool{}
	var walk func(e ir.Expr)
	walk = func(e ir.Expr) {
		f, ok := e.(*ir.Func)
		if !ok {
			return
		}
		switch f.Name {
		case "and", "or":
			for _, arg := range f.Args {
				walk(arg)
			}
			return
		case "eq", "neq", "gt", "gte", "lt", "lte":
			if len(f.Args) != 2 {
				return
			}
			ref, val := matchPropAndValue(f.Args[0], f.Args[1])
			if ref == nil {
				return
			}
			_ = val
			p := strings.Join([]string(ref.Path), ".")
			if p != "" && !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	for _, e := range where {
		walk(e)
	}
	return paths
}

func matchPropAndValue(a, b ir.Expr) (*ir.PropRef, *ir.Value) {
	if ref, ok := a.(ir.PropRef); ok {
		if val, ok := b.(ir.Value); ok {
			return &ref, &val
		}
	}
	if ref, ok := b.(ir.PropRef); ok {
		if val, ok := a.(ir.Value); ok {
			return &ref, &val
		}
	}
	return nil, nil
}

func suggestionDDL(collectionID, path string) string {
	var sb strings.Builder
	safeName := strings.NewReplacer(".", "_", "$", "").Replace(path)
	sb.WriteString(fmt.Sprintf("-- consider: index.New(col, %q, %q, index.Equality) for collection %q\n", "idx_"+collectionID+"_"+safeName, path, collectionID))
	return sb.String()
}
