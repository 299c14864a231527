package validation

import (
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	language "github.com/hanpama/graphcore/internal/language"
	schema "github.com/hanpama/graphcore/internal/schema"
	walker "github.com/hanpama/graphcore/internal/walker"
)

// DepthLimiter rejects operations nested deeper than MaxDepth. Root fields
// are at depth 0 and fragments do not add depth. Introspection fields are
// not measured.
type DepthLimiter struct {
	MaxDepth int
}

func NewDepthLimiter(maxDepth int) *DepthLimiter { return &DepthLimiter{MaxDepth: maxDepth} }

func (r *DepthLimiter) Name() string { return "DepthLimiter" }

func (r *DepthLimiter) Validate(_ *schema.Schema, doc *language.QueryDocument) gqlerrors.List {
	if r.MaxDepth <= 0 {
		return nil
	}
	var errs gqlerrors.List
	w := walker.New(doc, walker.SkipIntrospection())
	for _, op := range doc.Operations {
		if d := Depth(w, op.SelectionSet); d > r.MaxDepth {
			errs = append(errs, violation(r.Name(), op.Position, "Max query depth should be %d but got %d.", r.MaxDepth, d))
		}
	}
	return errs
}

// Depth returns the deepest field level below set.
func Depth(w *walker.Walker, set language.SelectionSet) int {
	deepest := 0
	for d := range w.AllFields(set) {
		deepest = max(deepest, d)
	}
	return deepest
}
