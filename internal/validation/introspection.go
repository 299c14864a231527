package validation

import (
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	language "github.com/hanpama/graphcore/internal/language"
	schema "github.com/hanpama/graphcore/internal/schema"
	walker "github.com/hanpama/graphcore/internal/walker"
)

// IntrospectionControl rejects __schema and __type selections reachable from
// an operation unless Allowed is set. A field spread more than once is
// reported once. __typename is always permitted.
type IntrospectionControl struct {
	Allowed bool
}

func NewIntrospectionControl(allowed bool) *IntrospectionControl {
	return &IntrospectionControl{Allowed: allowed}
}

func (r *IntrospectionControl) Name() string { return "IntrospectionControl" }

func (r *IntrospectionControl) Validate(_ *schema.Schema, doc *language.QueryDocument) gqlerrors.List {
	if r.Allowed {
		return nil
	}
	var errs gqlerrors.List
	seen := map[*language.Field]bool{}
	w := walker.New(doc)
	for _, op := range doc.Operations {
		for _, f := range w.AllFields(op.SelectionSet) {
			if (f.Name != "__schema" && f.Name != "__type") || seen[f] {
				continue
			}
			seen[f] = true
			errs = append(errs, violation(r.Name(), f.Position,
				"GraphQL introspection is not allowed, but the query contained __schema or __type"))
		}
	}
	return errs
}
