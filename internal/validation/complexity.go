package validation

import (
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	language "github.com/hanpama/graphcore/internal/language"
	schema "github.com/hanpama/graphcore/internal/schema"
	walker "github.com/hanpama/graphcore/internal/walker"
)

// PaginationArguments mark a field as returning a list whose children are
// weighted by the list multiplier.
var PaginationArguments = []string{"first", "last", "limit", "count", "take"}

const (
	DefaultFieldCost      = 1
	DefaultListMultiplier = 10
)

// ComplexityAnalyzer rejects operations whose estimated cost exceeds
// MaxComplexity.
type ComplexityAnalyzer struct {
	MaxComplexity  int
	fieldCosts     map[string]int
	defaultCost    int
	listMultiplier int
}

type ComplexityOption func(*ComplexityAnalyzer)

// WithFieldCosts sets per-field costs keyed by field name or "Type.field".
func WithFieldCosts(costs map[string]int) ComplexityOption {
	return func(a *ComplexityAnalyzer) {
		for k, v := range costs {
			a.fieldCosts[k] = v
		}
	}
}

func WithDefaultCost(cost int) ComplexityOption {
	return func(a *ComplexityAnalyzer) { a.defaultCost = cost }
}

func WithListMultiplier(m int) ComplexityOption {
	return func(a *ComplexityAnalyzer) { a.listMultiplier = m }
}

func NewComplexityAnalyzer(maxComplexity int, opts ...ComplexityOption) *ComplexityAnalyzer {
	a := &ComplexityAnalyzer{
		MaxComplexity:  maxComplexity,
		fieldCosts:     make(map[string]int),
		defaultCost:    DefaultFieldCost,
		listMultiplier: DefaultListMultiplier,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *ComplexityAnalyzer) Name() string { return "ComplexityAnalyzer" }

func (a *ComplexityAnalyzer) Validate(s *schema.Schema, doc *language.QueryDocument) gqlerrors.List {
	if a.MaxComplexity <= 0 {
		return nil
	}
	var errs gqlerrors.List
	w := walker.New(doc, walker.SkipIntrospection())
	for _, op := range doc.Operations {
		if c := a.Complexity(w, s, op); c > a.MaxComplexity {
			errs = append(errs, violation(a.Name(), op.Position, "Max query complexity should be %d but got %d.", a.MaxComplexity, c))
		}
	}
	return errs
}

// Complexity returns the estimated cost of op. s may be nil, in which case
// only name-keyed costs apply.
func (a *ComplexityAnalyzer) Complexity(w *walker.Walker, s *schema.Schema, op *language.OperationDefinition) int {
	var root *schema.Type
	if s != nil {
		switch op.Operation {
		case language.Query:
			root = s.GetQueryType()
		case language.Mutation:
			root = s.GetMutationType()
		case language.Subscription:
			root = s.GetSubscriptionType()
		}
	}
	return a.selectionCost(w, s, root, op.SelectionSet, 1)
}

func (a *ComplexityAnalyzer) selectionCost(w *walker.Walker, s *schema.Schema, parent *schema.Type, set language.SelectionSet, multiplier int) int {
	total := 0
	for f := range w.Fields(set) {
		typeName, child := fieldTypes(s, parent, f)
		total += a.fieldCost(typeName, f.Name) * multiplier
		if len(f.SelectionSet) == 0 {
			continue
		}
		next := multiplier
		if hasPaginationArgument(f) {
			next *= a.listMultiplier
		}
		total += a.selectionCost(w, s, child, f.SelectionSet, next)
	}
	return total
}

func (a *ComplexityAnalyzer) fieldCost(typeName, fieldName string) int {
	if typeName != "" {
		if c, ok := a.fieldCosts[typeName+"."+fieldName]; ok {
			return c
		}
	}
	if c, ok := a.fieldCosts[fieldName]; ok {
		return c
	}
	return a.defaultCost
}

// fieldTypes returns the name of the type declaring f and the type f returns.
// Definitions attached by the standard validator take precedence.
func fieldTypes(s *schema.Schema, parent *schema.Type, f *language.Field) (string, *schema.Type) {
	var typeName string
	if f.ObjectDefinition != nil {
		typeName = f.ObjectDefinition.Name
	} else if parent != nil {
		typeName = parent.Name
	}
	if s == nil {
		return typeName, nil
	}
	if f.Definition != nil && f.Definition.Type != nil {
		return typeName, s.Types[f.Definition.Type.Name()]
	}
	if parent != nil {
		if def := parent.GetField(f.Name); def != nil {
			return typeName, s.Types[schema.GetNamedType(def.Type)]
		}
	}
	return typeName, nil
}

func hasPaginationArgument(f *language.Field) bool {
	for _, name := range PaginationArguments {
		if f.Arguments.ForName(name) != nil {
			return true
		}
	}
	return false
}
