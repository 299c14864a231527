package validation

import (
	language "github.com/hanpama/graphcore/internal/language"
	walker "github.com/hanpama/graphcore/internal/walker"
)

func walkerFor(doc *language.QueryDocument) *walker.Walker {
	return walker.New(doc, walker.SkipIntrospection())
}
