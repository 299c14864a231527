package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"

	language "github.com/hanpama/graphcore/internal/language"
)

var (
	preludeOnce sync.Once
	prelude     *ast.Schema
)

// preludeSchema is a minimal schema loaded through gqlparser, used as the
// source of the built-in scalars, directives and introspection types.
func preludeSchema() *ast.Schema {
	preludeOnce.Do(func() {
		src, err := language.LoadSchema("prelude.graphql", "type Query { _: Boolean }")
		if err != nil {
			panic(fmt.Sprintf("schema: loading prelude: %v", err))
		}
		prelude = src
	})
	return prelude
}

// builtinDirectives are declared by the gqlparser prelude and must not be
// redeclared when a schema is rendered back to SDL.
var builtinDirectives = map[string]bool{
	"include":     true,
	"skip":        true,
	"deprecated":  true,
	"specifiedBy": true,
	"defer":       true,
	"oneOf":       true,
}

// IsBuiltinType reports whether name is a built-in scalar or introspection type.
func IsBuiltinType(name string) bool {
	def := preludeSchema().Types[name]
	return def != nil && def.BuiltIn
}

// addBuiltins installs the standard scalars and the skip and include
// directives on a new schema.
func addBuiltins(s *Schema) {
	src := preludeSchema()
	for name, def := range src.Types {
		if def.BuiltIn && def.Kind == ast.Scalar {
			s.Types[name] = buildType(src, def)
		}
	}
	for _, name := range []string{"include", "skip"} {
		s.Directives[name] = buildDirective(src.Directives[name])
	}
}

// IntrospectionTypes builds the __Schema family of types from the parser's
// prelude. Each call returns fresh values sorted by name.
func IntrospectionTypes() []*Type {
	src := preludeSchema()
	var out []*Type
	for name, def := range src.Types {
		if strings.HasPrefix(name, "__") {
			out = append(out, buildType(src, def))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
