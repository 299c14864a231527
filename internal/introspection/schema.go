package introspection

import (
	schema "github.com/hanpama/graphcore/internal/schema"
)

// extendSchemaWithIntrospection returns a copy of original that carries the
// __* types and exposes __schema and __type on its query root.
func extendSchemaWithIntrospection(original *schema.Schema) *schema.Schema {
	extended := original.Clone()
	for _, t := range schema.IntrospectionTypes() {
		extended.Types[t.Name] = t
	}

	root := extended.GetQueryType()
	if root == nil {
		return extended
	}
	rootCopy := *root
	rootCopy.Fields = append(append([]*schema.Field(nil), root.Fields...),
		schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))),
		schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "", schema.NonNullType(schema.NamedType("String")))),
	)
	extended.Types[root.Name] = &rootCopy
	return extended
}
