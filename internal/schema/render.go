package schema

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// Render prints s as SDL. Built-in scalars, directives and introspection
// types are left out, and everything else is sorted by name so equal schemas
// render identically.
func Render(s *Schema) string {
	if s == nil {
		return ""
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf, formatter.WithIndent("  ")).FormatSchemaDocument(s.document())
	return buf.String()
}

// RenderValue writes v as a GraphQL input literal of type t. Strings become
// enum names when t names an enum.
func RenderValue(s *Schema, t *TypeRef, v any) string {
	return s.literal(t, v).String()
}

func (s *Schema) document() *ast.SchemaDocument {
	doc := &ast.SchemaDocument{}

	roots := &ast.SchemaDefinition{Description: s.Description}
	for _, r := range []struct {
		op   ast.Operation
		name string
	}{
		{ast.Query, s.QueryType},
		{ast.Mutation, s.MutationType},
		{ast.Subscription, s.SubscriptionType},
	} {
		if r.name != "" {
			roots.OperationTypes = append(roots.OperationTypes, &ast.OperationTypeDefinition{Operation: r.op, Type: r.name})
		}
	}
	if len(roots.OperationTypes) > 0 {
		doc.Schema = append(doc.Schema, roots)
	}

	for _, name := range sortedKeys(s.Types) {
		if !IsBuiltinType(name) {
			doc.Definitions = append(doc.Definitions, s.definition(s.Types[name]))
		}
	}
	for _, name := range sortedKeys(s.Directives) {
		if !builtinDirectives[name] {
			doc.Directives = append(doc.Directives, s.directiveDefinition(s.Directives[name]))
		}
	}
	return doc
}

func (s *Schema) definition(t *Type) *ast.Definition {
	def := &ast.Definition{
		Kind:        ast.DefinitionKind(t.Kind),
		Name:        t.Name,
		Description: t.Description,
	}
	switch t.Kind {
	case TypeKindObject, TypeKindInterface:
		def.Interfaces = t.Interfaces
		for _, f := range t.Fields {
			fd := &ast.FieldDefinition{
				Name:        f.Name,
				Description: f.Description,
				Type:        astType(f.Type),
				Directives:  deprecatedDirective(f.IsDeprecated, f.DeprecationReason),
			}
			for _, a := range f.Arguments {
				fd.Arguments = append(fd.Arguments, s.argumentDefinition(a))
			}
			def.Fields = append(def.Fields, fd)
		}
	case TypeKindUnion:
		def.Types = t.PossibleTypes
	case TypeKindEnum:
		for _, v := range t.EnumValues {
			def.EnumValues = append(def.EnumValues, &ast.EnumValueDefinition{
				Name:        v.Name,
				Description: v.Description,
				Directives:  deprecatedDirective(v.IsDeprecated, v.DeprecationReason),
			})
		}
	case TypeKindInputObject:
		for _, f := range t.InputFields {
			a := s.argumentDefinition(f)
			def.Fields = append(def.Fields, &ast.FieldDefinition{
				Name:         a.Name,
				Description:  a.Description,
				Type:         a.Type,
				DefaultValue: a.DefaultValue,
				Directives:   a.Directives,
			})
		}
		if t.OneOf {
			def.Directives = append(def.Directives, &ast.Directive{Name: "oneOf"})
		}
	case TypeKindScalar:
		if t.SpecifiedByURL != nil {
			def.Directives = append(def.Directives, &ast.Directive{
				Name:      "specifiedBy",
				Arguments: ast.ArgumentList{{Name: "url", Value: stringValue(*t.SpecifiedByURL)}},
			})
		}
	}
	return def
}

func (s *Schema) argumentDefinition(v *InputValue) *ast.ArgumentDefinition {
	a := &ast.ArgumentDefinition{
		Name:        v.Name,
		Description: v.Description,
		Type:        astType(v.Type),
		Directives:  deprecatedDirective(v.IsDeprecated, v.DeprecationReason),
	}
	if v.DefaultValue != nil {
		a.DefaultValue = s.literal(v.Type, v.DefaultValue)
	}
	return a
}

func (s *Schema) directiveDefinition(d *Directive) *ast.DirectiveDefinition {
	def := &ast.DirectiveDefinition{
		Name:         d.Name,
		Description:  d.Description,
		IsRepeatable: d.IsRepeatable,
	}
	for _, a := range d.Arguments {
		def.Arguments = append(def.Arguments, s.argumentDefinition(a))
	}
	for _, loc := range d.Locations {
		def.Locations = append(def.Locations, ast.DirectiveLocation(loc))
	}
	return def
}

func deprecatedDirective(deprecated bool, reason string) ast.DirectiveList {
	if !deprecated {
		return nil
	}
	d := &ast.Directive{Name: "deprecated"}
	if reason != "" {
		d.Arguments = ast.ArgumentList{{Name: "reason", Value: stringValue(reason)}}
	}
	return ast.DirectiveList{d}
}

func astType(t *TypeRef) *ast.Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case TypeRefKindNonNull:
		inner := astType(t.OfType)
		inner.NonNull = true
		return inner
	case TypeRefKindList:
		return &ast.Type{Elem: astType(t.OfType)}
	default:
		return &ast.Type{NamedType: t.Named}
	}
}

func stringValue(s string) *ast.Value {
	return &ast.Value{Kind: ast.StringValue, Raw: s}
}

// literal converts a coerced Go value back into an AST value. t guides enum
// names and the field types of input objects; it may be nil.
func (s *Schema) literal(t *TypeRef, v any) *ast.Value {
	if t != nil && t.Kind == TypeRefKindNonNull {
		t = t.OfType
	}
	switch v := v.(type) {
	case nil:
		return &ast.Value{Kind: ast.NullValue, Raw: "null"}
	case bool:
		return &ast.Value{Kind: ast.BooleanValue, Raw: strconv.FormatBool(v)}
	case int:
		return &ast.Value{Kind: ast.IntValue, Raw: strconv.Itoa(v)}
	case int32:
		return &ast.Value{Kind: ast.IntValue, Raw: strconv.FormatInt(int64(v), 10)}
	case int64:
		return &ast.Value{Kind: ast.IntValue, Raw: strconv.FormatInt(v, 10)}
	case float32:
		return &ast.Value{Kind: ast.FloatValue, Raw: strconv.FormatFloat(float64(v), 'g', -1, 32)}
	case float64:
		return &ast.Value{Kind: ast.FloatValue, Raw: strconv.FormatFloat(v, 'g', -1, 64)}
	case string:
		if def := s.namedType(t); def != nil && def.Kind == TypeKindEnum {
			return &ast.Value{Kind: ast.EnumValue, Raw: v}
		}
		return stringValue(v)
	case []any:
		var elem *TypeRef
		if t != nil && t.Kind == TypeRefKindList {
			elem = t.OfType
		}
		list := &ast.Value{Kind: ast.ListValue}
		for _, item := range v {
			list.Children = append(list.Children, &ast.ChildValue{Value: s.literal(elem, item)})
		}
		return list
	case map[string]any:
		def := s.namedType(t)
		obj := &ast.Value{Kind: ast.ObjectValue}
		for _, k := range sortedKeys(v) {
			var ft *TypeRef
			if def != nil {
				for _, f := range def.InputFields {
					if f.Name == k {
						ft = f.Type
					}
				}
			}
			obj.Children = append(obj.Children, &ast.ChildValue{Name: k, Value: s.literal(ft, v[k])})
		}
		return obj
	default:
		return &ast.Value{Kind: ast.EnumValue, Raw: fmt.Sprint(v)}
	}
}

func (s *Schema) namedType(t *TypeRef) *Type {
	if s == nil || t == nil {
		return nil
	}
	return s.Types[t.GetNamedType()]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
