package introspection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	executor "github.com/hanpama/graphcore/internal/executor"
	schema "github.com/hanpama/graphcore/internal/schema"
)

// IntrospectionWrapper holds both the runtime and extended schema
type IntrospectionWrapper struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap returns a Runtime that handles GraphQL introspection fields.
// The schema passed in is left untouched.
func Wrap(base executor.Runtime, sch *schema.Schema) *IntrospectionWrapper {
	extendedSchema := extendSchemaWithIntrospection(sch)
	runtime := &runtime{
		base:   base,
		schema: extendedSchema,
		root:   sch.QueryType,
	}
	return &IntrospectionWrapper{
		Runtime: runtime,
		Schema:  extendedSchema,
	}
}

type runtime struct {
	base   executor.Runtime
	schema *schema.Schema
	root   string
}

func (r *runtime) ResolveSync(ctx context.Context, task executor.FieldTask) (any, error) {
	switch src := task.Source.(type) {
	case *schema.Schema:
		if v, ok := resolveSchemaField(src, task.Field); ok {
			return v, nil
		}
	case *schema.Type:
		if v, ok := resolveTypeField(r.schema, src, task.Field, task.Args); ok {
			return v, nil
		}
	case *schema.TypeRef:
		if v, ok := resolveTypeRefField(r.schema, src, task.Field, task.Args); ok {
			return v, nil
		}
	case *schema.Field:
		if v, ok := resolveFieldField(src, task.Field, task.Args); ok {
			return v, nil
		}
	case *schema.InputValue:
		if v, ok := resolveInputValueField(r.schema, src, task.Field); ok {
			return v, nil
		}
	case *schema.EnumValue:
		if v, ok := resolveEnumValueField(src, task.Field); ok {
			return v, nil
		}
	case *schema.Directive:
		if v, ok := resolveDirectiveField(src, task.Field, task.Args); ok {
			return v, nil
		}
	}

	if task.ObjectType == r.root {
		switch task.Field {
		case "__schema":
			return r.schema, nil
		case "__type":
			return r.resolveTypeQuery(task.Args), nil
		}
	}

	return r.base.ResolveSync(ctx, task)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.FieldTask) []executor.AsyncResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	switch typ {
	case "__TypeKind", "__DirectiveLocation":
		return fmt.Sprint(value), nil
	}
	return r.base.SerializeLeafValue(ctx, typ, value)
}

func (r *runtime) resolveTypeQuery(args map[string]any) *schema.Type {
	name, _ := args["name"].(string)
	if name == "" {
		return nil
	}
	return r.schema.Types[name]
}

// named is implemented by every schema element that introspection lists.
type named interface {
	*schema.Type | *schema.Field | *schema.InputValue | *schema.EnumValue | *schema.Directive
}

func nameOf[T named](v T) string {
	switch v := any(v).(type) {
	case *schema.Type:
		return v.Name
	case *schema.Field:
		return v.Name
	case *schema.InputValue:
		return v.Name
	case *schema.EnumValue:
		return v.Name
	case *schema.Directive:
		return v.Name
	}
	return ""
}

// listed returns the elements a client may see, sorted by name. Deprecated
// elements stay hidden unless the includeDeprecated argument asks for them.
func listed[T named](items []T, args map[string]any, deprecated func(T) bool) []T {
	include := boolArg(args, "includeDeprecated", false)
	out := make([]T, 0, len(items))
	for _, it := range items {
		if strings.HasPrefix(nameOf(it), "__") {
			continue
		}
		if deprecated != nil && !include && deprecated(it) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return nameOf(out[i]) < nameOf(out[j]) })
	return out
}

func lookup(sch *schema.Schema, names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, name := range names {
		if def := sch.Types[name]; def != nil {
			out = append(out, def)
		}
	}
	return out
}

func isObjectLike(t *schema.Type) bool {
	return t.Kind == schema.TypeKindObject || t.Kind == schema.TypeKindInterface
}

func fieldDeprecated(f *schema.Field) bool           { return f.IsDeprecated }
func inputValueDeprecated(v *schema.InputValue) bool { return v.IsDeprecated }
func enumValueDeprecated(v *schema.EnumValue) bool   { return v.IsDeprecated }

func deprecationReason(deprecated bool, reason string) *string {
	if !deprecated {
		return nil
	}
	return &reason
}

// resolveInputValueDefaultValue renders the default as a GraphQL literal.
func resolveInputValueDefaultValue(sch *schema.Schema, a *schema.InputValue) *string {
	if a.DefaultValue == nil {
		return nil
	}
	value := schema.RenderValue(sch, a.Type, a.DefaultValue)
	return &value
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func resolveSchemaField(sch *schema.Schema, field string) (any, bool) {
	switch field {
	case "types":
		types := make([]*schema.Type, 0, len(sch.Types))
		for _, t := range sch.Types {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
		return types, true
	case "queryType":
		return sch.GetQueryType(), true
	case "mutationType":
		return sch.GetMutationType(), true
	case "subscriptionType":
		return sch.GetSubscriptionType(), true
	case "directives":
		dirs := make([]*schema.Directive, 0, len(sch.Directives))
		for _, d := range sch.Directives {
			dirs = append(dirs, d)
		}
		return listed(dirs, nil, nil), true
	case "description":
		return optionalString(sch.Description), true
	}
	return nil, false
}

func resolveTypeField(sch *schema.Schema, t *schema.Type, field string, args map[string]any) (any, bool) {
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description":
		return optionalString(t.Description), true
	case "specifiedByURL":
		return t.SpecifiedByURL, true
	case "fields":
		if !isObjectLike(t) {
			return nil, true
		}
		return listed(t.Fields, args, fieldDeprecated), true
	case "interfaces":
		if !isObjectLike(t) {
			return nil, true
		}
		return listed(lookup(sch, t.Interfaces), nil, nil), true
	case "possibleTypes":
		if t.Kind != schema.TypeKindInterface && t.Kind != schema.TypeKindUnion {
			return nil, true
		}
		return listed(lookup(sch, t.PossibleTypes), nil, nil), true
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, true
		}
		return listed(t.EnumValues, args, enumValueDeprecated), true
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return listed(t.InputFields, args, inputValueDeprecated), true
	case "isOneOf":
		return t.OneOf, true
	case "ofType":
		// wrappers are *schema.TypeRef
		return nil, true
	}
	return nil, false
}

func resolveTypeRefField(sch *schema.Schema, tr *schema.TypeRef, field string, args map[string]any) (any, bool) {
	switch field {
	case "kind":
		if tr.Kind == schema.TypeRefKindNamed {
			if def := sch.Types[tr.Named]; def != nil {
				return string(def.Kind), true
			}
		}
		return string(tr.Kind), true
	case "name":
		if tr.Kind != schema.TypeRefKindNamed {
			return nil, true
		}
		return tr.Named, true
	case "ofType":
		if tr.Kind == schema.TypeRefKindNonNull || tr.Kind == schema.TypeRefKindList {
			return tr.OfType, true
		}
		return nil, true
	default:
		if name := schema.GetNamedType(tr); name != "" {
			if def := sch.Types[name]; def != nil {
				return resolveTypeField(sch, def, field, args)
			}
		}
		return nil, true
	}
}

func resolveFieldField(f *schema.Field, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return f.Name, true
	case "description":
		return optionalString(f.Description), true
	case "args":
		return listed(f.Arguments, args, inputValueDeprecated), true
	case "type":
		return f.Type, true
	case "isDeprecated":
		return f.IsDeprecated, true
	case "deprecationReason":
		return deprecationReason(f.IsDeprecated, f.DeprecationReason), true
	}
	return nil, false
}

func resolveInputValueField(sch *schema.Schema, a *schema.InputValue, field string) (any, bool) {
	switch field {
	case "name":
		return a.Name, true
	case "description":
		return optionalString(a.Description), true
	case "type":
		return a.Type, true
	case "defaultValue":
		return resolveInputValueDefaultValue(sch, a), true
	case "isDeprecated":
		return a.IsDeprecated, true
	case "deprecationReason":
		return deprecationReason(a.IsDeprecated, a.DeprecationReason), true
	}
	return nil, false
}

func resolveEnumValueField(ev *schema.EnumValue, field string) (any, bool) {
	switch field {
	case "name":
		return ev.Name, true
	case "description":
		return optionalString(ev.Description), true
	case "isDeprecated":
		return ev.IsDeprecated, true
	case "deprecationReason":
		return deprecationReason(ev.IsDeprecated, ev.DeprecationReason), true
	}
	return nil, false
}

func resolveDirectiveField(d *schema.Directive, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return d.Name, true
	case "description":
		return optionalString(d.Description), true
	case "isRepeatable":
		return d.IsRepeatable, true
	case "locations":
		locs := append([]string(nil), d.Locations...)
		sort.Strings(locs)
		return locs, true
	case "args":
		return listed(d.Arguments, args, inputValueDeprecated), true
	}
	return nil, false
}

func boolArg(args map[string]any, name string, def bool) bool {
	if b, ok := args[name].(bool); ok {
		return b
	}
	return def
}
