package resolver

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	schema "github.com/hanpama/graphcore/internal/schema"
)

// DefaultResolver reads the field from the source value. See Property.
func DefaultResolver(_ context.Context, p Params) (any, error) {
	return Property(p.Source, p.Info.Field), nil
}

// SourceResolver returns the source itself. Subscription root fields
// without a resolver use it, so each published event becomes the field value.
func SourceResolver(_ context.Context, p Params) (any, error) {
	return p.Source, nil
}

// Property reads the value source would carry under name in its JSON
// encoding: the entry of a string-keyed map, or the exported struct field
// whose json tag names it (the Go field name when untagged, as
// encoding/json does). Fields of untagged embedded structs are promoted.
// Methods are never called; values computed from the source need an
// explicit Field or Batched resolver. It returns nil when nothing matches.
func Property(source any, name string) any {
	if source == nil {
		return nil
	}
	if m, ok := source.(map[string]any); ok {
		return m[name]
	}
	rv, ok := deref(reflect.ValueOf(source))
	if !ok {
		return nil
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil
		}
		return v.Interface()
	case reflect.Struct:
		if v, ok := structField(rv, name); ok {
			return v.Interface()
		}
	}
	return nil
}

func deref(rv reflect.Value) (reflect.Value, bool) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return rv, false
		}
		rv = rv.Elem()
	}
	return rv, rv.IsValid()
}

func structField(rv reflect.Value, name string) (reflect.Value, bool) {
	t := rv.Type()
	var embedded []int
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		tagName, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && tagName == "" {
			embedded = append(embedded, i)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if tagName == name || (tagName == "" && f.Name == name) {
			return rv.Field(i), true
		}
	}
	for _, i := range embedded {
		if inner, ok := deref(rv.Field(i)); ok && inner.Kind() == reflect.Struct {
			if v, ok := structField(inner, name); ok {
				return v, true
			}
		}
	}
	return reflect.Value{}, false
}

// TypeNamer is implemented by values that know their GraphQL type.
type TypeNamer interface {
	GraphQLType() string
}

// DefaultTypeName finds the concrete type of value from a "__typename" map
// entry, a TypeNamer, or the Go type name.
func DefaultTypeName(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case map[string]any:
		name, _ := v["__typename"].(string)
		return name
	case TypeNamer:
		return v.GraphQLType()
	}
	t := reflect.TypeOf(value)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// indirect dereferences pointers to leaf values. Nil pointers are handled by
// the executor before serialization.
func indirect(value any) any {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return value
	}
	return rv.Interface()
}

var builtinSerializers = map[string]Serializer{
	"Int":     serializeInt,
	"Float":   serializeFloat,
	"String":  serializeString,
	"Boolean": serializeBoolean,
	"ID":      serializeID,
}

func serializeInt(value any) (any, error) {
	rv := reflect.ValueOf(value)
	var n int64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt32 {
			return nil, fmt.Errorf("Int cannot represent non 32-bit signed integer value: %v", value)
		}
		n = int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("Int cannot represent non-integer value: %v", value)
		}
		n = int64(f)
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	case reflect.String:
		i, err := strconv.ParseInt(rv.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("Int cannot represent non-integer value: %q", rv.String())
		}
		n = i
	default:
		return nil, fmt.Errorf("Int cannot represent value: %v", value)
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return nil, fmt.Errorf("Int cannot represent non 32-bit signed integer value: %v", value)
	}
	return int(n), nil
}

func serializeFloat(value any) (any, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("Float cannot represent non numeric value: %v", value)
		}
		return f, nil
	case reflect.String:
		f, err := strconv.ParseFloat(rv.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("Float cannot represent non numeric value: %q", rv.String())
		}
		return f, nil
	}
	return nil, fmt.Errorf("Float cannot represent value: %v", value)
}

func serializeString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	}
	return nil, fmt.Errorf("String cannot represent value: %v", value)
}

func serializeBoolean(value any) (any, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	}
	return nil, fmt.Errorf("Boolean cannot represent a non boolean value: %v", value)
}

func serializeID(value any) (any, error) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	if s, ok := value.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return nil, fmt.Errorf("ID cannot represent value: %v", value)
}

func serializeEnum(t *schema.Type, value any) (any, error) {
	var name string
	switch v := value.(type) {
	case string:
		name = v
	case fmt.Stringer:
		name = v.String()
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.String {
			return nil, fmt.Errorf("Enum %q cannot represent value: %v", t.Name, value)
		}
		name = rv.String()
	}
	for _, ev := range t.EnumValues {
		if ev.Name == name {
			return name, nil
		}
	}
	return nil, fmt.Errorf("Enum %q cannot represent value: %q", t.Name, name)
}
