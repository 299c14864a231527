package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	language "github.com/hanpama/graphcore/internal/language"
	schema "github.com/hanpama/graphcore/internal/schema"
)

// coerceVariableValues coerces the request variables against the operation's
// variable definitions. The first failure stops execution.
func coerceVariableValues(
	s *schema.Schema,
	operation *language.OperationDefinition,
	variableValues map[string]any,
) (map[string]any, *gqlerrors.Error) {
	coerced := make(map[string]any)
	for _, varDef := range operation.VariableDefinitions {
		name := varDef.Variable
		t := varDef.Type
		val, ok := variableValues[name]
		if !ok {
			if varDef.DefaultValue != nil {
				coerced[name] = astValueToGo(varDef.DefaultValue)
				continue
			}
			if t.NonNull {
				return nil, variableError(varDef, "Variable \"$%s\" of required type \"%s\" was not provided.", name, t.String())
			}
			continue
		}
		if val == nil && t.NonNull {
			return nil, variableError(varDef, "Variable \"$%s\" of non-null type \"%s\" must not be null.", name, t.String())
		}
		cv, err := coerceValue(s, val, typeRefFromAST(t))
		if err != nil {
			return nil, variableError(varDef, "Variable \"$%s\" got invalid value; %v", name, err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

func variableError(varDef *language.VariableDefinition, format string, args ...any) *gqlerrors.Error {
	err := gqlerrors.New(format, args...)
	err.Locations = language.LocationOf(varDef.Position)
	return err
}

// coerceArgumentValues coerces the arguments of one field. It reports false
// after recording an error when an argument cannot be coerced.
func coerceArgumentValues(
	state *executionState,
	fieldDef *schema.Field,
	arguments language.ArgumentList,
	path Path,
	fields []*language.Field,
) (map[string]any, bool) {
	coerced := make(map[string]any, len(fieldDef.Arguments))
	for _, argDef := range fieldDef.Arguments {
		name := argDef.Name
		arg := arguments.ForName(name)

		if arg == nil || isUnsetVariable(arg.Value, state.variableValues) {
			if argDef.DefaultValue != nil {
				coerced[name] = argDef.DefaultValue
				continue
			}
			if schema.IsNonNull(argDef.Type) {
				state.addError(gqlerrors.New("Argument %q of required type %q was not provided.", name, typeString(argDef.Type)), path, fields)
				return nil, false
			}
			continue
		}

		val := valueFromASTWithVars(arg.Value, state.variableValues)
		cv, err := coerceValue(state.schema, val, argDef.Type)
		if err != nil {
			state.addError(gqlerrors.New("Argument %q has invalid value: %v", name, err), path, fields)
			return nil, false
		}
		coerced[name] = cv
	}
	return coerced, true
}

func isUnsetVariable(value *language.Value, variableValues map[string]any) bool {
	if value == nil || value.Kind != language.Variable {
		return false
	}
	_, ok := variableValues[value.Raw]
	return !ok
}

// valueFromASTWithVars converts an AST value to a runtime value, substituting
// variables at any nesting level.
func valueFromASTWithVars(value *language.Value, variableValues map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		return variableValues[value.Raw]
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = valueFromASTWithVars(c.Value, variableValues)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			if f.Value != nil && f.Value.Kind == language.Variable {
				if _, ok := variableValues[f.Value.Raw]; !ok {
					continue
				}
			}
			m[f.Name] = valueFromASTWithVars(f.Value, variableValues)
		}
		return m
	default:
		return astValueToGo(value)
	}
}

// astValueToGo converts a constant AST value to a Go value.
func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		if iv, err := strconv.ParseInt(value.Raw, 10, 64); err == nil {
			return int(iv)
		}
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.NullValue:
		return nil
	case language.EnumValue:
		return value.Raw
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			m[f.Name] = astValueToGo(f.Value)
		}
		return m
	default:
		return nil
	}
}

// coerceValue coerces an input value to the given type.
func coerceValue(s *schema.Schema, value any, targetType *schema.TypeRef) (any, error) {
	if schema.IsNonNull(targetType) {
		if value == nil {
			return nil, fmt.Errorf("expected non-null value of type %s", typeString(targetType))
		}
		return coerceValue(s, value, schema.Unwrap(targetType))
	}
	if value == nil {
		return nil, nil
	}
	if targetType.Kind == schema.TypeRefKindList {
		return coerceListValue(s, value, targetType)
	}

	namedType := targetType.Named
	switch namedType {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	case "ID":
		return coerceToID(value)
	}

	t := s.Types[namedType]
	if t == nil {
		return nil, fmt.Errorf("unknown type %q", namedType)
	}
	switch t.Kind {
	case schema.TypeKindEnum:
		return coerceToEnum(t, value)
	case schema.TypeKindInputObject:
		return coerceInputObject(s, t, value)
	default:
		// Custom scalars pass through untouched.
		return value, nil
	}
}

func coerceListValue(s *schema.Schema, value any, listType *schema.TypeRef) (any, error) {
	innerType := schema.Unwrap(listType)
	if slice, ok := value.([]any); ok {
		out := make([]any, len(slice))
		for i, item := range slice {
			ci, err := coerceValue(s, item, innerType)
			if err != nil {
				return nil, fmt.Errorf("at index %d: %w", i, err)
			}
			out[i] = ci
		}
		return out, nil
	}
	// A single value is coerced to a list of one.
	ci, err := coerceValue(s, value, innerType)
	if err != nil {
		return nil, err
	}
	return []any{ci}, nil
}

func coerceInputObject(s *schema.Schema, t *schema.Type, value any) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object for input type %s, got %T", t.Name, value)
	}
	for k := range obj {
		if findInputField(t, k) == nil {
			return nil, fmt.Errorf("field %q is not defined by type %s", k, t.Name)
		}
	}
	out := make(map[string]any, len(t.InputFields))
	for _, f := range t.InputFields {
		v, ok := obj[f.Name]
		if !ok {
			if f.DefaultValue != nil {
				out[f.Name] = f.DefaultValue
			} else if schema.IsNonNull(f.Type) {
				return nil, fmt.Errorf("field %s.%s of required type %s was not provided", t.Name, f.Name, typeString(f.Type))
			}
			continue
		}
		cv, err := coerceValue(s, v, f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", t.Name, f.Name, err)
		}
		out[f.Name] = cv
	}
	if t.OneOf {
		set := 0
		for _, v := range out {
			if v != nil {
				set++
			}
		}
		if set != 1 || len(out) != 1 {
			return nil, fmt.Errorf("oneOf input %s must specify exactly one non-null field", t.Name)
		}
	}
	return out, nil
}

func findInputField(t *schema.Type, name string) *schema.InputValue {
	for _, f := range t.InputFields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func coerceToEnum(t *schema.Type, value any) (any, error) {
	name, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("enum %s expects a name, got %T", t.Name, value)
	}
	for _, ev := range t.EnumValues {
		if ev.Name == name {
			return name, nil
		}
	}
	return nil, fmt.Errorf("value %q does not exist in enum %s", name, t.Name)
}

func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return nil, fmt.Errorf("int cannot represent non 32-bit value %d", v)
		}
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return nil, fmt.Errorf("int cannot represent non 32-bit value %d", v)
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
			return nil, fmt.Errorf("int cannot represent non-integer value %v", v)
		}
		return int(v), nil
	case json.Number:
		iv, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("int cannot represent non-integer value %s", v)
		}
		return coerceToInt(iv)
	}
	return nil, fmt.Errorf("int cannot represent %v (%T)", value, value)
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("float cannot represent %s", v)
		}
		return f, nil
	}
	return nil, fmt.Errorf("float cannot represent %v (%T)", value, value)
}

func coerceToString(value any) (any, error) {
	if v, ok := value.(string); ok {
		return v, nil
	}
	return nil, fmt.Errorf("string cannot represent %v (%T)", value, value)
}

func coerceToBoolean(value any) (any, error) {
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("boolean cannot represent %v (%T)", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	case json.Number:
		return v.String(), nil
	}
	return nil, fmt.Errorf("ID cannot represent %v (%T)", value, value)
}

// typeString renders a type reference in SDL notation.
func typeString(t *schema.TypeRef) string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case schema.TypeRefKindNonNull:
		return typeString(t.OfType) + "!"
	case schema.TypeRefKindList:
		var b strings.Builder
		b.WriteByte('[')
		b.WriteString(typeString(t.OfType))
		b.WriteByte(']')
		return b.String()
	default:
		return t.Named
	}
}
