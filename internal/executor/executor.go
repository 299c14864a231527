package executor

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	language "github.com/hanpama/graphcore/internal/language"
	schema "github.com/hanpama/graphcore/internal/schema"
)

type Path = gqlerrors.Path

// slot is a position in the response tree that can be set to null. The slot
// with a nil set function is the data entry itself.
type slot struct {
	path Path
	set  func(any)
}

var rootSlot = slot{}

// executionState holds the state during query execution
type executionState struct {
	runtime        Runtime
	schema         *schema.Schema
	document       *language.QueryDocument
	variableValues map[string]any
	context        context.Context
	asyncTaskGroup []asyncTask
	errors         gqlerrors.List
	errorPaths     map[string]struct{}
	// prefixes of paths that have been nullified (tombstoned)
	nullifiedPrefix map[string]struct{}
	dataNull        bool
	missingFragment map[string]bool
}

// asyncTask represents a pending async field resolution
type asyncTask struct {
	Task      FieldTask
	FieldType *schema.TypeRef
	Fields    []*language.Field
	// self receives the completed value; up is the nearest nullable ancestor
	// that receives null when a Non-Null field fails.
	self slot
	up   slot
}

type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

func (e *Executor) Schema() *schema.Schema { return e.schema }

func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	operation, err := GetOperation(document, operationName)
	if err != nil {
		return &ExecutionResult{Errors: gqlerrors.List{err}}
	}

	coercedVariableValues, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return &ExecutionResult{Errors: gqlerrors.List{err}}
	}

	var rootType *schema.Type
	switch operation.Operation {
	case language.Query:
		rootType = e.schema.GetQueryType()
	case language.Mutation:
		rootType = e.schema.GetMutationType()
	case language.Subscription:
		rootType = e.schema.GetSubscriptionType()
	default:
		return &ExecutionResult{Errors: gqlerrors.List{gqlerrors.New("unsupported operation type: %s", operation.Operation)}}
	}
	if rootType == nil {
		return &ExecutionResult{Errors: gqlerrors.List{gqlerrors.New("Schema is not configured for %ss.", operation.Operation)}}
	}

	state := &executionState{
		runtime:         e.runtime,
		schema:          e.schema,
		document:        document,
		variableValues:  coercedVariableValues,
		context:         ctx,
		errorPaths:      make(map[string]struct{}),
		nullifiedPrefix: make(map[string]struct{}),
		missingFragment: make(map[string]bool),
	}

	var data *ResultMap
	if operation.Operation == language.Mutation {
		data = executeSerially(state, rootType, operation.SelectionSet, initialValue)
	} else {
		data = executeSelectionSet(state, rootType, operation.SelectionSet, initialValue, Path{}, rootSlot)
		if data == nil {
			state.dataNull = true
		}
		state.drain()
	}
	if state.dataNull {
		data = nil
	}
	return &ExecutionResult{Data: data, Errors: state.errors, Executed: true}
}

// executeSerially runs mutation root fields one after another; each field,
// including its async subtree, completes before the next one starts.
func executeSerially(state *executionState, rootType *schema.Type, selectionSet language.SelectionSet, initialValue any) *ResultMap {
	groupedFields := collectFields(state, rootType, selectionSet)
	resultMap := NewResultMap()
	for _, collectedField := range groupedFields.orderedFields() {
		if !executeField(state, rootType, initialValue, collectedField, Path{}, rootSlot, resultMap) {
			state.dataNull = true
			return nil
		}
		state.drain()
		if state.dataNull {
			return nil
		}
	}
	return resultMap
}

// drain runs the depth-wise batch loop until no async work is left.
func (state *executionState) drain() {
	for len(state.asyncTaskGroup) > 0 && !state.dataNull {
		filtered, results := flushAsyncTasks(state)
		for i, at := range filtered {
			var res AsyncResolveResult
			if i < len(results) {
				res = results[i]
			} else {
				res = AsyncResolveResult{Error: fmt.Errorf("no result for %s.%s", at.Task.ObjectType, at.Task.Field)}
			}
			completeAsyncField(state, at, res)
		}
	}
}

// executeSelectionSet executes a selection set without flushing. It returns
// nil when a Non-Null field of the set resolved to null.
func executeSelectionSet(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet, objectValue any, path Path, up slot) *ResultMap {
	groupedFields := collectFields(state, objectType, selectionSet)
	resultMap := NewResultMap()
	for _, collectedField := range groupedFields.orderedFields() {
		if !executeField(state, objectType, objectValue, collectedField, path, up, resultMap) {
			state.markNullifiedPrefix(path)
			return nil
		}
	}
	return resultMap
}

// executeField resolves one response key into resultMap. It reports false
// when the field is Non-Null and its value is null.
func executeField(state *executionState, objectType *schema.Type, objectValue any, collectedField collectedField, path Path, up slot, resultMap *ResultMap) bool {
	responseName := collectedField.ResponseName
	fields := collectedField.Fields
	fieldName := fields[0].Name
	fieldPath := appendPath(path, responseName)

	if fieldName == "__typename" {
		resultMap.Set(responseName, objectType.Name)
		return true
	}

	fieldDef := objectType.GetField(fieldName)
	if fieldDef == nil {
		state.addError(gqlerrors.New("Cannot query field %q on type %q.", fieldName, objectType.Name), fieldPath, fields)
		return true
	}

	self := slot{path: fieldPath, set: func(v any) { resultMap.Set(responseName, v) }}
	argumentValues, ok := coerceArgumentValues(state, fieldDef, fields[0].Arguments, fieldPath, fields)
	if !ok {
		return completeFieldResult(state, fieldDef.Type, nil, self)
	}

	task := FieldTask{
		ObjectType: objectType.Name,
		Field:      fieldName,
		Source:     objectValue,
		Args:       argumentValues,
		Path:       fieldPath,
	}

	if fieldDef.Async {
		// Reserve the key so the response keeps selection order.
		resultMap.Set(responseName, nil)
		state.asyncTaskGroup = append(state.asyncTaskGroup, asyncTask{
			Task:      task,
			FieldType: fieldDef.Type,
			Fields:    fields,
			self:      self,
			up:        up,
		})
		return true
	}

	resolvedValue, err := resolveSyncField(state, task)
	if err != nil {
		state.addError(err, fieldPath, fields)
		resolvedValue = nil
	}
	completed := completeValue(state, fieldDef.Type, fields, resolvedValue, fieldPath, self, up)
	return completeFieldResult(state, fieldDef.Type, completed, self)
}

func completeFieldResult(state *executionState, fieldType *schema.TypeRef, completed any, self slot) bool {
	if isNullish(completed) {
		if schema.IsNonNull(fieldType) {
			return false
		}
		self.set(nil)
		return true
	}
	self.set(completed)
	return true
}

// flushAsyncTasks flushes tasks and returns results (filtered by tombstones)
func flushAsyncTasks(state *executionState) ([]asyncTask, []AsyncResolveResult) {
	filtered := make([]asyncTask, 0, len(state.asyncTaskGroup))
	for _, at := range state.asyncTaskGroup {
		if state.hasNullifiedPrefix(at.Task.Path) {
			continue
		}
		filtered = append(filtered, at)
	}
	state.asyncTaskGroup = nil
	if len(filtered) == 0 {
		return nil, nil
	}

	tasks := make([]FieldTask, len(filtered))
	for i, at := range filtered {
		tasks[i] = at.Task
	}
	return filtered, batchResolve(state, tasks)
}

func batchResolve(state *executionState, tasks []FieldTask) (results []AsyncResolveResult) {
	defer func() {
		if r := recover(); r != nil {
			perr := gqlerrors.NewPanicError(r)
			results = make([]AsyncResolveResult, len(tasks))
			for i := range results {
				results[i] = AsyncResolveResult{Error: perr}
			}
		}
	}()
	return state.runtime.BatchResolveAsync(state.context, tasks)
}

// completeAsyncField completes a single async result, with non-null propagation and pruning
func completeAsyncField(state *executionState, at asyncTask, res AsyncResolveResult) {
	path := at.Task.Path
	if state.hasNullifiedPrefix(path) {
		return
	}

	value := res.Value
	if res.Error != nil {
		state.addError(res.Error, path, at.Fields)
		value = nil
	}

	completed := completeValue(state, at.FieldType, at.Fields, value, path, at.self, at.up)
	if isNullish(completed) {
		if schema.IsNonNull(at.FieldType) {
			state.nullify(at.up)
			return
		}
		at.self.set(nil)
		return
	}
	at.self.set(completed)
}

// nullify sets s to null and drops all work below it.
func (state *executionState) nullify(s slot) {
	if s.set == nil {
		state.dataNull = true
		return
	}
	s.set(nil)
	state.markNullifiedPrefix(s.path)
}

// completeValue completes a value. self is the slot the value is written to;
// up is the nearest nullable slot above it.
func completeValue(state *executionState, fieldType *schema.TypeRef, fields []*language.Field, result any, path Path, self, up slot) any {
	if schema.IsNonNull(fieldType) {
		if isNullish(result) {
			if !state.hasErrorAtPath(path) {
				state.addError(gqlerrors.New("Cannot return null for non-nullable field %s.", pathToString(path)), path, fields)
			}
			return nil
		}
		// This position cannot hold null, so failures below it land on up.
		return completeUnwrapped(state, schema.Unwrap(fieldType), fields, result, path, up)
	}
	if isNullish(result) {
		return nil
	}
	return completeUnwrapped(state, fieldType, fields, result, path, self)
}

// completeUnwrapped completes a list or named type. childUp receives null
// when a Non-Null descendant fails asynchronously.
func completeUnwrapped(state *executionState, fieldType *schema.TypeRef, fields []*language.Field, result any, path Path, childUp slot) any {
	if schema.IsList(fieldType) {
		return completeListValue(state, fieldType, fields, result, path, childUp)
	}
	namedType := schema.GetNamedType(fieldType)
	typeObj := state.schema.Types[namedType]
	if typeObj == nil {
		state.addError(gqlerrors.New("Unknown type: %s", namedType), path, fields)
		return nil
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		serialized, err := serializeLeaf(state, namedType, result)
		if err != nil {
			state.addError(err, path, fields)
			return nil
		}
		return serialized
	case schema.TypeKindObject:
		return completeObjectValue(state, typeObj, fields, result, path, childUp)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return completeAbstractValue(state, typeObj, fields, result, path, childUp)
	default:
		state.addError(gqlerrors.New("Cannot complete value of unexpected type: %s", typeObj.Kind), path, fields)
		return nil
	}
}

// completeListValue completes a list value
func completeListValue(state *executionState, listType *schema.TypeRef, fields []*language.Field, result any, path Path, up slot) any {
	var items []any
	if direct, ok := result.([]any); ok {
		items = direct
	} else {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			state.addError(gqlerrors.New("Expected Iterable, but did not find one for field %s.", pathToString(path)), path, fields)
			return nil
		}
		items = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := schema.Unwrap(listType)
	completed := make([]any, len(items))
	for i, item := range items {
		p := appendPath(path, i)
		itemSlot := slot{path: p, set: func(v any) { completed[i] = v }}
		v := completeValue(state, inner, fields, item, p, itemSlot, up)
		if isNullish(v) {
			if schema.IsNonNull(inner) {
				state.markNullifiedPrefix(path)
				return nil
			}
			v = nil
		}
		completed[i] = v
	}
	return completed
}

func completeObjectValue(state *executionState, objectType *schema.Type, fields []*language.Field, result any, path Path, up slot) any {
	sub := mergeSelectionSets(fields)
	m := executeSelectionSet(state, objectType, sub, result, path, up)
	if m == nil {
		return nil
	}
	return m
}

func completeAbstractValue(state *executionState, abstractType *schema.Type, fields []*language.Field, result any, path Path, up slot) any {
	typeName, err := resolveType(state, abstractType.Name, result)
	if err != nil {
		state.addError(err, path, fields)
		return nil
	}
	objectType := state.schema.Types[typeName]
	if objectType == nil || objectType.Kind != schema.TypeKindObject || !isPossibleType(state.schema, abstractType, objectType) {
		state.addError(gqlerrors.New("Abstract type %q must resolve to an Object type at runtime for field %s. Got: %q.", abstractType.Name, pathToString(path), typeName), path, fields)
		return nil
	}
	return completeObjectValue(state, objectType, fields, result, path, up)
}

func isPossibleType(s *schema.Schema, abstractType, objectType *schema.Type) bool {
	for _, name := range abstractType.PossibleTypes {
		if name == objectType.Name {
			return true
		}
	}
	return abstractType.Kind == schema.TypeKindInterface && objectType.Implements(abstractType.Name)
}

func pathToString(path Path) string {
	var b strings.Builder
	for i, elem := range path {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func appendPath(path Path, elem any) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

// Prefix tombstone helpers
func (state *executionState) markNullifiedPrefix(p Path) {
	if len(p) == 0 {
		return
	}
	state.nullifiedPrefix[pathToString(p)] = struct{}{}
}

func (state *executionState) hasNullifiedPrefix(p Path) bool {
	if state.dataNull {
		return true
	}
	if len(state.nullifiedPrefix) == 0 {
		return false
	}
	for i := 1; i <= len(p); i++ {
		if _, ok := state.nullifiedPrefix[pathToString(p[:i])]; ok {
			return true
		}
	}
	return false
}

// GetOperation selects the operation to run: the named one, or the only one
// when name is empty.
func GetOperation(document *language.QueryDocument, operationName string) (*language.OperationDefinition, *gqlerrors.Error) {
	if operationName == "" {
		switch len(document.Operations) {
		case 0:
			return nil, gqlerrors.New("Must provide an operation.")
		case 1:
			return document.Operations[0], nil
		default:
			return nil, gqlerrors.New("Must provide operation name if query contains multiple operations.")
		}
	}
	if op := document.Operations.ForName(operationName); op != nil {
		return op, nil
	}
	return nil, gqlerrors.New("Unknown operation named %q.", operationName)
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	var ref *schema.TypeRef
	if t.Elem != nil {
		ref = schema.ListType(typeRefFromAST(t.Elem))
	} else {
		ref = schema.NamedType(t.NamedType)
	}
	if t.NonNull {
		return schema.NonNullType(ref)
	}
	return ref
}

// addError records err at path with the locations of fields.
func (state *executionState) addError(err error, path Path, fields []*language.Field) {
	var locations []language.Location
	if len(fields) > 0 {
		locations = language.LocationOf(fields[0].Position)
	}
	state.errors = append(state.errors, gqlerrors.Wrap(err, path, locations))
	state.errorPaths[pathToString(path)] = struct{}{}
}

// hasErrorAtPath reports whether an error with the given path already exists.
func (state *executionState) hasErrorAtPath(path Path) bool {
	_, ok := state.errorPaths[pathToString(path)]
	return ok
}

func resolveSyncField(state *executionState, task FieldTask) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, gqlerrors.NewPanicError(r)
		}
	}()
	return state.runtime.ResolveSync(state.context, task)
}

func resolveType(state *executionState, abstractType string, value any) (name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			name, err = "", gqlerrors.NewPanicError(r)
		}
	}()
	return state.runtime.ResolveType(state.context, abstractType, value)
}

func serializeLeaf(state *executionState, typeName string, value any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, gqlerrors.NewPanicError(r)
		}
	}()
	return state.runtime.SerializeLeafValue(state.context, typeName, value)
}

// mergeSelectionSets merges selection sets from multiple fields
func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

// isNullish returns true for nil interfaces and typed nils (map, slice, ptr, interface)
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
