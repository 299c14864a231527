package executor

import (
	"context"
	"errors"
	"sync"

	schema "github.com/hanpama/graphcore/internal/schema"
)

// MockResolver resolves one field instance. MockRuntime uses the same
// resolver for sync calls and for each task of an async batch.
type MockResolver func(ctx context.Context, source any, args map[string]any) (any, error)

const (
	CallKindSync  = "sync"
	CallKindAsync = "async"
)

func NewMockValueResolver(val any) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return val, nil }
}

func NewMockErrorResolver(err error) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return nil, err }
}

// Call records one resolved task. Tasks handed over in the same
// BatchResolveAsync call share a BatchID; sync calls have BatchID 0.
type Call struct {
	Kind       string
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
	Path       Path
	BatchID    int
}

// MockRuntime is a Runtime keyed by "ObjectType.Field" that logs every call.
// Abstract types resolve through a "__typename" entry of map values.
type MockRuntime struct {
	mu         sync.Mutex
	resolvers  map[string]MockResolver
	calls      []Call
	batches    int
	serializer func(val any, t schema.TypeRef) (any, error)
}

func NewMockRuntime(resolvers map[string]MockResolver) *MockRuntime {
	m := &MockRuntime{resolvers: make(map[string]MockResolver, len(resolvers))}
	for k, r := range resolvers {
		m.resolvers[k] = r
	}
	return m
}

func (m *MockRuntime) SetResolver(objectType, field string, r MockResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers[objectType+"."+field] = r
}

// SetSerializer replaces the leaf serializer of a MockRuntime.
func SetSerializer(r Runtime, f func(val any, t schema.TypeRef) (any, error)) {
	if m, ok := r.(*MockRuntime); ok {
		m.mu.Lock()
		m.serializer = f
		m.mu.Unlock()
	}
}

func (m *MockRuntime) record(kind string, batch int, task FieldTask) MockResolver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{
		Kind:       kind,
		ObjectType: task.ObjectType,
		Field:      task.Field,
		Source:     task.Source,
		Args:       task.Args,
		Path:       task.Path,
		BatchID:    batch,
	})
	return m.resolvers[task.ObjectType+"."+task.Field]
}

func (m *MockRuntime) ResolveSync(ctx context.Context, task FieldTask) (any, error) {
	r := m.record(CallKindSync, 0, task)
	if r == nil {
		return nil, nil
	}
	return r(ctx, task.Source, task.Args)
}

// BatchResolveAsync logs tasks grouped by field, in order of first
// appearance, and returns results in task order.
func (m *MockRuntime) BatchResolveAsync(ctx context.Context, tasks []FieldTask) []AsyncResolveResult {
	if len(tasks) == 0 {
		return nil
	}
	m.mu.Lock()
	m.batches++
	batch := m.batches
	m.mu.Unlock()

	var order []string
	groups := map[string][]int{}
	for i, t := range tasks {
		key := t.ObjectType + "." + t.Field
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	results := make([]AsyncResolveResult, len(tasks))
	for _, key := range order {
		for _, i := range groups[key] {
			if r := m.record(CallKindAsync, batch, tasks[i]); r != nil {
				v, err := r(ctx, tasks[i].Source, tasks[i].Args)
				results[i] = AsyncResolveResult{Value: v, Error: err}
			}
		}
	}
	return results
}

func (m *MockRuntime) ResolveType(_ context.Context, _ string, value any) (string, error) {
	if obj, ok := value.(map[string]any); ok {
		if name, ok := obj["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", errors.New("cannot resolve type")
}

func (m *MockRuntime) SerializeLeafValue(_ context.Context, typeName string, value any) (any, error) {
	m.mu.Lock()
	f := m.serializer
	m.mu.Unlock()
	if f == nil {
		return value, nil
	}
	return f(value, *schema.NamedType(typeName))
}

// GetCalls returns a copy of the call log.
func (m *MockRuntime) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
