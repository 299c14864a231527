package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
)

// shortRuntime drops every batch result.
type shortRuntime struct{ *MockRuntime }

func (shortRuntime) BatchResolveAsync(context.Context, []FieldTask) []AsyncResolveResult { return nil }

func TestRuntimeContract_PayloadTransparency(t *testing.T) {
	sch := mustSchema(t, `type Query { find(id: ID!, tags: [String]): String }`, "Query.find")
	rt := NewMockRuntime(map[string]MockResolver{"Query.find": NewMockValueResolver("ok")})
	root := map[string]any{"root": true}

	res := NewExecutor(rt, sch).ExecuteRequest(
		context.Background(),
		mustParseQuery(t, `query($t: String) { x: find(id: 7, tags: [$t, "b"]) }`),
		"", map[string]any{"t": "a"}, root,
	)
	require.JSONEq(t, `{"data":{"x":"ok"}}`, resultJSON(t, res))

	calls := rt.GetCalls()
	require.Len(t, calls, 1)
	require.Equal(t, Call{
		Kind:       CallKindAsync,
		ObjectType: "Query",
		Field:      "find",
		Source:     root,
		Args:       map[string]any{"id": "7", "tags": []any{"a", "b"}},
		Path:       Path{"x"},
		BatchID:    1,
	}, calls[0])
}

func TestRuntimeContract_PartialFailure(t *testing.T) {
	sch := mustSchema(t, `type Query { items: [Item] } type Item { v: String }`, "Item.v")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.items": NewMockValueResolver([]any{1, 2, 3}),
		"Item.v": func(_ context.Context, source any, _ map[string]any) (any, error) {
			if source.(int) == 2 {
				return nil, errors.New("two failed")
			}
			return "ok", nil
		},
	})
	res := execute(t, sch, rt, "{ items { v } }", nil)
	require.JSONEq(t, `{"data":{"items":[{"v":"ok"},{"v":null},{"v":"ok"}]},"errors":[{"message":"two failed","path":["items",1,"v"]}]}`, resultJSON(t, res))
}

func TestRuntimeContract_MissingBatchResults(t *testing.T) {
	sch := mustSchema(t, `type Query { a: String }`, "Query.a")
	res := execute(t, sch, shortRuntime{NewMockRuntime(nil)}, "{ a }", nil)
	require.JSONEq(t, `{"data":{"a":null},"errors":[{"message":"no result for Query.a","path":["a"]}]}`, resultJSON(t, res))
}

func TestRuntimeContract_Panics(t *testing.T) {
	panicky := func(context.Context, any, map[string]any) (any, error) { panic("kaboom") }

	t.Run("sync resolver", func(t *testing.T) {
		sch := mustSchema(t, `type Query { a: String b: String }`)
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.a": panicky,
			"Query.b": NewMockValueResolver("B"),
		})
		res := execute(t, sch, rt, "{ a b }", nil)
		require.JSONEq(t, `{"data":{"a":null,"b":"B"},"errors":[{"message":"panic: kaboom","path":["a"]}]}`, resultJSON(t, res))

		var perr *gqlerrors.PanicError
		require.ErrorAs(t, res.Errors[0], &perr)
		require.NotEmpty(t, perr.StackTrace())
	})

	t.Run("batch resolver", func(t *testing.T) {
		sch := mustSchema(t, `type Query { a: String b: String }`, "Query.a", "Query.b")
		rt := NewMockRuntime(map[string]MockResolver{
			"Query.a": panicky,
			"Query.b": NewMockValueResolver("B"),
		})
		res := execute(t, sch, rt, "{ a b }", nil)
		require.JSONEq(t, `{"data":{"a":null,"b":null},"errors":[
			{"message":"panic: kaboom","path":["a"]},
			{"message":"panic: kaboom","path":["b"]}
		]}`, resultJSON(t, res))
	})
}
