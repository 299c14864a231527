package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const mutationSDL = `
type Query { ping: String }
type Mutation { create(name: String!): Item! }
type Item { name: String detail: String }
`

func TestRoot_AsyncRootFieldsShareBatch(t *testing.T) {
	sch := mustSchema(t, `type Query { a: String b: String }`, "Query.a", "Query.b")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.a": NewMockValueResolver("A"),
		"Query.b": NewMockValueResolver("B"),
	})
	res := execute(t, sch, rt, "{ a b }", nil)
	require.JSONEq(t, `{"data":{"a":"A","b":"B"}}`, resultJSON(t, res))

	calls := rt.GetCalls()
	require.Len(t, calls, 2)
	require.Equal(t, 1, calls[0].BatchID)
	require.Equal(t, 1, calls[1].BatchID)
}

func TestMutation_SerialEvaluation(t *testing.T) {
	sch := mustSchema(t, mutationSDL, "Mutation.create", "Item.detail")
	var order []string
	rt := NewMockRuntime(map[string]MockResolver{
		"Mutation.create": func(_ context.Context, _ any, args map[string]any) (any, error) {
			order = append(order, "create "+args["name"].(string))
			return map[string]any{"name": args["name"]}, nil
		},
		"Item.name": prop("name"),
		"Item.detail": func(_ context.Context, source any, _ map[string]any) (any, error) {
			name := source.(map[string]any)["name"].(string)
			order = append(order, "detail "+name)
			return "about " + name, nil
		},
	})
	res := execute(t, sch, rt, `mutation {
		first: create(name: "one") { name detail }
		second: create(name: "two") { detail }
	}`, nil)

	require.JSONEq(t, `{"data":{
		"first":{"name":"one","detail":"about one"},
		"second":{"detail":"about two"}
	}}`, resultJSON(t, res))
	require.Equal(t, []string{"create one", "detail one", "create two", "detail two"}, order)
	require.Equal(t, []string{"first", "second"}, res.Data.Keys())
}

func TestMutation_NonNullFailureStopsLaterFields(t *testing.T) {
	sch := mustSchema(t, mutationSDL)
	calls := 0
	rt := NewMockRuntime(map[string]MockResolver{
		"Mutation.create": func(_ context.Context, _ any, _ map[string]any) (any, error) {
			calls++
			return nil, nil
		},
	})
	res := execute(t, sch, rt, `mutation { a: create(name: "x") { name } b: create(name: "y") { name } }`, nil)
	require.JSONEq(t, `{"data":null,"errors":[{"message":"Cannot return null for non-nullable field a.","path":["a"]}]}`, resultJSON(t, res))
	require.Equal(t, 1, calls)
}
