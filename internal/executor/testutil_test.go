package executor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	language "github.com/hanpama/graphcore/internal/language"
	schema "github.com/hanpama/graphcore/internal/schema"
)

// mustParseQuery parses a GraphQL query and fails the test on error.
func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

// mustSchema builds a schema from SDL and marks the "Type.field" entries of
// async as async fields.
func mustSchema(t *testing.T, sdl string, async ...string) *schema.Schema {
	t.Helper()
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	for _, key := range async {
		typeName, fieldName, _ := strings.Cut(key, ".")
		typ := sch.Types[typeName]
		require.NotNil(t, typ, key)
		f := typ.GetField(fieldName)
		require.NotNil(t, f, key)
		f.Async = true
	}
	return sch
}

func execute(t *testing.T, sch *schema.Schema, rt Runtime, query string, vars map[string]any) *ExecutionResult {
	t.Helper()
	return NewExecutor(rt, sch).ExecuteRequest(context.Background(), mustParseQuery(t, query), "", vars, nil)
}

type responseError struct {
	Message string `json:"message"`
	Path    Path   `json:"path,omitempty"`
}

// resultJSON renders the data and error messages/paths of res.
func resultJSON(t *testing.T, res *ExecutionResult) string {
	t.Helper()
	out := map[string]any{}
	if res.Executed {
		out["data"] = res.Data
	}
	if len(res.Errors) > 0 {
		errs := make([]responseError, len(res.Errors))
		for i, e := range res.Errors {
			errs[i] = responseError{Message: e.Message, Path: e.Path}
		}
		out["errors"] = errs
	}
	b, err := json.Marshal(out)
	require.NoError(t, err)
	return string(b)
}
