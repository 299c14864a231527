package walker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/hanpama/graphcore/internal/language"
)

func mustParse(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(q)
	require.NoError(t, err)
	return doc
}

func fieldNames(w *Walker, set language.SelectionSet) []string {
	var out []string
	for f := range w.Fields(set) {
		out = append(out, f.Name)
	}
	return out
}

func TestFieldsExpandsFragments(t *testing.T) {
	doc := mustParse(t, `
		query {
			a
			... on Query { b ... on Query { c } }
			...F
			e
		}
		fragment F on Query { d }
	`)
	w := New(doc)
	got := fieldNames(w, doc.Operations[0].SelectionSet)
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "e"}, got); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestFieldsSkipsUndefinedFragment(t *testing.T) {
	doc := mustParse(t, `{ a ...Missing b }`)
	got := fieldNames(New(doc), doc.Operations[0].SelectionSet)
	require.Equal(t, []string{"a", "b"}, got)
}

func TestFieldsSkipIntrospection(t *testing.T) {
	doc := mustParse(t, `{ __typename __schema { types { name } } user }`)

	all := fieldNames(New(doc), doc.Operations[0].SelectionSet)
	require.Equal(t, []string{"__typename", "__schema", "user"}, all)

	filtered := fieldNames(New(doc, SkipIntrospection()), doc.Operations[0].SelectionSet)
	require.Equal(t, []string{"user"}, filtered)
}

func TestFieldsStopsEarly(t *testing.T) {
	doc := mustParse(t, `{ a ...F c } fragment F on Query { b }`)
	w := New(doc)
	var got []string
	for f := range w.Fields(doc.Operations[0].SelectionSet) {
		got = append(got, f.Name)
		if f.Name == "b" {
			break
		}
	}
	require.Equal(t, []string{"a", "b"}, got)
	require.Zero(t, w.active["F"])
}

func TestAllFieldsDepth(t *testing.T) {
	doc := mustParse(t, `
		{ user { ...U friends { name } } }
		fragment U on User { id }
	`)
	type visit struct {
		Depth int
		Name  string
	}
	var got []visit
	for depth, f := range New(doc).AllFields(doc.Operations[0].SelectionSet) {
		got = append(got, visit{depth, f.Name})
	}
	want := []visit{{0, "user"}, {1, "id"}, {1, "friends"}, {2, "name"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("visits mismatch (-want +got):\n%s", diff)
	}
}

func TestAllFieldsFragmentCycleTerminates(t *testing.T) {
	doc := mustParse(t, `
		{ user { ...A } }
		fragment A on User { name friends { ...A } }
	`)
	var names []string
	for _, f := range New(doc).AllFields(doc.Operations[0].SelectionSet) {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"user", "name", "friends"}, names)
}
