package gqlerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	language "github.com/hanpama/graphcore/internal/language"
)

func TestFormatInternalProduction(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := NewFormatter(false, zap.New(core))

	cause := errors.New("pq: connection refused to 10.0.0.3")
	got := f.Format(Wrap(cause, Path{"user", "name"}, []language.Location{{Line: 1, Column: 3}}))

	want := &Error{
		Message:    InternalMessage,
		Locations:  []language.Location{{Line: 1, Column: 3}},
		Path:       Path{"user", "name"},
		Extensions: map[string]any{"category": CategoryInternal},
	}
	if diff := cmp.Diff(want, got, cmpIgnoreCause); diff != "" {
		t.Fatalf("formatted error mismatch (-want +got):\n%s", diff)
	}
	require.NotContains(t, fmt.Sprint(got.Message, got.Extensions), "connection refused")
	require.Equal(t, 1, logs.Len())
}

func TestFormatInternalDebug(t *testing.T) {
	f := NewFormatter(true, nil)

	got := f.Format(Wrap(errors.New("boom"), nil, nil))
	require.Equal(t, InternalMessage, got.Message)
	require.Equal(t, CategoryInternal, got.Extensions["category"])
	require.Equal(t, "boom", got.Extensions["debugMessage"])
	require.Contains(t, got.Extensions["trace"], "goroutine")
	require.Contains(t, got.Extensions["trace"], "gqlerrors.Wrap")

	panicked := f.Format(Wrap(NewPanicError("nil map"), nil, nil))
	require.Equal(t, "panic: nil map", panicked.Extensions["debugMessage"])
	require.Contains(t, panicked.Extensions["trace"], "goroutine")
	require.Contains(t, panicked.Extensions["trace"], "NewPanicError")
}

func TestFormatWrappedInternalCauseTrace(t *testing.T) {
	err := Wrap(fmt.Errorf("loading user 7: %w", errors.New("db down")), Path{"user"}, nil)

	debugged := NewFormatter(true, zap.NewNop()).Format(err)
	require.Equal(t, CategoryInternal, debugged.Extensions["category"])
	require.Equal(t, "loading user 7: db down", debugged.Extensions["debugMessage"])
	require.NotEmpty(t, debugged.Extensions["trace"])

	prod := NewFormatter(false, zap.NewNop()).Format(err)
	require.Equal(t, map[string]any{"category": CategoryInternal}, prod.Extensions)
}

func TestFormatClientSafeUsesOwnMessage(t *testing.T) {
	f := NewFormatter(false, nil)

	err := Wrap(fmt.Errorf("loading friend: %w", &AuthorizationError{Message: "denied"}), Path{"me", "friend"}, nil)
	got := f.Format(err)
	require.Equal(t, "denied", got.Message)
	require.Equal(t, CategoryAuthorization, got.Extensions["category"])
	require.Equal(t, "loading friend: denied", err.Message, "input is not modified")
}

func TestFormatClientSafe(t *testing.T) {
	f := NewFormatter(false, nil)

	tests := []struct {
		name string
		err  error
		want map[string]any
	}{
		{
			name: "validation",
			err: &ValidationError{
				Message: "Invalid input",
				Fields:  map[string][]string{"email": {"must be an email"}},
			},
			want: map[string]any{
				"category":   CategoryValidation,
				"validation": map[string][]string{"email": {"must be an email"}},
			},
		},
		{
			name: "authorization",
			err:  &AuthorizationError{Message: "Forbidden"},
			want: map[string]any{"category": CategoryAuthorization},
		},
		{
			name: "wrapped not found",
			err:  fmt.Errorf("load: %w", &NotFoundError{Kind: "loader", Name: "users"}),
			want: map[string]any{"category": CategoryNotFound},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Format(Wrap(tt.err, Path{"q"}, nil))
			var aware ClientAware
			require.ErrorAs(t, tt.err, &aware)
			require.Equal(t, aware.Error(), got.Message)
			if diff := cmp.Diff(tt.want, got.Extensions); diff != "" {
				t.Fatalf("extensions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatLanguageError(t *testing.T) {
	f := NewFormatter(false, nil)
	got := f.Format(New("Cannot query field %q on type %q.", "nope", "Query"))
	require.Equal(t, `Cannot query field "nope" on type "Query".`, got.Message)
	require.Equal(t, map[string]any{"category": CategoryGraphQL}, got.Extensions)

	rule := New("too deep").SetExtension("category", CategoryGraphQL).SetExtension("rule", "DepthLimiter")
	require.Equal(t, "DepthLimiter", f.Format(rule).Extensions["rule"])
}

func TestFormatListKeepsOrder(t *testing.T) {
	f := NewFormatter(false, nil)
	got := f.FormatList(List{New("a"), Wrap(errors.New("secret"), nil, nil), New("c")})
	require.Len(t, got, 3)
	require.Equal(t, []string{"a", InternalMessage, "c"}, []string{got[0].Message, got[1].Message, got[2].Message})
	require.Nil(t, f.FormatList(nil))
}

func TestNotFoundIs(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &NotFoundError{Kind: "persistedQuery", Name: "abc"})
	require.ErrorIs(t, err, PersistedQueryNotFound)
	require.NotErrorIs(t, err, &NotFoundError{Kind: "loader"})
	require.Equal(t, "PersistedQueryNotFound", PersistedQueryNotFound.Error())
}

func TestFromParser(t *testing.T) {
	_, err := language.ParseQuery("{ user ")
	require.Error(t, err)
	got := FromParser(err)
	require.Nil(t, got.Err)
	require.NotEmpty(t, got.Locations)
}

var cmpIgnoreCause = cmp.Options{
	cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Err"
	}, cmp.Ignore()),
	cmpopts.IgnoreUnexported(Error{}),
}
