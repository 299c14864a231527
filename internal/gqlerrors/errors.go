// Package gqlerrors defines the error model shared by validation and
// execution and the formatter that turns it into client-facing errors.
package gqlerrors

import (
	"errors"
	"fmt"
	"runtime/debug"

	language "github.com/hanpama/graphcore/internal/language"
)

// Error categories reported under extensions.category.
const (
	CategoryGraphQL       = "graphql"
	CategoryValidation    = "validation"
	CategoryAuthorization = "authorization"
	CategoryNotFound      = "notfound"
	CategoryInternal      = "internal"
)

// Path is a response path: field names (string) and list indices (int).
type Path []any

// Error is a located GraphQL error. Err holds the cause, if any; errors
// without a cause are GraphQL language errors (syntax, validation).
type Error struct {
	Message    string              `json:"message"`
	Locations  []language.Location `json:"locations,omitempty"`
	Path       Path                `json:"path,omitempty"`
	Extensions map[string]any      `json:"extensions,omitempty"`
	Err        error               `json:"-"`

	// stack is captured by Wrap when Err carries no trace of its own.
	stack []byte
}

func (e *Error) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%v: %s", e.Path, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// SetExtension sets one extension entry, allocating the map if needed.
func (e *Error) SetExtension(key string, value any) *Error {
	if e.Extensions == nil {
		e.Extensions = make(map[string]any)
	}
	e.Extensions[key] = value
	return e
}

// List is an ordered list of errors. It implements error so it can be
// returned as one.
type List []*Error

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0].Error(), len(l)-1)
}

// New creates a GraphQL language error without a cause.
func New(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Wrap converts err into a located error. A *Error is returned as is, with
// path and locations filled in when it has none. Other causes get the
// current stack unless they carry their own.
func Wrap(err error, path Path, locations []language.Location) *Error {
	var gqlErr *Error
	if errors.As(err, &gqlErr) {
		if gqlErr.Path == nil {
			gqlErr.Path = path
		}
		if gqlErr.Locations == nil {
			gqlErr.Locations = locations
		}
		return gqlErr
	}
	out := &Error{Message: err.Error(), Path: path, Locations: locations, Err: err}
	var st stackTracer
	if !errors.As(err, &st) {
		out.stack = debug.Stack()
	}
	return out
}

// FromParser converts an error returned by the gqlparser parser or validator.
func FromParser(err error) *Error {
	var perr *language.Error
	if !errors.As(err, &perr) {
		return &Error{Message: err.Error(), Err: err}
	}
	out := &Error{Message: perr.Message, Locations: perr.Locations}
	if len(perr.Extensions) > 0 {
		out.Extensions = make(map[string]any, len(perr.Extensions))
		for k, v := range perr.Extensions {
			out.Extensions[k] = v
		}
	}
	if perr.Rule != "" {
		out.SetExtension("rule", perr.Rule)
	}
	return out
}

// FromParserList converts a gqlparser error list.
func FromParserList(list language.ErrorList) List {
	out := make(List, 0, len(list))
	for _, e := range list {
		out = append(out, FromParser(e))
	}
	return out
}

// ClientAware is implemented by errors that know whether their message may be
// shown to clients.
type ClientAware interface {
	error
	ClientSafe() bool
	Category() string
}

// ValidationError is a client-safe input validation failure carrying
// per-field messages.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string    { return e.Message }
func (e *ValidationError) ClientSafe() bool { return true }
func (e *ValidationError) Category() string { return CategoryValidation }

// AuthorizationError reports a denied operation; its message is client-safe.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string    { return e.Message }
func (e *AuthorizationError) ClientSafe() bool { return true }
func (e *AuthorizationError) Category() string { return CategoryAuthorization }

// NotFoundError names a missing resource, such as an unregistered loader or
// an unknown persisted query hash.
type NotFoundError struct {
	Kind string
	Name string
}

// PersistedQueryNotFound is returned when a persisted query hash is unknown;
// clients respond by resending the full query text.
var PersistedQueryNotFound = &NotFoundError{Kind: "persistedQuery"}

func (e *NotFoundError) Error() string {
	if e.Kind == PersistedQueryNotFound.Kind {
		return "PersistedQueryNotFound"
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) ClientSafe() bool { return true }
func (e *NotFoundError) Category() string { return CategoryNotFound }

// Is matches any NotFoundError of the same kind.
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	return ok && t.Kind == e.Kind && (t.Name == "" || t.Name == e.Name)
}

// PanicError is a recovered resolver panic.
type PanicError struct {
	Value any
	Stack []byte
}

// NewPanicError captures the current goroutine stack; call it from the
// deferred recover.
func NewPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func (e *PanicError) StackTrace() string { return string(e.Stack) }
