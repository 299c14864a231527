// Package resolver maps schema fields to Go functions and implements the
// executor's runtime on top of them.
//
// A field registered with Batched is resolved at the executor's per-depth
// batch point: every batched resolver of a depth runs first, queueing keys on
// the request's loaders and returning promises, and only then are the loaders
// flushed. Siblings at one depth therefore share one batch call per loader.
package resolver

import (
	"context"
	"strings"

	"go.uber.org/zap"

	executor "github.com/hanpama/graphcore/internal/executor"
	schema "github.com/hanpama/graphcore/internal/schema"
)

// Info describes the field being resolved.
type Info struct {
	ObjectType string
	Field      string
	Path       executor.Path
}

// Params are the inputs of one resolver call.
type Params struct {
	Source any
	Args   map[string]any
	Info   Info
}

// Func resolves one field. It may return a *dataloader.Promise.
type Func func(ctx context.Context, p Params) (any, error)

// Middleware wraps every resolver call, including default resolution.
type Middleware func(next Func) Func

// TypeResolver names the concrete object type of an abstract value.
type TypeResolver func(ctx context.Context, value any) (string, error)

// Serializer converts a scalar value into its JSON-safe form.
type Serializer func(value any) (any, error)

// DefaultMaxFlushRounds bounds the loader flushes spent on one depth.
const DefaultMaxFlushRounds = 100

// Registry holds resolvers by "Type.field".
type Registry struct {
	fields         map[string]Func
	batched        map[string]bool
	types          map[string]TypeResolver
	scalars        map[string]Serializer
	middleware     []Middleware
	schema         *schema.Schema
	logger         *zap.Logger
	maxFlushRounds int
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func WithMaxFlushRounds(n int) Option {
	return func(r *Registry) { r.maxFlushRounds = n }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		fields:         make(map[string]Func),
		batched:        make(map[string]bool),
		types:          make(map[string]TypeResolver),
		scalars:        make(map[string]Serializer),
		logger:         zap.NewNop(),
		maxFlushRounds: DefaultMaxFlushRounds,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(typeName, fieldName string) string { return typeName + "." + fieldName }

// Field registers a resolver that runs as soon as its parent is complete.
func (r *Registry) Field(typeName, fieldName string, fn Func) *Registry {
	r.fields[key(typeName, fieldName)] = fn
	delete(r.batched, key(typeName, fieldName))
	return r
}

// Batched registers a resolver that runs at the batch point of its depth.
func (r *Registry) Batched(typeName, fieldName string, fn Func) *Registry {
	r.fields[key(typeName, fieldName)] = fn
	r.batched[key(typeName, fieldName)] = true
	return r
}

// Type registers the type resolver of an interface or union.
func (r *Registry) Type(abstractType string, fn TypeResolver) *Registry {
	r.types[abstractType] = fn
	return r
}

// Scalar registers the serializer of a custom scalar.
func (r *Registry) Scalar(name string, fn Serializer) *Registry {
	r.scalars[name] = fn
	return r
}

// Use appends middleware. The first middleware added is the outermost.
func (r *Registry) Use(mw ...Middleware) *Registry {
	r.middleware = append(r.middleware, mw...)
	return r
}

// Bind returns a copy of s whose batched fields are marked async and makes
// the registry serve that schema. The registry must not be changed after
// Bind.
func (r *Registry) Bind(s *schema.Schema) *schema.Schema {
	bound := s.Clone()
	for k := range r.batched {
		typeName, fieldName, _ := strings.Cut(k, ".")
		t := bound.Types[typeName]
		if t == nil {
			r.logger.Warn("batched resolver for unknown type", zap.String("field", k))
			continue
		}
		if t.GetField(fieldName) == nil {
			r.logger.Warn("batched resolver for unknown field", zap.String("field", k))
			continue
		}
		bound.Types[typeName] = withAsyncField(t, fieldName)
	}
	r.schema = bound
	return bound
}

// withAsyncField copies t with fieldName marked async.
func withAsyncField(t *schema.Type, fieldName string) *schema.Type {
	c := *t
	c.Fields = make([]*schema.Field, len(t.Fields))
	for i, f := range t.Fields {
		if f.Name == fieldName {
			nf := *f
			nf.Async = true
			f = &nf
		}
		c.Fields[i] = f
	}
	return &c
}

// resolver returns the wrapped resolver of a field.
func (r *Registry) resolver(typeName, fieldName string) Func {
	fn, ok := r.fields[key(typeName, fieldName)]
	if !ok {
		fn = DefaultResolver
		if r.schema != nil && typeName == r.schema.SubscriptionType {
			fn = SourceResolver
		}
	}
	for i := len(r.middleware) - 1; i >= 0; i-- {
		fn = r.middleware[i](fn)
	}
	return fn
}

var _ executor.Runtime = (*Registry)(nil)
