// Package execctx carries the per-request execution context: the
// authenticated principal, a service locator and the request's loaders.
package execctx

import (
	"context"
	"errors"

	dataloader "github.com/hanpama/graphcore/internal/dataloader"
)

// Locator looks up named services for resolvers.
type Locator interface {
	Get(name string) (any, bool)
}

// Services is a map-backed Locator.
type Services map[string]any

func (s Services) Get(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

// ExecutionContext is created fresh for every request. For subscriptions it
// lives as long as the connection.
type ExecutionContext struct {
	Principal any
	Services  Locator
	Loaders   *dataloader.Registry
}

// New returns an ExecutionContext with an empty loader registry.
func New(principal any, services Locator) *ExecutionContext {
	if services == nil {
		services = Services{}
	}
	return &ExecutionContext{
		Principal: principal,
		Services:  services,
		Loaders:   dataloader.NewRegistry(),
	}
}

type key struct{}

var errNoContext = errors.New("execctx: no execution context in context")

// NewContext returns a copy of parent carrying ec.
func NewContext(parent context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(parent, key{}, ec)
}

// FromContext returns the ExecutionContext stored in ctx, or nil.
func FromContext(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(key{}).(*ExecutionContext)
	return ec
}

// Service returns a typed service from the context's locator.
func Service[T any](ctx context.Context, name string) (T, bool) {
	var zero T
	ec := FromContext(ctx)
	if ec == nil || ec.Services == nil {
		return zero, false
	}
	v, ok := ec.Services.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Loader returns the named loader of the request in ctx.
func Loader[K comparable, V any](ctx context.Context, name string) (*dataloader.Loader[K, V], error) {
	ec := FromContext(ctx)
	if ec == nil {
		return nil, errNoContext
	}
	return dataloader.Lookup[K, V](ec.Loaders, name)
}
