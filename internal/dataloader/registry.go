package dataloader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
)

// Flusher is the type-erased view of a Loader held by a Registry.
type Flusher interface {
	Name() string
	Flush(ctx context.Context) error
	Pending() bool
	ClearAll()
}

// Factory constructs a loader on first use.
type Factory func() (Flusher, error)

// Registry holds the named loaders of one request.
type Registry struct {
	mu        sync.Mutex
	order     []string
	loaders   map[string]Flusher
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		loaders:   make(map[string]Flusher),
		factories: make(map[string]Factory),
	}
}

func (r *Registry) track(name string) {
	if _, ok := r.loaders[name]; ok {
		return
	}
	if _, ok := r.factories[name]; ok {
		return
	}
	r.order = append(r.order, name)
}

// Register adds a constructed loader, replacing any loader or factory of the
// same name.
func (r *Registry) Register(name string, loader Flusher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.track(name)
	delete(r.factories, name)
	r.loaders[name] = loader
}

// RegisterFactory defers construction of a loader until its first Get.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.track(name)
	delete(r.loaders, name)
	r.factories[name] = factory
}

// Get returns the named loader, constructing it from its factory if needed.
// Unknown names yield a *gqlerrors.NotFoundError.
func (r *Registry) Get(name string) (Flusher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loaders[name]; ok {
		return l, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, &gqlerrors.NotFoundError{Kind: "loader", Name: name}
	}
	l, err := factory()
	if err != nil {
		return nil, fmt.Errorf("construct loader %q: %w", name, err)
	}
	delete(r.factories, name)
	r.loaders[name] = l
	return l, nil
}

// Lookup returns the named loader with its concrete key and value types.
func Lookup[K comparable, V any](r *Registry, name string) (*Loader[K, V], error) {
	l, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	typed, ok := l.(*Loader[K, V])
	if !ok {
		return nil, fmt.Errorf("loader %q has type %T", name, l)
	}
	return typed, nil
}

func (r *Registry) constructed() []Flusher {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Flusher, 0, len(r.loaders))
	for _, name := range r.order {
		if l, ok := r.loaders[name]; ok {
			out = append(out, l)
		}
	}
	return out
}

// FlushAll flushes every constructed loader once, in registration order.
// Factories that were never used are skipped. All loaders are flushed even
// when one fails; the errors are joined.
func (r *Registry) FlushAll(ctx context.Context) error {
	var errs []error
	for _, l := range r.constructed() {
		if err := l.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending reports whether any constructed loader has queued keys.
func (r *Registry) Pending() bool {
	for _, l := range r.constructed() {
		if l.Pending() {
			return true
		}
	}
	return false
}

// ClearAll clears the cache and queue of every constructed loader.
func (r *Registry) ClearAll() {
	for _, l := range r.constructed() {
		l.ClearAll()
	}
}
