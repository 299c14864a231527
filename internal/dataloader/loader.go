// Package dataloader coalesces the individual key loads made while resolving
// one level of a query into a single batch call per loader.
//
// Loaders are request-scoped: each request builds its own Registry, and a
// loader must never be shared between concurrent requests. Within a request
// the internal maps are guarded by a mutex, so callbacks fired during Flush may
// enqueue further keys.
package dataloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
)

// BatchFunc loads values for keys. It must return one value per key in the
// same order. Shorter results are padded with zero values; extra results are
// ignored.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// ErrCleared rejects promises whose key was cleared before it was loaded.
var ErrCleared = errors.New("dataloader: key cleared before flush")

type Option func(*options)

type options struct {
	name         string
	maxBatchSize int
	logger       *zap.Logger
}

// WithName labels the loader in logs and telemetry events.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithMaxBatchSize splits a flush into several batch calls of at most n keys.
func WithMaxBatchSize(n int) Option { return func(o *options) { o.maxBatchSize = n } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

type waiter[V any] struct {
	callback func(V)
	promise  *Promise
}

// Loader batches loads of keys K into calls of a BatchFunc.
type Loader[K comparable, V any] struct {
	batch BatchFunc[K, V]
	opts  options

	mu      sync.Mutex
	queue   []K
	queued  map[K]struct{}
	cache   map[K]V
	waiters map[K][]waiter[V]
}

func New[K comparable, V any](batch BatchFunc[K, V], opts ...Option) *Loader[K, V] {
	o := options{name: "loader", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Loader[K, V]{
		batch:   batch,
		opts:    o,
		queued:  make(map[K]struct{}),
		cache:   make(map[K]V),
		waiters: make(map[K][]waiter[V]),
	}
}

func (l *Loader[K, V]) Name() string { return l.opts.name }

// enqueue must be called with mu held and only for keys not in the cache.
func (l *Loader[K, V]) enqueue(key K) {
	if _, ok := l.queued[key]; ok {
		return
	}
	l.queued[key] = struct{}{}
	l.queue = append(l.queue, key)
}

// Load returns the cached value for key. When the key is not cached yet it is
// queued for the next Flush and ok is false.
func (l *Loader[K, V]) Load(key K) (value V, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, hit := l.cache[key]; hit {
		return v, true
	}
	l.enqueue(key)
	return value, false
}

// LoadDeferred calls cb with the value for key: immediately when cached,
// otherwise after the Flush that loads it. A failed batch drops cb.
func (l *Loader[K, V]) LoadDeferred(key K, cb func(V)) {
	l.mu.Lock()
	if v, hit := l.cache[key]; hit {
		l.mu.Unlock()
		cb(v)
		return
	}
	l.enqueue(key)
	l.waiters[key] = append(l.waiters[key], waiter[V]{callback: cb})
	l.mu.Unlock()
}

// LoadMany loads every key and returns the ones available right away.
// Absent keys are pending until the next Flush.
func (l *Loader[K, V]) LoadMany(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := l.Load(k); ok {
			out[k] = v
		}
	}
	return out
}

// LoadPromise returns a promise for key, settled by the Flush that loads it
// or rejected with the batch error.
func (l *Loader[K, V]) LoadPromise(key K) *Promise {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, hit := l.cache[key]; hit {
		return Resolved(v)
	}
	p := NewPromise()
	l.enqueue(key)
	l.waiters[key] = append(l.waiters[key], waiter[V]{promise: p})
	return p
}

// LoadManyPromise returns a promise of []any holding the values for keys in order.
func (l *Loader[K, V]) LoadManyPromise(keys []K) *Promise {
	ps := make([]*Promise, len(keys))
	for i, k := range keys {
		ps[i] = l.LoadPromise(k)
	}
	return All(ps...)
}

// Pending reports whether keys are queued.
func (l *Loader[K, V]) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) > 0
}

// Flush hands the queued keys to the batch function in first-queued order
// and notifies the waiters. The queue is cleared before the call. On error
// nothing is cached, promises are rejected, callbacks are dropped and the
// error is returned.
func (l *Loader[K, V]) Flush(ctx context.Context) error {
	l.mu.Lock()
	keys := l.queue
	l.queue = nil
	l.queued = make(map[K]struct{})
	waiting := make(map[K][]waiter[V], len(keys))
	for _, k := range keys {
		if ws, ok := l.waiters[k]; ok {
			waiting[k] = ws
			delete(l.waiters, k)
		}
	}
	l.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	results, err := l.load(ctx, keys)
	eventbus.Publish(ctx, events.LoaderFlush{
		Loader:   l.opts.name,
		Keys:     len(keys),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		l.opts.logger.Warn("batch load failed",
			zap.String("loader", l.opts.name),
			zap.Int("keys", len(keys)),
			zap.Error(err),
		)
		for _, ws := range waiting {
			for _, w := range ws {
				if w.promise != nil {
					w.promise.Reject(err)
				}
			}
		}
		return fmt.Errorf("%s: %w", l.opts.name, err)
	}
	if len(results) != len(keys) {
		l.opts.logger.Warn("batch function returned mismatched result count",
			zap.String("loader", l.opts.name),
			zap.Int("keys", len(keys)),
			zap.Int("results", len(results)),
		)
	}

	values := make([]V, len(keys))
	copy(values, results)

	l.mu.Lock()
	for i, k := range keys {
		l.cache[k] = values[i]
	}
	l.mu.Unlock()

	for i, k := range keys {
		for _, w := range waiting[k] {
			if w.callback != nil {
				w.callback(values[i])
			} else {
				w.promise.Resolve(values[i])
			}
		}
	}
	return nil
}

func (l *Loader[K, V]) load(ctx context.Context, keys []K) ([]V, error) {
	size := l.opts.maxBatchSize
	if size <= 0 || len(keys) <= size {
		return l.batch(ctx, keys)
	}
	out := make([]V, 0, len(keys))
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunk, err := l.batch(ctx, keys[start:end])
		if err != nil {
			return nil, err
		}
		padded := make([]V, end-start)
		copy(padded, chunk)
		out = append(out, padded...)
	}
	return out, nil
}

// Prime stores value for key without calling the batch function. A queued
// key is removed from the queue and its waiters are notified right away.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	l.cache[key] = value
	ws := l.waiters[key]
	delete(l.waiters, key)
	l.dequeue(key)
	l.mu.Unlock()
	for _, w := range ws {
		if w.callback != nil {
			w.callback(value)
		} else {
			w.promise.Resolve(value)
		}
	}
}

// Clear forgets the cached value and any queued load of key. Promises
// waiting on the key are rejected with ErrCleared.
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	delete(l.cache, key)
	ws := l.waiters[key]
	delete(l.waiters, key)
	l.dequeue(key)
	l.mu.Unlock()
	rejectCleared(ws)
}

// ClearAll forgets every cached value and queued key.
func (l *Loader[K, V]) ClearAll() {
	l.mu.Lock()
	all := l.waiters
	l.cache = make(map[K]V)
	l.waiters = make(map[K][]waiter[V])
	l.queue = nil
	l.queued = make(map[K]struct{})
	l.mu.Unlock()
	for _, ws := range all {
		rejectCleared(ws)
	}
}

func (l *Loader[K, V]) dequeue(key K) {
	if _, ok := l.queued[key]; !ok {
		return
	}
	delete(l.queued, key)
	for i, k := range l.queue {
		if k == key {
			l.queue = append(l.queue[:i:i], l.queue[i+1:]...)
			return
		}
	}
}

func rejectCleared[V any](ws []waiter[V]) {
	for _, w := range ws {
		if w.promise != nil {
			w.promise.Reject(ErrCleared)
		}
	}
}
