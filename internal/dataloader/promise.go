package dataloader

import "sync"

// Promise is a value that becomes available once a loader flushes. Resolvers
// return promises to the executor; the resolver runtime keeps flushing the
// request's loaders until every promise of a level has settled.
//
// Continuations registered with Then run synchronously on the goroutine that
// settles the promise.
type Promise struct {
	mu      sync.Mutex
	settled bool
	value   any
	err     error
	waiters []func(any, error)
}

func NewPromise() *Promise { return &Promise{} }

// Resolved returns a promise already settled with v.
func Resolved(v any) *Promise { return &Promise{settled: true, value: v} }

// Rejected returns a promise already settled with err.
func Rejected(err error) *Promise { return &Promise{settled: true, err: err} }

func (p *Promise) Resolve(v any) { p.settle(v, nil) }

func (p *Promise) Reject(err error) { p.settle(nil, err) }

func (p *Promise) settle(v any, err error) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled, p.value, p.err = true, v, err
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()
	for _, w := range waiters {
		w(v, err)
	}
}

// Settled reports whether the promise has a value or an error.
func (p *Promise) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// Result returns the settled value and error. Before settlement it returns
// (nil, nil); check Settled first.
func (p *Promise) Result() (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

func (p *Promise) onSettle(fn func(any, error)) {
	p.mu.Lock()
	if !p.settled {
		p.waiters = append(p.waiters, fn)
		p.mu.Unlock()
		return
	}
	v, err := p.value, p.err
	p.mu.Unlock()
	fn(v, err)
}

// Then returns a promise settled with fn applied to this promise's value. A
// rejection skips fn. When fn returns a *Promise the result follows it, which
// lets a resolver chain a second load on the first one's output.
func (p *Promise) Then(fn func(any) (any, error)) *Promise {
	next := NewPromise()
	p.onSettle(func(v any, err error) {
		if err != nil {
			next.Reject(err)
			return
		}
		out, err := fn(v)
		if err != nil {
			next.Reject(err)
			return
		}
		if chained, ok := out.(*Promise); ok {
			chained.onSettle(next.settle)
			return
		}
		next.Resolve(out)
	})
	return next
}

// All settles with a []any of every value, in order, once all promises
// resolve, or with the first rejection.
func All(promises ...*Promise) *Promise {
	out := NewPromise()
	if len(promises) == 0 {
		out.Resolve([]any{})
		return out
	}
	values := make([]any, len(promises))
	var mu sync.Mutex
	remaining := len(promises)
	for i, p := range promises {
		p.onSettle(func(v any, err error) {
			if err != nil {
				out.Reject(err)
				return
			}
			mu.Lock()
			values[i] = v
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				out.Resolve(values)
			}
		})
	}
	return out
}
