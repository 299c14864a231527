package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	dataloader "github.com/hanpama/graphcore/internal/dataloader"
	execctx "github.com/hanpama/graphcore/internal/execctx"
	executor "github.com/hanpama/graphcore/internal/executor"
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	schema "github.com/hanpama/graphcore/internal/schema"
)

// ErrUnsettled is returned for promises still pending when no loader has
// queued work or the flush round limit is reached.
var ErrUnsettled = errors.New("resolver: promise was not settled by any loader flush")

func (r *Registry) call(ctx context.Context, task executor.FieldTask) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			value, err = nil, gqlerrors.NewPanicError(rec)
		}
	}()
	fn := r.resolver(task.ObjectType, task.Field)
	return fn(ctx, Params{
		Source: task.Source,
		Args:   task.Args,
		Info:   Info{ObjectType: task.ObjectType, Field: task.Field, Path: task.Path},
	})
}

// ResolveSync runs the field's resolver. A returned promise is settled
// right away by flushing the request's loaders.
func (r *Registry) ResolveSync(ctx context.Context, task executor.FieldTask) (any, error) {
	v, err := r.call(ctx, task)
	if err != nil {
		return nil, err
	}
	p, ok := v.(*dataloader.Promise)
	if !ok {
		return v, nil
	}
	r.settle(ctx, []*dataloader.Promise{p})
	return promiseResult(p)
}

// BatchResolveAsync runs every resolver of the depth, then flushes loaders
// until all returned promises settle.
func (r *Registry) BatchResolveAsync(ctx context.Context, tasks []executor.FieldTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	promises := make([]*dataloader.Promise, len(tasks))
	var pending []*dataloader.Promise
	for i, task := range tasks {
		v, err := r.call(ctx, task)
		if err != nil {
			results[i].Error = err
			continue
		}
		if p, ok := v.(*dataloader.Promise); ok {
			promises[i] = p
			pending = append(pending, p)
			continue
		}
		results[i].Value = v
	}

	r.settle(ctx, pending)

	for i, p := range promises {
		if p != nil {
			results[i].Value, results[i].Error = promiseResult(p)
		}
	}
	return results
}

// settle flushes the loaders of the request in ctx until every promise has
// settled, no loader has work left, or the round limit is hit.
func (r *Registry) settle(ctx context.Context, promises []*dataloader.Promise) {
	if len(promises) == 0 {
		return
	}
	ec := execctx.FromContext(ctx)
	if ec == nil {
		return
	}
	for round := 0; round < r.maxFlushRounds; round++ {
		if allSettled(promises) || !ec.Loaders.Pending() {
			return
		}
		if err := ec.Loaders.FlushAll(ctx); err != nil {
			r.logger.Debug("loader flush failed", zap.Error(err), zap.Int("round", round))
		}
	}
	r.logger.Warn("loader flush round limit reached", zap.Int("rounds", r.maxFlushRounds))
}

func allSettled(promises []*dataloader.Promise) bool {
	for _, p := range promises {
		if !p.Settled() {
			return false
		}
	}
	return true
}

func promiseResult(p *dataloader.Promise) (any, error) {
	if !p.Settled() {
		return nil, ErrUnsettled
	}
	return p.Result()
}

// ResolveType uses the registered type resolver, then falls back to
// DefaultTypeName.
func (r *Registry) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if fn, ok := r.types[abstractType]; ok {
		return fn(ctx, value)
	}
	if name := DefaultTypeName(value); name != "" {
		return name, nil
	}
	return "", fmt.Errorf("cannot resolve the concrete type of %q for %T", abstractType, value)
}

// SerializeLeafValue serializes built-in scalars, enums of the bound schema
// and registered custom scalars. Unregistered custom scalars pass through.
func (r *Registry) SerializeLeafValue(_ context.Context, typeName string, value any) (any, error) {
	value = indirect(value)
	if fn, ok := r.scalars[typeName]; ok {
		return fn(value)
	}
	if fn, ok := builtinSerializers[typeName]; ok {
		return fn(value)
	}
	if r.schema != nil {
		if t := r.schema.Types[typeName]; t != nil && t.Kind == schema.TypeKindEnum {
			return serializeEnum(t, value)
		}
	}
	return value, nil
}
