package query

import (
	"context"

	"go.uber.org/zap"

	execctx "github.com/hanpama/graphcore/internal/execctx"
	validation "github.com/hanpama/graphcore/internal/validation"
)

// BatchExecutor runs several requests in order on one execution context.
// The loaders are flushed and cleared between requests so no cached value
// or queued key crosses from one request into the next.
type BatchExecutor struct {
	exec *Executor
}

func NewBatchExecutor(exec *Executor) *BatchExecutor {
	return &BatchExecutor{exec: exec}
}

// Execute returns one result per request, in request order.
func (b *BatchExecutor) Execute(ctx context.Context, ec *execctx.ExecutionContext, reqs []Request, extraRules ...validation.Rule) []*Result {
	if ec == nil {
		ec = execctx.New(nil, nil)
	}
	out := make([]*Result, len(reqs))
	for i, req := range reqs {
		if req.Query == nil && persistedQueryHash(req) == "" {
			out[i] = b.exec.fail(noQueryError())
			continue
		}
		out[i] = b.exec.Execute(ctx, ec, req, extraRules...)
		if err := ec.Loaders.FlushAll(execctx.NewContext(ctx, ec)); err != nil {
			b.exec.logger.Warn("flush between batched operations failed", zap.Int("index", i), zap.Error(err))
		}
		ec.Loaders.ClearAll()
	}
	return out
}
