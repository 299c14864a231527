package query

import (
	"context"
	"strings"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	persisted "github.com/hanpama/graphcore/internal/persisted"
)

// persistedQueryHash returns extensions.persistedQuery.sha256Hash, if set.
func persistedQueryHash(req Request) string {
	pq, ok := req.Extensions["persistedQuery"].(map[string]any)
	if !ok {
		return ""
	}
	hash, _ := pq["sha256Hash"].(string)
	return strings.ToLower(hash)
}

// resolveQuery returns the query text of req. With a persisted query hash
// and no text the store is consulted; with both, the text is verified and
// stored. A nil text and nil error mean no query was provided.
func (e *Executor) resolveQuery(ctx context.Context, req Request) (*string, *gqlerrors.Error) {
	hash := persistedQueryHash(req)
	if hash == "" || e.store == nil {
		return req.Query, nil
	}

	if req.Query == nil {
		text, ok, err := e.store.Get(ctx, hash)
		if err != nil {
			e.logger.Warn("persisted query lookup failed", zap.String("hash", hash), zap.Error(err))
		}
		eventbus.Publish(ctx, events.PersistedQuery{Hit: ok})
		if !ok {
			gerr := gqlerrors.Wrap(gqlerrors.PersistedQueryNotFound, nil, nil)
			gerr.SetExtension("code", "PERSISTED_QUERY_NOT_FOUND")
			return nil, gerr
		}
		return &text, nil
	}

	if persisted.Hash(*req.Query) != hash {
		return nil, gqlerrors.New("provided sha does not match query")
	}
	if err := e.store.Put(ctx, hash, *req.Query); err != nil {
		e.logger.Warn("persisted query store failed", zap.String("hash", hash), zap.Error(err))
	}
	return req.Query, nil
}
