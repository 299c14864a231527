// Package query is the request-level entry point: it parses, validates and
// executes GraphQL requests and formats their errors for clients.
package query

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
	execctx "github.com/hanpama/graphcore/internal/execctx"
	executor "github.com/hanpama/graphcore/internal/executor"
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	introspection "github.com/hanpama/graphcore/internal/introspection"
	language "github.com/hanpama/graphcore/internal/language"
	persisted "github.com/hanpama/graphcore/internal/persisted"
	schema "github.com/hanpama/graphcore/internal/schema"
	validation "github.com/hanpama/graphcore/internal/validation"
)

// Request is one GraphQL request. A nil Query means the client sent none.
type Request struct {
	Query         *string        `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// NewRequest returns a Request for query text.
func NewRequest(query string) Request { return Request{Query: &query} }

// Result is the response of one request. HasData is false when the request
// failed before execution; the response then carries no data entry.
type Result struct {
	Data    *executor.ResultMap
	Errors  gqlerrors.List
	HasData bool
}

func (r *Result) MarshalJSON() ([]byte, error) {
	var out struct {
		Data   json.RawMessage `json:"data,omitempty"`
		Errors gqlerrors.List  `json:"errors,omitempty"`
	}
	if r.HasData {
		data, err := json.Marshal(r.Data)
		if err != nil {
			return nil, err
		}
		out.Data = data
	}
	out.Errors = r.Errors
	return json.Marshal(out)
}

const noQueryMessage = "No query string provided."

func noQueryError() *gqlerrors.Error { return gqlerrors.New(noQueryMessage) }

// Executor runs requests against one schema.
type Executor struct {
	schema        *schema.Schema
	exec          *executor.Executor
	engine        *validation.Engine
	rules         []validation.Rule
	formatter     *gqlerrors.Formatter
	store         persisted.Store
	introspection bool
	logger        *zap.Logger
}

type Option func(*Executor)

// WithRules adds validation rules run on every request.
func WithRules(rules ...validation.Rule) Option {
	return func(e *Executor) { e.rules = append(e.rules, rules...) }
}

func WithFormatter(f *gqlerrors.Formatter) Option {
	return func(e *Executor) { e.formatter = f }
}

// WithIntrospection enables __schema and __type. It is on by default.
func WithIntrospection(enabled bool) Option {
	return func(e *Executor) { e.introspection = enabled }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithPersistedQueries resolves extensions.persistedQuery hashes through store.
func WithPersistedQueries(store persisted.Store) Option {
	return func(e *Executor) { e.store = store }
}

// NewExecutor returns an Executor for s. Documents are validated against s;
// the runtime resolves every non-introspection field.
func NewExecutor(s *schema.Schema, runtime executor.Runtime, opts ...Option) *Executor {
	e := &Executor{schema: s, introspection: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.formatter == nil {
		e.formatter = gqlerrors.NewFormatter(false, e.logger)
	}
	e.rules = append(e.rules, validation.NewIntrospectionControl(e.introspection))
	e.engine = validation.NewEngine(validation.WithRules(e.rules...), validation.WithLogger(e.logger))

	if e.introspection {
		w := introspection.Wrap(runtime, s)
		e.exec = executor.NewExecutor(w.Runtime, w.Schema)
	} else {
		e.exec = executor.NewExecutor(runtime, s)
	}
	return e
}

func (e *Executor) Schema() *schema.Schema { return e.schema }

// Formatter returns the formatter applied to every result.
func (e *Executor) Formatter() *gqlerrors.Formatter { return e.formatter }

// Execute runs req. ec supplies the principal, services and loaders of the
// request; a fresh one is created when nil.
func (e *Executor) Execute(ctx context.Context, ec *execctx.ExecutionContext, req Request, extraRules ...validation.Rule) *Result {
	return e.execute(ctx, ec, req, nil, extraRules)
}

// ExecuteEvent runs a subscription document with event as the root value.
func (e *Executor) ExecuteEvent(ctx context.Context, ec *execctx.ExecutionContext, req Request, event any) *Result {
	return e.execute(ctx, ec, req, event, nil)
}

func (e *Executor) execute(ctx context.Context, ec *execctx.ExecutionContext, req Request, root any, extraRules []validation.Rule) *Result {
	text, perr := e.resolveQuery(ctx, req)
	if perr != nil {
		return e.fail(perr)
	}
	if text == nil {
		return e.fail(noQueryError())
	}

	if ec == nil {
		ec = execctx.New(nil, nil)
	}
	ctx = execctx.NewContext(ctx, ec)

	doc, err := language.ParseQuery(*text)
	if err != nil {
		return e.fail(gqlerrors.FromParser(err))
	}
	if errs := e.engine.Validate(ctx, e.schema, doc, extraRules...); len(errs) > 0 {
		return &Result{Errors: e.formatter.FormatList(errs)}
	}

	opType := ""
	if op, _ := executor.GetOperation(doc, req.OperationName); op != nil {
		opType = string(op.Operation)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: *text, OperationName: req.OperationName, OperationType: opType})
	res := e.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, root)
	errs := make([]error, len(res.Errors))
	for i := range res.Errors {
		errs[i] = res.Errors[i]
	}
	elapsed := time.Since(start)
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         *text,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errs,
		Duration:      elapsed,
	})
	e.logger.Debug("operation executed",
		zap.String("operation", req.OperationName),
		zap.String("type", opType),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("duration", elapsed),
	)

	return &Result{
		Data:    res.Data,
		Errors:  e.formatter.FormatList(res.Errors),
		HasData: res.Executed,
	}
}

func (e *Executor) fail(err *gqlerrors.Error) *Result {
	return &Result{Errors: e.formatter.FormatList(gqlerrors.List{err})}
}
