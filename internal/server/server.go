package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
	execctx "github.com/hanpama/graphcore/internal/execctx"
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
	query "github.com/hanpama/graphcore/internal/query"
	reqid "github.com/hanpama/graphcore/internal/reqid"
	subscription "github.com/hanpama/graphcore/internal/subscription"
)

// RequestIDHeader carries a caller-supplied request ID and is echoed on
// every response.
const RequestIDHeader = "X-Request-ID"

// Handler is an http.Handler that serves a GraphQL endpoint.
// POST and GET requests run through the query executor; WebSocket upgrades
// speak graphql-transport-ws when a subscription handler is configured.
type Handler struct {
	exec     *query.Executor
	batch    *query.BatchExecutor
	subs     *subscription.Handler
	upgrader websocket.Upgrader
	opt      Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	// IdleTimeout closes a WebSocket connection that sent nothing for this
	// long. 0 disables it.
	IdleTimeout time.Duration

	// NewContext builds the execution context of an HTTP request.
	NewContext func(r *http.Request) *execctx.ExecutionContext

	Logger *zap.Logger

	subs *subscription.Handler
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

func WithGraphiQL(enable bool) Option        { return func(o *Options) { o.GraphiQL = enable } }
func WithIdleTimeout(d time.Duration) Option { return func(o *Options) { o.IdleTimeout = d } }
func WithLogger(l *zap.Logger) Option        { return func(o *Options) { o.Logger = l } }

// WithSubscriptions serves graphql-transport-ws upgrades through h.
func WithSubscriptions(h *subscription.Handler) Option {
	return func(o *Options) { o.subs = h }
}

// WithContextFactory sets how each HTTP request gets its principal,
// services and loaders.
func WithContextFactory(f func(r *http.Request) *execctx.ExecutionContext) Option {
	return func(o *Options) { o.NewContext = f }
}

// New creates a GraphQL HTTP handler on top of exec.
func New(exec *query.Executor, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second, GraphiQL: true, Logger: zap.NewNop()}
	for _, f := range opts {
		f(&op)
	}
	if op.NewContext == nil {
		op.NewContext = func(*http.Request) *execctx.ExecutionContext { return execctx.New(nil, nil) }
	}
	h := &Handler{
		exec:  exec,
		batch: query.NewBatchExecutor(exec),
		subs:  op.subs,
		opt:   op,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{subscription.Protocol},
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id := r.Header.Get(RequestIDHeader); id != "" {
		ctx = reqid.WithID(ctx, id)
	} else {
		ctx, _ = reqid.NewContext(ctx)
	}
	rid, _ := reqid.FromContext(ctx)
	w.Header().Set(RequestIDHeader, rid)

	if h.subs != nil && websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(ctx, w, r)
		return
	}

	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	status, operations := http.StatusOK, 0
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{
			Request:    r,
			Status:     status,
			Operations: operations,
			Duration:   time.Since(start),
		})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	// Serve GraphiQL IDE when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && !r.URL.Query().Has("query") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	req, batch, msg := parseRequest(r, h.opt.MaxBodyBytes)
	if msg != "" {
		status = http.StatusBadRequest
		if msg == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(msg), h.opt.Pretty)
		return
	}

	ec := h.opt.NewContext(r)
	if batch != nil {
		operations = len(batch)
		writeJSON(w, status, h.batch.Execute(ctx, ec, batch), h.opt.Pretty)
		return
	}
	operations = 1
	writeJSON(w, status, h.exec.Execute(ctx, ec, req), h.opt.Pretty)
}

// ------------------ Request parsing ------------------

func parseRequest(r *http.Request, maxBody int64) (query.Request, []query.Request, string) {
	if r.Method == http.MethodGet {
		params := r.URL.Query()
		var req query.Request
		if params.Has("query") {
			q := params.Get("query")
			req.Query = &q
		}
		req.OperationName = params.Get("operationName")
		if v := params.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return query.Request{}, nil, "invalid 'variables' JSON"
			}
		}
		if v := params.Get("extensions"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Extensions); err != nil {
				return query.Request{}, nil, "invalid 'extensions' JSON"
			}
		}
		return req, nil, ""
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return query.Request{}, nil, "unsupported Content-Type"
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return query.Request{}, nil, "failed to read body"
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return query.Request{}, nil, errBodyTooLargeMessage
	}

	// Try array (batch)
	if len(body) > 0 && body[0] == '[' {
		var arr []query.Request
		if err := json.Unmarshal(body, &arr); err != nil {
			return query.Request{}, nil, "invalid JSON"
		}
		if len(arr) == 0 {
			return query.Request{}, nil, "empty batch"
		}
		return query.Request{}, arr, ""
	}
	var req query.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return query.Request{}, nil, "invalid JSON"
	}
	return req, nil, ""
}

// ------------------ Response formatting ------------------

type errorResult struct {
	Errors gqlerrors.List `json:"errors"`
}

func errorResponse(msg string) errorResult {
	return errorResult{Errors: gqlerrors.List{gqlerrors.New("%s", msg)}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func originAllowed(origins []string, origin string) bool {
	for _, o := range origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" || !originAllowed(opts.AllowedOrigins, origin) {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func acceptsHTML(accept string) bool {
	if accept == "" {
		return false
	}
	for _, p := range strings.Split(accept, ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "text/html") || p == "*/*" {
			return true
		}
	}
	return false
}
