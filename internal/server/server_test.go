package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
	execctx "github.com/hanpama/graphcore/internal/execctx"
	query "github.com/hanpama/graphcore/internal/query"
	reqid "github.com/hanpama/graphcore/internal/reqid"
	resolver "github.com/hanpama/graphcore/internal/resolver"
	schema "github.com/hanpama/graphcore/internal/schema"
	subscription "github.com/hanpama/graphcore/internal/subscription"
)

const testSDL = `
type Query {
  hello: String
  whoami: String
}

type Subscription {
  messageAdded: Message
}

type Message {
  body: String
}
`

type fixture struct {
	exec     *query.Executor
	lastID   string
	resolver *resolver.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := schema.BuildFromSDL(testSDL)
	require.NoError(t, err)
	f := &fixture{resolver: resolver.NewRegistry()}
	f.resolver.Field("Query", "hello", func(ctx context.Context, _ resolver.Params) (any, error) {
		f.lastID, _ = reqid.FromContext(ctx)
		return "world", nil
	})
	f.resolver.Field("Query", "whoami", func(ctx context.Context, _ resolver.Params) (any, error) {
		return execctx.FromContext(ctx).Principal, nil
	})
	f.exec = query.NewExecutor(f.resolver.Bind(s), f.resolver)
	return f
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPostQuery(t *testing.T) {
	h := New(newFixture(t).exec)
	w := post(t, h, `{"query":"{ hello }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"hello":"world"}}`, w.Body.String())
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestGetQuery(t *testing.T) {
	h := New(newFixture(t).exec)
	req := httptest.NewRequest(http.MethodGet, "/?query="+url.QueryEscape("query Q { hello }")+"&operationName=Q", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"hello":"world"}}`, w.Body.String())
}

func TestMissingQuery(t *testing.T) {
	h := New(newFixture(t).exec)
	w := post(t, h, `{"variables":{}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotContains(t, body, "data")
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "No query string provided.", errs[0].(map[string]any)["message"])
}

func TestBatchRequest(t *testing.T) {
	h := New(newFixture(t).exec)
	w := post(t, h, `[{"query":"{ hello }"},{"variables":{}},{"query":"{ hello hello }"}]`)
	require.Equal(t, http.StatusOK, w.Code)
	var body []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 3)
	assert.Equal(t, map[string]any{"hello": "world"}, body[0]["data"])
	assert.NotContains(t, body[1], "data")
	assert.Contains(t, body[1], "errors")
	assert.Equal(t, map[string]any{"hello": "world"}, body[2]["data"])
}

func TestHTTPFinishCountsOperations(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })
	var finished []events.HTTPFinish
	eventbus.SubscribeTo(bus, func(_ context.Context, e events.HTTPFinish) { finished = append(finished, e) })

	h := New(newFixture(t).exec)
	post(t, h, `{"query":"{ hello }"}`)
	post(t, h, `[{"query":"{ hello }"},{"query":"{ whoami }"}]`)
	post(t, h, `{`)

	require.Len(t, finished, 3)
	assert.Equal(t, []int{1, 2, 0}, []int{finished[0].Operations, finished[1].Operations, finished[2].Operations})
	assert.Equal(t, http.StatusBadRequest, finished[2].Status)
}

func TestMalformedBodies(t *testing.T) {
	h := New(newFixture(t).exec)
	assert.Equal(t, http.StatusBadRequest, post(t, h, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, `[]`).Code)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("query"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestErrorResponseKeepsPercentSigns(t *testing.T) {
	res := errorResponse("unsupported content type: 100%d-text")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "unsupported content type: 100%d-text", res.Errors[0].Message)
}

func TestCORSAndPreflight(t *testing.T) {
	h := New(newFixture(t).exec, WithCORS("*"))

	// simple request
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	assert.Equal(t, http.StatusNoContent, pw.Code)
	assert.Equal(t, "*", pw.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Test", pw.Header().Get("Access-Control-Allow-Headers"))
}

func TestMaxBodyBytes(t *testing.T) {
	h := New(newFixture(t).exec, WithMaxBodyBytes(10))
	w := post(t, h, `{"query":"1234567890"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)
	h := New(f.exec)

	w := post(t, h, `{"query":"{ hello }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, f.lastID)
	assert.Equal(t, f.lastID, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", f.lastID)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestContextFactory(t *testing.T) {
	h := New(newFixture(t).exec, WithContextFactory(func(r *http.Request) *execctx.ExecutionContext {
		return execctx.New(r.Header.Get("X-User"), nil)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"query":"{ whoami }"}`))
	req.Header.Set("X-User", "alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.JSONEq(t, `{"data":{"whoami":"alice"}}`, w.Body.String())
}

func TestGraphiQL(t *testing.T) {
	h := New(newFixture(t).exec)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "GraphiQL")

	h = New(newFixture(t).exec, WithGraphiQL(false))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), "No query string provided.")
}

// ------------------ WebSocket ------------------

type wsFixture struct {
	ps  *subscription.MemoryPubSub
	srv *httptest.Server
}

func newWSFixture(t *testing.T, opts ...subscription.HandlerOption) *wsFixture {
	t.Helper()
	f := newFixture(t)
	ps := subscription.NewMemoryPubSub()
	opts = append([]subscription.HandlerOption{subscription.WithEventExecutor(NewEventExecutor(f.exec))}, opts...)
	subs := subscription.NewHandler(subscription.NewRegistry(ps), opts...)
	srv := httptest.NewServer(New(f.exec, WithSubscriptions(subs)))
	t.Cleanup(srv.Close)
	return &wsFixture{ps: ps, srv: srv}
}

func (f *wsFixture) dial(t *testing.T, protocols ...string) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{Subprotocols: protocols, HandshakeTimeout: time.Second}
	conn, _, err := d.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) subscription.Message {
	t.Helper()
	var msg subscription.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
	return ce.Code
}

func TestWebSocketSubscription(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, subscription.Protocol)
	assert.Equal(t, subscription.Protocol, conn.Subprotocol())

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "connection_init"}))
	assert.Equal(t, subscription.MessageConnectionAck, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"id":      "op1",
		"type":    "subscribe",
		"payload": map[string]any{"query": "subscription { messageAdded { body } }"},
	}))
	require.Eventually(t, func() bool { return f.ps.Subscribers("messageAdded") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.ps.Publish(context.Background(), "messageAdded", map[string]any{"body": "hi"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "op1", msg.ID)
	assert.Equal(t, subscription.MessageNext, msg.Type)
	assert.JSONEq(t, `{"data":{"messageAdded":{"body":"hi"}}}`, string(msg.Payload))

	require.NoError(t, conn.WriteJSON(map[string]any{"id": "op1", "type": "complete"}))
	require.Eventually(t, func() bool { return f.ps.Subscribers("messageAdded") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketDisconnectReleasesSubscriptions(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, subscription.Protocol)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "connection_init"}))
	readMessage(t, conn)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"id": "1", "type": "subscribe",
		"payload": map[string]any{"query": "subscription { messageAdded { body } }"},
	}))
	require.Eventually(t, func() bool { return f.ps.Subscribers("messageAdded") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.ps.Subscribers("messageAdded") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRequiresSubprotocol(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t)
	assert.Equal(t, closeSubprotocolRejected, closeCode(t, conn))
}

func TestWebSocketRejectsUnverifiedCredentials(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, subscription.Protocol)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "connection_init",
		"payload": map[string]any{"authToken": "secret"},
	}))
	assert.Equal(t, closeForbidden, closeCode(t, conn))
}
