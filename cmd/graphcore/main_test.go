package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	config "github.com/hanpama/graphcore/internal/config"
	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	subscription "github.com/hanpama/graphcore/internal/subscription"
)

func captureOutput(t *testing.T, fn func() error) (stdout string, err error) {
	t.Helper()
	old := os.Stdout
	defer func() { os.Stdout = old }()

	r, w, _ := os.Pipe()
	os.Stdout = w
	done := make(chan struct{})
	var buf bytes.Buffer
	go func() { _, _ = io.Copy(&buf, r); close(done) }()

	err = fn()
	w.Close()
	<-done
	return buf.String(), err
}

func TestHelp(t *testing.T) {
	out, err := captureOutput(t, func() error { return run([]string{"help", "serve"}) })
	require.NoError(t, err)
	assert.Contains(t, out, "serve FLAGS")

	assert.Error(t, run([]string{"help", "nope"}))
	assert.Error(t, run([]string{"bogus"}))
	assert.Error(t, run(nil))
}

func TestPrintSchema(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, cmdPrintSchema(&buf))
	assert.Contains(t, buf.String(), "type Message")
	assert.Contains(t, buf.String(), "postMessage(")
}

func TestValidate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, cmdValidate(nil, strings.NewReader(`{ rooms { name } }`), &out))
	assert.Equal(t, "ok\n", out.String())

	out.Reset()
	err := cmdValidate([]string{"-max-depth", "1"}, strings.NewReader(`{ rooms { messages { room { name } } } }`), &out)
	require.Error(t, err)
	var errs []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &errs))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0]["message"], "depth")

	out.Reset()
	err = cmdValidate(nil, strings.NewReader(`{ rooms { nope } }`), &out)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "schema.graphql")
	require.NoError(t, os.WriteFile(path, []byte(`type Query { ping: String }`), 0o600))
	out.Reset()
	require.NoError(t, cmdValidate([]string{"-schema", path}, strings.NewReader(`{ ping }`), &out))
}

func TestServeConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\nlog:\n  level: warn\n"), 0o600))

	cfg, err := serveConfig([]string{"-config", path, "-log.level", "debug", "-graphql.introspection", "false"})
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.GraphQL.Introspection)

	_, err = serveConfig([]string{"-graphql.introspection", "maybe"})
	assert.Error(t, err)
}

type testApp struct {
	*app
	srv *httptest.Server
	bus *eventbus.Bus
}

func newTestApp(t *testing.T, cfg *config.Config) *testApp {
	t.Helper()
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })

	a, err := newApp(context.Background(), cfg, bus, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(a.mux)
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})
	return &testApp{app: a, srv: srv, bus: bus}
}

func (a *testApp) graphql(t *testing.T, user, body string) map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/graphql", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChatQueriesAndMutations(t *testing.T) {
	a := newTestApp(t, config.Default())

	res := a.graphql(t, "", `{"query":"mutation { postMessage(room: \"general\", body: \"hi\") { id } }"}`)
	require.Contains(t, res, "errors")
	assert.Nil(t, res["data"])

	res = a.graphql(t, "alice", `{"query":"mutation { postMessage(room: \"general\", body: \"hi\") { id author } }"}`)
	require.NotContains(t, res, "errors")

	res = a.graphql(t, "", `{"query":"{ rooms { name messages { body author room { id } } } }"}`)
	want := map[string]any{
		"data": map[string]any{
			"rooms": []any{
				map[string]any{"name": "General", "messages": []any{
					map[string]any{"body": "hi", "author": "alice", "room": map[string]any{"id": "general"}},
				}},
				map[string]any{"name": "Random", "messages": []any{}},
			},
		},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("rooms mismatch (-want +got):\n%s", diff)
	}

	res = a.graphql(t, "alice", `{"query":"mutation { postMessage(room: \"attic\", body: \"x\") { id } }"}`)
	errs := res["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, `Room "attic" not found`, errs[0].(map[string]any)["message"])
}

func TestChatMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, config.Default())
	a.graphql(t, "", `{"query":"{ rooms { messages { room { name } } } }"}`)

	resp, err := http.Get(a.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `graphcore_operations_total{outcome="success",type="query"} 1`)
}

func dialChat(t *testing.T, a *testApp, token string) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{Subprotocols: []string{subscription.Protocol}, HandshakeTimeout: time.Second}
	conn, _, err := d.Dial("ws"+strings.TrimPrefix(a.srv.URL, "http")+"/graphql", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "connection_init", "payload": map[string]any{"authToken": token}}))
	var ack subscription.Message
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, subscription.MessageConnectionAck, ack.Type)
	return conn
}

func subscribeAndPost(t *testing.T, a *testApp, waitSubscribed func() bool) {
	t.Helper()
	conn := dialChat(t, a, "bob")
	require.NoError(t, conn.WriteJSON(map[string]any{
		"id":      "s1",
		"type":    "subscribe",
		"payload": map[string]any{"query": "subscription { messageAdded { body author room { name } } }"},
	}))
	require.Eventually(t, waitSubscribed, 2*time.Second, 10*time.Millisecond)

	a.graphql(t, "alice", `{"query":"mutation { postMessage(room: \"random\", body: \"hello\") { id } }"}`)

	var next subscription.Message
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "s1", next.ID)
	assert.Equal(t, subscription.MessageNext, next.Type)
	assert.JSONEq(t, `{"data":{"messageAdded":{"body":"hello","author":"alice","room":{"name":"Random"}}}}`, string(next.Payload))
}

func TestChatSubscriptionInMemory(t *testing.T) {
	a := newTestApp(t, config.Default())
	ps := a.pubsub.(*subscription.MemoryPubSub)
	subscribeAndPost(t, a, func() bool { return ps.Subscribers(messageChannel) == 1 })
}

func TestChatSubscriptionOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Subscriptions.Backend = config.BackendRedis
	cfg.Persisted.Backend = config.BackendRedis
	a := newTestApp(t, cfg)

	subscribeAndPost(t, a, func() bool {
		return mr.PubSubNumSub("graphql:" + messageChannel)["graphql:"+messageChannel] == 1
	})
}

func TestChatStoreLatestIsNeverNil(t *testing.T) {
	s := newChatStore()
	empty := s.latest("random", 20)
	require.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, body := range []string{"a", "b", "c"} {
		_, err := s.post("general", body, "")
		require.NoError(t, err)
	}
	got := s.latest("general", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Body)
	assert.Equal(t, "c", got[1].Body)

	got[0] = nil
	assert.NotNil(t, s.latest("general", 2)[0])
}
