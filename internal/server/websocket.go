package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	execctx "github.com/hanpama/graphcore/internal/execctx"
	query "github.com/hanpama/graphcore/internal/query"
	subscription "github.com/hanpama/graphcore/internal/subscription"
)

// graphql-transport-ws close codes.
const (
	closeBadRequest          = 4400
	closeForbidden           = 4403
	closeSubprotocolRejected = 4406
)

const writeTimeout = 10 * time.Second

// wsTransport serializes writes to one WebSocket connection.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) Send(_ context.Context, msg subscription.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) close(code int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opt.CORS.AllowedOrigins) == 0 {
		return true
	}
	return originAllowed(h.opt.CORS.AllowedOrigins, origin)
}

func (h *Handler) serveWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opt.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	t := &wsTransport{conn: conn}
	if conn.Subprotocol() != subscription.Protocol {
		t.close(closeSubprotocolRejected, "Subprotocol not acceptable")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := uuid.NewString()
	logger := h.opt.Logger.With(zap.String("connection", id))
	h.subs.Connect(ctx, id, t)
	defer h.subs.Disconnect(id)

	for {
		if h.opt.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.opt.IdleTimeout))
		}
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		if err := h.subs.HandleMessage(ctx, id, data); err != nil {
			code := closeBadRequest
			if errors.Is(err, subscription.ErrUnauthenticated) || errors.Is(err, subscription.ErrUnverifiedCredentials) {
				code = closeForbidden
			}
			logger.Info("closing websocket", zap.Int("code", code), zap.Error(err))
			t.close(code, err.Error())
			return
		}
	}
}

// NewEventExecutor runs every subscription event through exec, so clients
// receive the selection of their subscription document.
func NewEventExecutor(exec *query.Executor) subscription.EventExecutor {
	return func(ctx context.Context, ec *execctx.ExecutionContext, sub subscription.SubscribePayload, event any) any {
		q := sub.Query
		return exec.ExecuteEvent(ctx, ec, query.Request{
			Query:         &q,
			OperationName: sub.OperationName,
			Variables:     sub.Variables,
			Extensions:    sub.Extensions,
		}, event)
	}
}
