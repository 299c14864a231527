package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
	execctx "github.com/hanpama/graphcore/internal/execctx"
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
)

var (
	// ErrUnverifiedCredentials is returned by HandleMessage when
	// connection_init carries credentials and no authenticator is configured.
	// The transport must close the connection.
	ErrUnverifiedCredentials = errors.New("subscription: connection_init carries credentials but no authenticator is configured")
	// ErrUnauthenticated wraps authenticator failures. The transport must
	// close the connection.
	ErrUnauthenticated = errors.New("subscription: authentication failed")
	// ErrUnknownConnection is returned for messages on a connection that was
	// never connected or already disconnected.
	ErrUnknownConnection = errors.New("subscription: unknown connection")
)

// credentialKeys are connection_init payload entries that carry credentials.
var credentialKeys = []string{"authToken", "token", "Authorization", "authorization"}

// Transport sends frames to one client. Send may be called from several
// goroutines at once.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function into a Transport.
type TransportFunc func(ctx context.Context, msg Message) error

func (f TransportFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Authenticator turns a connection_init payload into a principal.
type Authenticator func(ctx context.Context, payload map[string]any) (principal any, err error)

// EventExecutor produces the next payload for one published event. ec is
// fresh for every event and carries the connection's principal.
type EventExecutor func(ctx context.Context, ec *execctx.ExecutionContext, sub SubscribePayload, event any) any

// Connection is the protocol state of one client.
type Connection struct {
	ID          string
	Principal   any
	Initialized bool
	Transport   Transport
}

// Handler runs the graphql-transport-ws state machine for every connection.
type Handler struct {
	registry *Registry
	auth     Authenticator
	exec     EventExecutor
	services execctx.Locator
	fallback string
	logger   *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
}

type HandlerOption func(*Handler)

func WithAuthenticator(a Authenticator) HandlerOption {
	return func(h *Handler) { h.auth = a }
}

func WithLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithEventExecutor executes the subscription document for every event.
// Without it the event itself is sent as data.
func WithEventExecutor(e EventExecutor) HandlerOption {
	return func(h *Handler) { h.exec = e }
}

// WithServices sets the service locator of event execution contexts.
func WithServices(s execctx.Locator) HandlerOption {
	return func(h *Handler) { h.services = s }
}

// WithFallbackChannel sets the channel used when none can be read from a
// subscription document.
func WithFallbackChannel(name string) HandlerOption {
	return func(h *Handler) { h.fallback = name }
}

func NewHandler(registry *Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		registry: registry,
		fallback: DefaultFallbackChannel,
		logger:   zap.NewNop(),
		conns:    make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers a new connection in its initial state.
func (h *Handler) Connect(ctx context.Context, id string, t Transport) *Connection {
	conn := &Connection{ID: id, Transport: t}
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
	eventbus.Publish(ctx, events.ConnectionOpened{ConnectionID: id})
	return conn
}

// Disconnect drops every subscription of id and forgets the connection.
// Calling it again is a no-op.
func (h *Handler) Disconnect(id string) {
	h.mu.Lock()
	_, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	n := h.registry.UnsubscribeAll(id)
	h.logger.Debug("connection closed", zap.String("connection", id), zap.Int("subscriptions", n))
	eventbus.Publish(context.Background(), events.ConnectionClosed{ConnectionID: id, Subscriptions: n})
}

// Connection returns a snapshot of the state of id.
func (h *Handler) Connection(id string) (Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// HandleMessage processes one inbound frame. Protocol errors are answered
// with error messages; a returned error is fatal and the transport must
// close the connection.
func (h *Handler) HandleMessage(ctx context.Context, id string, data []byte) error {
	h.mu.RLock()
	conn, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return h.sendError(ctx, conn, "", fmt.Sprintf("Invalid message received: %v", err))
	}

	switch msg.Type {
	case MessageConnectionInit:
		return h.init(ctx, conn, msg)
	case MessageSubscribe:
		return h.subscribe(ctx, conn, msg)
	case MessageComplete:
		h.registry.Unsubscribe(conn.ID, msg.ID)
		return nil
	case MessagePing:
		return h.send(ctx, conn, Message{Type: MessagePong, Payload: msg.Payload})
	case MessagePong:
		return nil
	default:
		return h.sendError(ctx, conn, msg.ID, fmt.Sprintf("Unknown message type %q.", msg.Type))
	}
}

func (h *Handler) init(ctx context.Context, conn *Connection, msg Message) error {
	var payload map[string]any
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return h.sendError(ctx, conn, "", "connection_init payload must be an object")
		}
	}

	var principal any
	if h.auth == nil {
		if hasCredentials(payload) {
			h.logger.Warn("rejecting credentialed connection without authenticator", zap.String("connection", conn.ID))
			return ErrUnverifiedCredentials
		}
	} else {
		p, err := h.auth(ctx, payload)
		if err != nil {
			h.logger.Info("authentication failed", zap.String("connection", conn.ID), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		principal = p
	}

	h.mu.Lock()
	conn.Principal = principal
	conn.Initialized = true
	h.mu.Unlock()
	return h.send(ctx, conn, Message{Type: MessageConnectionAck})
}

func hasCredentials(payload map[string]any) bool {
	for _, k := range credentialKeys {
		if v, ok := payload[k]; ok && v != nil && v != "" {
			return true
		}
	}
	return false
}

func (h *Handler) subscribe(ctx context.Context, conn *Connection, msg Message) error {
	h.mu.RLock()
	initialized := conn.Initialized
	principal := conn.Principal
	h.mu.RUnlock()
	if !initialized {
		return h.sendError(ctx, conn, msg.ID, "Connection has not been initialized.")
	}
	if msg.ID == "" {
		return h.sendError(ctx, conn, "", "subscribe requires an id")
	}

	var payload SubscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return h.sendError(ctx, conn, msg.ID, fmt.Sprintf("Invalid subscribe payload: %v", err))
	}

	channel := ChannelName(payload.Query, payload.OperationName, h.fallback)
	opID := msg.ID
	err := h.registry.Subscribe(conn.ID, opID, channel, func(ctx context.Context, event any) error {
		return h.deliver(ctx, conn, opID, principal, payload, event)
	})
	if errors.Is(err, ErrDuplicateSubscription) {
		return h.sendError(ctx, conn, opID, fmt.Sprintf("Subscriber for %s already exists.", opID))
	}
	if err != nil {
		h.logger.Error("subscribe failed", zap.String("connection", conn.ID), zap.String("channel", channel), zap.Error(err))
		return h.sendError(ctx, conn, opID, "Subscription could not be started.")
	}
	return nil
}

func (h *Handler) deliver(ctx context.Context, conn *Connection, opID string, principal any, sub SubscribePayload, event any) error {
	var result any = map[string]any{"data": event}
	if h.exec != nil {
		result = h.exec(ctx, execctx.New(principal, h.services), sub, event)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("subscription: encode next for %s: %w", opID, err)
	}
	return h.send(ctx, conn, Message{ID: opID, Type: MessageNext, Payload: payload})
}

func (h *Handler) sendError(ctx context.Context, conn *Connection, opID, message string) error {
	payload, err := json.Marshal(gqlerrors.List{gqlerrors.New("%s", message)})
	if err != nil {
		return err
	}
	return h.send(ctx, conn, Message{ID: opID, Type: MessageError, Payload: payload})
}

func (h *Handler) send(ctx context.Context, conn *Connection, msg Message) error {
	if err := conn.Transport.Send(ctx, msg); err != nil {
		h.logger.Warn("send failed",
			zap.String("connection", conn.ID),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
		return err
	}
	return nil
}
