package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
)

// ErrDuplicateSubscription is returned when an operation id is already in
// use on a connection.
var ErrDuplicateSubscription = errors.New("subscription: operation id already subscribed")

// Subscription binds one operation of a connection to a channel.
type Subscription struct {
	ConnectionID string
	OperationID  string
	Channel      string
	Handle       Handle

	active *atomic.Bool
}

// Registry tracks subscriptions by connection and operation id on top of a
// PubSub.
type Registry struct {
	pubsub PubSub
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]map[string]*Subscription
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(pubsub PubSub, opts ...RegistryOption) *Registry {
	r := &Registry{pubsub: pubsub, logger: zap.NewNop(), subs: make(map[string]map[string]*Subscription)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PubSub returns the underlying publish/subscribe layer.
func (r *Registry) PubSub() PubSub { return r.pubsub }

// Subscribe binds (connID, opID) to channel. cb stops being called as soon
// as the binding is removed, even for a publish already in progress.
func (r *Registry) Subscribe(connID, opID, channel string, cb Callback) error {
	r.mu.Lock()
	ops := r.subs[connID]
	if _, ok := ops[opID]; ok {
		r.mu.Unlock()
		return ErrDuplicateSubscription
	}
	active := new(atomic.Bool)
	active.Store(true)
	h, err := r.pubsub.Subscribe(channel, func(ctx context.Context, payload any) error {
		if !active.Load() {
			return nil
		}
		return cb(ctx, payload)
	})
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if ops == nil {
		ops = make(map[string]*Subscription)
		r.subs[connID] = ops
	}
	ops[opID] = &Subscription{ConnectionID: connID, OperationID: opID, Channel: channel, Handle: h, active: active}
	r.mu.Unlock()

	r.logger.Debug("subscribed",
		zap.String("connection", connID),
		zap.String("operation", opID),
		zap.String("channel", channel),
	)
	eventbus.Publish(context.Background(), events.SubscriptionStarted{ConnectionID: connID, OperationID: opID, Channel: channel})
	return nil
}

// Unsubscribe removes one binding. It reports whether one existed.
func (r *Registry) Unsubscribe(connID, opID string) bool {
	r.mu.Lock()
	sub, ok := r.subs[connID][opID]
	if ok {
		delete(r.subs[connID], opID)
		if len(r.subs[connID]) == 0 {
			delete(r.subs, connID)
		}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.release(sub)
	return true
}

// UnsubscribeAll removes every binding of connID and returns their number.
func (r *Registry) UnsubscribeAll(connID string) int {
	r.mu.Lock()
	ops := r.subs[connID]
	delete(r.subs, connID)
	r.mu.Unlock()
	for _, sub := range ops {
		r.release(sub)
	}
	return len(ops)
}

// Count returns the number of bindings of connID.
func (r *Registry) Count(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[connID])
}

// Get returns the binding of (connID, opID).
func (r *Registry) Get(connID, opID string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[connID][opID]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

func (r *Registry) release(sub *Subscription) {
	sub.active.Store(false)
	if err := r.pubsub.Unsubscribe(sub.Channel, sub.Handle); err != nil {
		r.logger.Warn("unsubscribe failed",
			zap.String("connection", sub.ConnectionID),
			zap.String("operation", sub.OperationID),
			zap.String("channel", sub.Channel),
			zap.Error(err),
		)
	}
	eventbus.Publish(context.Background(), events.SubscriptionStopped{
		ConnectionID: sub.ConnectionID,
		OperationID:  sub.OperationID,
		Channel:      sub.Channel,
	})
}
