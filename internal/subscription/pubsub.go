// Package subscription implements the graphql-transport-ws protocol on top
// of a channel based publish/subscribe layer.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
	gqlerrors "github.com/hanpama/graphcore/internal/gqlerrors"
)

// Callback receives one published payload.
type Callback func(ctx context.Context, payload any) error

// Handle identifies one subscriber of a PubSub.
type Handle uint64

// PubSub routes published payloads to the subscribers of a channel.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload any) error
	Subscribe(channel string, cb Callback) (Handle, error)
	Unsubscribe(channel string, h Handle) error
}

type subscriber struct {
	handle Handle
	cb     Callback
}

// MemoryPubSub delivers payloads in process. Subscribers of a channel are
// called in subscription order on the publishing goroutine.
type MemoryPubSub struct {
	mu       sync.RWMutex
	channels map[string][]subscriber
	next     Handle
	logger   *zap.Logger
}

type MemoryOption func(*MemoryPubSub)

func WithMemoryLogger(l *zap.Logger) MemoryOption {
	return func(p *MemoryPubSub) { p.logger = l }
}

func NewMemoryPubSub(opts ...MemoryOption) *MemoryPubSub {
	p := &MemoryPubSub{channels: make(map[string][]subscriber), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish calls every current subscriber of channel. A failing or
// panicking subscriber is logged and does not stop delivery to the rest.
func (p *MemoryPubSub) Publish(ctx context.Context, channel string, payload any) error {
	p.mu.RLock()
	subs := append([]subscriber(nil), p.channels[channel]...)
	p.mu.RUnlock()

	failures := 0
	for _, s := range subs {
		if err := p.call(ctx, s, payload); err != nil {
			failures++
			p.logger.Warn("subscriber failed",
				zap.String("channel", channel),
				zap.Uint64("handle", uint64(s.handle)),
				zap.Error(err),
			)
		}
	}
	eventbus.Publish(ctx, events.EventPublished{Channel: channel, Subscribers: len(subs), Failures: failures})
	return nil
}

func (p *MemoryPubSub) call(ctx context.Context, s subscriber, payload any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = gqlerrors.NewPanicError(rec)
		}
	}()
	return s.cb(ctx, payload)
}

func (p *MemoryPubSub) Subscribe(channel string, cb Callback) (Handle, error) {
	if cb == nil {
		return 0, fmt.Errorf("subscription: nil callback for channel %q", channel)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.channels[channel] = append(p.channels[channel], subscriber{handle: p.next, cb: cb})
	return p.next, nil
}

// Unsubscribe removes h from channel. Unknown handles are ignored.
func (p *MemoryPubSub) Unsubscribe(channel string, h Handle) error {
	p.remove(channel, h)
	return nil
}

func (p *MemoryPubSub) remove(channel string, h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.channels[channel]
	for i, s := range subs {
		if s.handle != h {
			continue
		}
		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(p.channels, channel)
		} else {
			p.channels[channel] = subs
		}
		return true
	}
	return false
}

// Subscribers returns the number of subscribers of channel.
func (p *MemoryPubSub) Subscribers(channel string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.channels[channel])
}
