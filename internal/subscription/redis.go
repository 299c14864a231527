package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// RedisPubSub publishes through Redis so every instance sharing the server
// sees every event. Local subscribers are kept in a MemoryPubSub; Run must be
// running for them to receive anything.
//
// Payloads travel as protobuf-encoded structpb.Value. Values that structpb
// cannot hold directly are converted through their JSON form, so structs
// arrive as maps and numbers as float64.
type RedisPubSub struct {
	client redis.UniversalClient
	sub    *redis.PubSub
	local  *MemoryPubSub
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	counts map[string]int
}

type RedisOption func(*RedisPubSub)

// WithChannelPrefix namespaces Redis channel names. The default is "graphql:".
func WithChannelPrefix(prefix string) RedisOption {
	return func(r *RedisPubSub) { r.prefix = prefix }
}

func WithRedisLogger(l *zap.Logger) RedisOption {
	return func(r *RedisPubSub) { r.logger = l }
}

func NewRedisPubSub(ctx context.Context, client redis.UniversalClient, opts ...RedisOption) *RedisPubSub {
	r := &RedisPubSub{
		client: client,
		prefix: "graphql:",
		logger: zap.NewNop(),
		counts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.local = NewMemoryPubSub(WithMemoryLogger(r.logger))
	r.sub = client.Subscribe(ctx)
	return r
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, payload any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("subscription: encode payload for %q: %w", channel, err)
	}
	if err := r.client.Publish(ctx, r.prefix+channel, data).Err(); err != nil {
		return fmt.Errorf("subscription: publish %q: %w", channel, err)
	}
	return nil
}

// Subscribe registers cb locally. The Redis channel is subscribed when its
// first local subscriber arrives.
func (r *RedisPubSub) Subscribe(channel string, cb Callback) (Handle, error) {
	h, err := r.local.Subscribe(channel, cb)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[channel]++
	if r.counts[channel] == 1 {
		if err := r.sub.Subscribe(context.Background(), r.prefix+channel); err != nil {
			r.counts[channel]--
			_ = r.local.Unsubscribe(channel, h)
			return 0, fmt.Errorf("subscription: redis subscribe %q: %w", channel, err)
		}
	}
	return h, nil
}

// Unsubscribe removes h. The Redis channel is released with its last local
// subscriber.
func (r *RedisPubSub) Unsubscribe(channel string, h Handle) error {
	if !r.local.remove(channel, h) {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[channel]--
	if r.counts[channel] > 0 {
		return nil
	}
	delete(r.counts, channel)
	if err := r.sub.Unsubscribe(context.Background(), r.prefix+channel); err != nil {
		return fmt.Errorf("subscription: redis unsubscribe %q: %w", channel, err)
	}
	return nil
}

// Run redelivers messages received from Redis to local subscribers until
// ctx is done or the subscription is closed.
func (r *RedisPubSub) Run(ctx context.Context) error {
	ch := r.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			payload, err := decodePayload([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("dropping undecodable message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			_ = r.local.Publish(ctx, strings.TrimPrefix(msg.Channel, r.prefix), payload)
		}
	}
}

func (r *RedisPubSub) Close() error { return r.sub.Close() }

func encodePayload(payload any) ([]byte, error) {
	v, err := structpb.NewValue(payload)
	if err != nil {
		raw, jerr := json.Marshal(payload)
		if jerr != nil {
			return nil, jerr
		}
		var generic any
		if jerr := json.Unmarshal(raw, &generic); jerr != nil {
			return nil, jerr
		}
		if v, err = structpb.NewValue(generic); err != nil {
			return nil, err
		}
	}
	return proto.Marshal(v)
}

func decodePayload(data []byte) (any, error) {
	var v structpb.Value
	if err := proto.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v.AsInterface(), nil
}
