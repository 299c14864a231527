// Package persisted stores query documents by their SHA-256 hash so clients
// can send the hash instead of the full text.
package persisted

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hanpama/graphcore/internal/persisted"

// Store maps a query hash to its text. Get reports a miss with ok == false
// and a nil error.
type Store interface {
	Get(ctx context.Context, hash string) (query string, ok bool, err error)
	Put(ctx context.Context, hash, query string) error
}

// Hash returns the lowercase hex SHA-256 of query.
func Hash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// LRUStore keeps the most recently used queries in process.
type LRUStore struct {
	cache *lru.Cache
}

// DefaultSize is the LRUStore capacity used when size is not positive.
const DefaultSize = 1000

func NewLRUStore(size int) (*LRUStore, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("persisted: create lru: %w", err)
	}
	return &LRUStore{cache: cache}, nil
}

func (s *LRUStore) Get(_ context.Context, hash string) (string, bool, error) {
	v, ok := s.cache.Get(hash)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (s *LRUStore) Put(_ context.Context, hash, query string) error {
	s.cache.Add(hash, query)
	return nil
}

func (s *LRUStore) Len() int { return s.cache.Len() }

// RedisStore shares persisted queries between instances.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

type RedisOption func(*RedisStore)

// WithKeyPrefix sets the prefix of every stored key. The default is "apq:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// WithTTL expires entries after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, keyPrefix: "apq:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, hash string) (string, bool, error) {
	ctx, span := startSpan(ctx, "persisted.Get", hash)
	defer span.End()

	query, err := s.client.Get(ctx, s.keyPrefix+hash).Result()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("persisted.hit", false))
		return "", false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", false, fmt.Errorf("persisted: get %s: %w", hash, err)
	}
	span.SetAttributes(attribute.Bool("persisted.hit", true))
	return query, true, nil
}

func (s *RedisStore) Put(ctx context.Context, hash, query string) error {
	ctx, span := startSpan(ctx, "persisted.Put", hash)
	defer span.End()

	if err := s.client.Set(ctx, s.keyPrefix+hash, query, s.ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("persisted: put %s: %w", hash, err)
	}
	return nil
}

func startSpan(ctx context.Context, name, hash string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("persisted.hash", hash)),
	)
}
