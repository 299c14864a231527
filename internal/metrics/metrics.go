// Package metrics exposes Prometheus collectors fed by eventbus events.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/graphcore/internal/eventbus"
	events "github.com/hanpama/graphcore/internal/events"
)

const namespace = "graphcore"

var durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds the server collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	loaderBatches     *prometheus.CounterVec
	loaderKeys        *prometheus.HistogramVec
	validation        *prometheus.CounterVec
	persisted         *prometheus.CounterVec
	connections       prometheus.Gauge
	subscriptions     prometheus.Gauge
	published         *prometheus.CounterVec
	deliveryFailures  prometheus.Counter
}

// New creates collectors on a fresh registry, including the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds",
		Help: "HTTP request duration in seconds", Buckets: durationBuckets,
	}, []string{"method"})
	m.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "operations_total",
		Help: "Total number of executed GraphQL operations",
	}, []string{"type", "outcome"})
	m.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "operation_duration_seconds",
		Help: "GraphQL operation duration in seconds", Buckets: durationBuckets,
	}, []string{"type"})
	m.loaderBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "loader_batches_total",
		Help: "Total number of DataLoader batch calls",
	}, []string{"loader", "outcome"})
	m.loaderKeys = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "loader_batch_keys",
		Help:    "Number of keys per DataLoader batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"loader"})
	m.validation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "validation_rejections_total",
		Help: "Total number of documents rejected by a validation rule",
	}, []string{"rule"})
	m.persisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "persisted_query_lookups_total",
		Help: "Total number of persisted query lookups",
	}, []string{"result"})
	m.connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "subscription_connections",
		Help: "Number of open subscription connections",
	})
	m.subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "subscriptions_active",
		Help: "Number of active subscriptions",
	})
	m.published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_published_total",
		Help: "Total number of payloads delivered per channel",
	}, []string{"channel"})
	m.deliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "event_delivery_failures_total",
		Help: "Total number of subscriber callbacks that failed",
	})

	m.registry.MustRegister(
		m.httpRequests, m.httpDuration,
		m.operations, m.operationDuration,
		m.loaderBatches, m.loaderKeys,
		m.validation, m.persisted,
		m.connections, m.subscriptions, m.published, m.deliveryFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Attach subscribes the collectors to b. The returned function detaches them.
func (m *Metrics) Attach(b *eventbus.Bus) (detach func()) {
	unsubs := []func(){
		eventbus.SubscribeTo(b, func(_ context.Context, e events.HTTPFinish) {
			m.httpRequests.WithLabelValues(e.Request.Method, strconv.Itoa(e.Status)).Inc()
			m.httpDuration.WithLabelValues(e.Request.Method).Observe(e.Duration.Seconds())
		}),
		eventbus.SubscribeTo(b, func(_ context.Context, e events.GraphQLFinish) {
			m.operations.WithLabelValues(opType(e.OperationType), outcome(len(e.Errors) == 0)).Inc()
			m.operationDuration.WithLabelValues(opType(e.OperationType)).Observe(e.Duration.Seconds())
		}),
		eventbus.SubscribeTo(b, func(_ context.Context, e events.LoaderFlush) {
			m.loaderBatches.WithLabelValues(e.Loader, outcome(e.Err == nil)).Inc()
			m.loaderKeys.WithLabelValues(e.Loader).Observe(float64(e.Keys))
		}),
		eventbus.SubscribeTo(b, func(_ context.Context, e events.ValidationRejected) {
			m.validation.WithLabelValues(e.Rule).Add(float64(e.Violations))
		}),
		eventbus.SubscribeTo(b, func(_ context.Context, e events.PersistedQuery) {
			result := "miss"
			if e.Hit {
				result = "hit"
			}
			m.persisted.WithLabelValues(result).Inc()
		}),
		eventbus.SubscribeTo(b, func(context.Context, events.ConnectionOpened) { m.connections.Inc() }),
		eventbus.SubscribeTo(b, func(context.Context, events.ConnectionClosed) { m.connections.Dec() }),
		eventbus.SubscribeTo(b, func(context.Context, events.SubscriptionStarted) { m.subscriptions.Inc() }),
		eventbus.SubscribeTo(b, func(context.Context, events.SubscriptionStopped) { m.subscriptions.Dec() }),
		eventbus.SubscribeTo(b, func(_ context.Context, e events.EventPublished) {
			m.published.WithLabelValues(e.Channel).Inc()
			m.deliveryFailures.Add(float64(e.Failures))
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func opType(t string) string {
	if t == "" {
		return "unknown"
	}
	return t
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
