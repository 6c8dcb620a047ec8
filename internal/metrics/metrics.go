// Package metrics exposes Prometheus collectors for queries, store snapshots
// and HTTP requests.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lpsugar/internal/store"
	"lpsugar/internal/sugar"
)

const namespace = "lpsugar"

// Metrics owns a private registry so tests and multiple servers never clash.
type Metrics struct {
	registry *prometheus.Registry

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	snapshots     *prometheus.CounterVec
	snapshotOpen  prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Completed queries by operation and outcome.",
		}, []string{"op", "status"}),
		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_snapshots_total",
			Help:      "Store snapshots opened by outcome.",
		}, []string{"status"}),
		snapshotOpen: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_snapshot_open_seconds",
			Help:      "Time to open a store snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQuery implements sugar.Observer.
func (m *Metrics) ObserveQuery(op string, elapsed time.Duration, err error) {
	m.queries.WithLabelValues(op, Status(err)).Inc()
	m.queryDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request. route is the matched pattern.
func (m *Metrics) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Status maps a query error to a low-cardinality label.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sugar.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, sugar.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, sugar.ErrUpstreamUnavailable), errors.Is(err, store.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// InstrumentSource counts and times snapshot opens of src.
func (m *Metrics) InstrumentSource(src store.Source) store.Source {
	return &instrumentedSource{src: src, m: m}
}

type instrumentedSource struct {
	src store.Source
	m   *Metrics
}

func (s *instrumentedSource) Snapshot(ctx context.Context) (store.Snapshot, error) {
	start := time.Now()
	snap, err := s.src.Snapshot(ctx)
	s.m.snapshotOpen.Observe(time.Since(start).Seconds())
	s.m.snapshots.WithLabelValues(Status(err)).Inc()
	return snap, err
}
