// Package metrics exposes Prometheus metrics for the proxy on a dedicated
// listener.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer owns the registry and the HTTP server that serves it.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	responses *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// New registers the proxy collectors under namespace. The listener is only
// started by ListenAndServe.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()

	m := &MetricsServer{
		registry: registry,
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Lookup responses by platform and status code.",
		}, []string{"platform", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end lookup latency, including attestation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.responses,
		m.duration,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.srv = &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m, nil
}

// ObserveResponse records one finished lookup.
func (m *MetricsServer) ObserveResponse(platform string, status int, elapsed time.Duration) {
	if platform == "" {
		platform = "unknown"
	}
	m.responses.WithLabelValues(platform, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(platform).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
