// Package metrics exposes prometheus metrics for the recovery service on a
// dedicated HTTP server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer serves /metrics from its own registry.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// New creates a registry with Go and process collectors and a server
// bound to addr. namespace prefixes the recovery metrics.
func New(namespace, addr string) (*MetricsServer, *Recorder) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, NewRecorder(namespace, registry)
}

func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// Recorder records recovery operation outcomes. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	operations     *prometheus.CounterVec
	commitDuration prometheus.Histogram
	notifications  *prometheus.CounterVec
	archived       *prometheus.CounterVec
}

func NewRecorder(namespace string, reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Recovery operations by name and outcome kind.",
		}, []string{"operation", "outcome"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Duration of account commit transactions.",
			Buckets:   prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by template and delivery result.",
		}, []string{"template", "delivered"}),
		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_total",
			Help:      "Archive writes by content type and result.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(r.operations, r.commitDuration, r.notifications, r.archived)
	return r
}

// Operation counts one call of op. outcome is "ok" or an error kind.
func (r *Recorder) Operation(op, outcome string) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(op, outcome).Inc()
}

func (r *Recorder) ObserveCommit(d time.Duration) {
	if r == nil {
		return
	}
	r.commitDuration.Observe(d.Seconds())
}

func (r *Recorder) Notification(template string, delivered bool) {
	if r == nil {
		return
	}
	label := "false"
	if delivered {
		label = "true"
	}
	r.notifications.WithLabelValues(template, label).Inc()
}

func (r *Recorder) Archived(contentType string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.archived.WithLabelValues(contentType, result).Inc()
}
