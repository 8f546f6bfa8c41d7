// Package telemetry provides the bridge's Prometheus metrics and OpenTelemetry tracing helpers.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error kinds counted by Metrics.Error.
const (
	KindConnection            = "connection"
	KindResolution            = "resolution"
	KindSend                  = "send"
	KindClassificationBackend = "classification_backend"
	KindClose                 = "close"
)

// Metrics groups the bridge's collectors on a dedicated registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Notifications   *prometheus.CounterVec
	Classifications *prometheus.CounterVec
	Sends           *prometheus.CounterVec
	Connects        *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	ClassifyLatency prometheus.Histogram
	Running         prometheus.Gauge
	KeywordCount    prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qunbridge_notifications_total",
			Help: "Article notifications by outcome (sent, skipped, dropped)",
		}, []string{"outcome"}),
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qunbridge_classifications_total",
			Help: "Inbound group messages by classifier action and reason",
		}, []string{"action", "reason"}),
		Sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qunbridge_sends_total",
			Help: "Transport send attempts by result",
		}, []string{"transport", "result"}),
		Connects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qunbridge_connects_total",
			Help: "Session connect attempts by result",
		}, []string{"transport", "result"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qunbridge_errors_total",
			Help: "Bridge failures by kind",
		}, []string{"kind"}),
		ClassifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qunbridge_classify_duration_seconds",
			Help:    "Time spent classifying one inbound message",
			Buckets: prometheus.DefBuckets,
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Name: "qunbridge_running",
			Help: "1 while the bridge is connected with a bound group, else 0",
		}),
		KeywordCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "qunbridge_keywords",
			Help: "Keywords in the current snapshot",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Notification(outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Classification(action, reason string, took time.Duration) {
	if m != nil {
		m.Classifications.WithLabelValues(action, reason).Inc()
		m.ClassifyLatency.Observe(took.Seconds())
	}
}

func (m *Metrics) Send(transport string, err error) {
	if m != nil {
		m.Sends.WithLabelValues(transport, result(err)).Inc()
	}
}

func (m *Metrics) Connect(transport string, err error) {
	if m != nil {
		m.Connects.WithLabelValues(transport, result(err)).Inc()
	}
}

func (m *Metrics) Error(kind string) {
	if m != nil {
		m.Errors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

func (m *Metrics) SetKeywordCount(n int) {
	if m != nil {
		m.KeywordCount.Set(float64(n))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
