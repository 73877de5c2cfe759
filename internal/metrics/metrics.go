// Package metrics exposes Prometheus counters for model calls and portfolio
// writes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "treebank"

type Metrics struct {
	registry *prometheus.Registry

	modelCalls   *prometheus.CounterVec
	modelErrors  *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	treesSaved   prometheus.Counter
	chatsLogged  prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model requests by operation.",
		}, []string{"op"}),
		modelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Failed model requests by operation and error kind.",
		}, []string{"op", "kind"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_request_seconds",
			Help:      "Model request latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"op"}),
		treesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trees_saved_total",
			Help:      "Trees appended to the portfolio.",
		}),
		chatsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_logged_total",
			Help:      "Chat turns written to the transcript log.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.modelCalls,
		m.modelErrors,
		m.modelLatency,
		m.treesSaved,
		m.chatsLogged,
	)
	return m
}

// ObserveModelCall records one model request. kind is empty on success.
func (m *Metrics) ObserveModelCall(op string, elapsed time.Duration, kind string) {
	m.modelCalls.WithLabelValues(op).Inc()
	m.modelLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if kind != "" {
		m.modelErrors.WithLabelValues(op, kind).Inc()
	}
}

func (m *Metrics) TreeSaved() {
	m.treesSaved.Inc()
}

func (m *Metrics) ChatTurnsLogged(n int) {
	m.chatsLogged.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
