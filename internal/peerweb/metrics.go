package peerweb

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "peerweb"

type metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	rpcLatency *prometheus.HistogramVec
	sessions   *prometheus.CounterVec
}

func newMetrics() *metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "requests_total",
		Help: "Virtual origin responses by outcome.",
	}, []string{"outcome"})
	rpcLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace, Name: "rpc_duration_seconds",
		Help:    "Time from resource request to resolution.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"result"})
	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace, Name: "session_transitions_total",
		Help: "Site lifecycle messages applied.",
	}, []string{"event"})
	r.MustRegister(requests, rpcLatency, sessions)

	return &metrics{registry: r, requests: requests, rpcLatency: rpcLatency, sessions: sessions}
}

// registerGauges exposes values owned by the service.
func (m *metrics) registerGauges(pending func() int, mediaBytes func() int64, unknown func() uint64) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "rpc_pending",
			Help: "Resource requests awaiting a response.",
		}, func() float64 { return float64(pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "media_cache_bytes",
			Help: "Bytes held by the media range cache.",
		}, func() float64 { return float64(mediaBytes()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "rpc_unknown_responses_total",
			Help: "Responses that matched no pending request.",
		}, func() float64 { return float64(unknown()) }),
	)
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
