// Package metrics exposes Prometheus instrumentation for the consensus
// engine: provider call counts and latency, accumulated cost, rounds per
// thread, and sycophancy detections.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	CostUSD          *prometheus.CounterVec
	ThreadsTotal     *prometheus.CounterVec
	RoundsPerThread  prometheus.Histogram
	SycophancyTotal  *prometheus.CounterVec
	ConvergedTotal   prometheus.Counter
	RateLimited      prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_provider_requests_total",
			Help: "Provider calls by model, role and outcome",
		}, []string{"model", "provider", "role", "status"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quorum_provider_latency_ms",
			Help:    "Provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 12),
		}, []string{"model", "provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_cost_usd_total",
			Help: "Accumulated USD cost per model",
		}, []string{"model", "provider"}),
		ThreadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_threads_total",
			Help: "Debate threads by protocol and final status",
		}, []string{"protocol", "status"}),
		RoundsPerThread: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quorum_rounds_per_thread",
			Help:    "Consensus rounds executed per completed thread",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		SycophancyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_sycophantic_challenges_total",
			Help: "Challenges flagged as sycophantic, by model",
		}, []string{"model"}),
		ConvergedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quorum_converged_threads_total",
			Help: "Threads that stopped early on challenge convergence",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quorum_http_rate_limited_total",
			Help: "HTTP requests rejected by the rate limiter",
		}),
	}
	reg.MustRegister(
		m.ProviderRequests, m.ProviderLatency, m.CostUSD,
		m.ThreadsTotal, m.RoundsPerThread, m.SycophancyTotal,
		m.ConvergedTotal, m.RateLimited,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
