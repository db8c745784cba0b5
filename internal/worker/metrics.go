package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry      *prometheus.Registry
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	activeJobs    prometheus.Gauge
	transforms    *prometheus.CounterVec
	bytesCached   prometheus.Counter
	webhookErrors prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelproxy_worker_jobs_total",
			Help: "Total prewarm jobs by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelproxy_worker_job_duration_seconds",
			Help:    "Processing duration of each prewarm job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelproxy_worker_active_jobs",
			Help: "Prewarm jobs currently being processed.",
		}),
		transforms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelproxy_worker_transforms_total",
			Help: "Prewarm transformations by source format, target format and outcome.",
		}, []string{"source", "target", "outcome"}),
		bytesCached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelproxy_worker_cached_bytes_total",
			Help: "Total bytes written to the response cache by prewarm jobs.",
		}),
		webhookErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelproxy_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.transforms,
		m.bytesCached,
		m.webhookErrors,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
