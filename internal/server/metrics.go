package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	queries       *prometheus.CounterVec
	sources       *prometheus.CounterVec
	queryDuration prometheus.Histogram
	sessions      prometheus.Gauge
	uploads       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tabloom_queries_total",
			Help: "Queries received, by safety verdict",
		}, []string{"verdict"}),
		sources: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tabloom_instruction_source_total",
			Help: "Analysis instructions, by where they came from",
		}, []string{"source"}),
		queryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabloom_query_duration_seconds",
			Help:    "Time to answer a query, model calls included",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "tabloom_sessions",
			Help: "Datasets currently held in memory",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tabloom_uploads_total",
			Help: "Uploaded datasets, by classification source",
		}, []string{"source"}),
	}
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
