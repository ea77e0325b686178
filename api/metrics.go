package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds the Prometheus metrics owned by the HTTP server. One
// instance is created in New against an injected registry so tests never
// pollute the global default.
type serverMetrics struct {
	// httpRequestsTotal counts every request handled by the mux, partitioned
	// by method, logical handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// chatRequestsTotal counts completed chat exchanges by outcome:
	// "ok", "degraded" (the answer carries an error literal), or "error".
	chatRequestsTotal *prometheus.CounterVec

	// ingestedFilesTotal counts files newly ingested into a session index;
	// re-uploads the pipeline skips are excluded.
	ingestedFilesTotal prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "handler", "code"}),

		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat exchanges completed, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestedFilesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docchat",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Total number of uploaded files newly ingested into a session index.",
		}),
	}
}
