// Package metrics defines the Prometheus collectors for the ETL pipeline and
// the HTTP server that exposes them together with the health endpoints.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	RowsDetected    *prometheus.CounterVec
	RootsEnriched   *prometheus.CounterVec
	DocumentsLoaded *prometheus.CounterVec
	BulkRequests    *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	Watermark       *prometheus.GaugeVec
	DrainDuration   *prometheus.HistogramVec
	Cycles          prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RowsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_rows_detected_total",
				Help: "Changed rows read from the catalog, by table.",
			},
			[]string{"table"},
		),
		RootsEnriched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_roots_enriched_total",
				Help: "Film ids resolved from dependent-table changes, by dependent table.",
			},
			[]string{"table"},
		),
		DocumentsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_documents_loaded_total",
				Help: "Documents written to the search index, by index.",
			},
			[]string{"index"},
		),
		BulkRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_bulk_requests_total",
				Help: "Bulk requests sent, by index and status (ok, error).",
			},
			[]string{"index", "status"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_retries_total",
				Help: "Failed attempts followed by a backoff sleep, by operation.",
			},
			[]string{"operation"},
		),
		Watermark: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "etl_watermark_timestamp_seconds",
				Help: "Stored watermark per table as a unix timestamp.",
			},
			[]string{"table"},
		),
		DrainDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "etl_table_drain_duration_seconds",
				Help:    "Time to drain all pending changes of a table.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"table"},
		),
		Cycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "etl_cycles_total",
				Help: "Completed passes over all configured tables.",
			},
		),
	}

	reg.MustRegister(
		m.RowsDetected,
		m.RootsEnriched,
		m.DocumentsLoaded,
		m.BulkRequests,
		m.Retries,
		m.Watermark,
		m.DrainDuration,
		m.Cycles,
	)

	return m
}

// ObserveRetry counts one retry of operation. Its signature matches
// resilience.Observer.
func (m *Metrics) ObserveRetry(operation string, _ int, _ time.Duration, _ error) {
	m.Retries.WithLabelValues(operation).Inc()
}

// Handler returns the scrape handler for the collectors in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
