package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the import pipeline.
type Metrics struct {
	FilesProcessed  prometheus.Counter
	EventsParsed    prometheus.Counter
	RecordsImported prometheus.Counter
	ParseErrors     prometheus.Counter
	MappingFailures prometheus.Counter
	ImportsRunning  prometheus.Gauge

	BatchPersistDuration prometheus.Histogram
	MatchTypes           *prometheus.CounterVec // label: type={exact_uuid,exact_name,fuzzy_name,created,not_found}
}

func newMetrics() *Metrics {
	return &Metrics{
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "park_import",
			Name:      "files_processed_total",
			Help:      "Total archive files fetched and parsed.",
		}),
		EventsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "park_import",
			Name:      "events_parsed_total",
			Help:      "Total archive events decoded.",
		}),
		RecordsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "park_import",
			Name:      "records_imported_total",
			Help:      "Total status records committed to storage.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "park_import",
			Name:      "parse_errors_total",
			Help:      "Total per-file and per-event parse failures.",
		}),
		MappingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "park_import",
			Name:      "mapping_failures_total",
			Help:      "Total events skipped because no catalog entity matched.",
		}),
		ImportsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "park_import",
			Name:      "imports_running",
			Help:      "Number of import jobs currently in progress.",
		}),
		BatchPersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "park_import",
			Name:      "batch_persist_duration_seconds",
			Help:      "Duration of one transactional batch write.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		MatchTypes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "park_import",
			Name:      "entity_matches_total",
			Help:      "Entity resolution outcomes by match type.",
		}, []string{"type"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FilesProcessed,
		m.EventsParsed,
		m.RecordsImported,
		m.ParseErrors,
		m.MappingFailures,
		m.ImportsRunning,
		m.BatchPersistDuration,
		m.MatchTypes,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so parallel tests do not
// trip "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
