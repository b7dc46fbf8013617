package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline.
type Metrics struct {
	PostsFetched   prometheus.Counter
	PostsEnqueued  prometheus.Counter
	PostsPersisted prometheus.Counter
	PostsDuplicate prometheus.Counter
	// PostsDiscarded is labeled by reason: too_short, no_location, irrelevant.
	PostsDiscarded *prometheus.CounterVec
	FetchErrors    prometheus.Counter
	PersistErrors  prometheus.Counter

	QueueDepth      prometheus.Gauge
	PipelineRunning prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests *prometheus.CounterVec // labels: outcome={success,miss,error}
	GeocodeCache    *prometheus.CounterVec // labels: tier={exact,fuzzy,store}, result={hit,miss}
	GeocodeInFlight prometheus.Gauge
	GeocodeDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PostsFetched,
		m.PostsEnqueued,
		m.PostsPersisted,
		m.PostsDuplicate,
		m.PostsDiscarded,
		m.FetchErrors,
		m.PersistErrors,
		m.QueueDepth,
		m.PipelineRunning,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeInFlight,
		m.GeocodeDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PostsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disasterdata",
			Name:      "posts_fetched_total",
			Help:      "Total posts returned by the search API.",
		}),
		PostsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disasterdata",
			Name:      "posts_enqueued_total",
			Help:      "Total posts handed to the ingestion queue.",
		}),
		PostsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disasterdata",
			Name:      "posts_persisted_total",
			Help:      "Total enriched posts stored durably.",
		}),
		PostsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disasterdata",
			Name:      "posts_duplicate_total",
			Help:      "Total persistence submissions rejected as duplicates.",
		}),
		PostsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disasterdata",
			Name:      "posts_discarded_total",
			Help:      "Posts dropped by relevance filters, by reason.",
		}, []string{"reason"}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disasterdata",
			Name:      "fetch_errors_total",
			Help:      "Transient search API failures.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "disasterdata",
			Name:      "persist_errors_total",
			Help:      "Failed persistence submissions (excluding duplicates).",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "disasterdata",
			Name:      "queue_depth",
			Help:      "Posts currently waiting in the ingestion queue.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "disasterdata",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disasterdata",
			Name:      "geocode_requests_total",
			Help:      "External geocoding calls by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disasterdata",
			Name:      "geocode_cache_total",
			Help:      "Location cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		GeocodeInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "disasterdata",
			Name:      "geocode_in_flight",
			Help:      "External geocoding calls currently in flight.",
		}),
		GeocodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "disasterdata",
			Name:      "geocode_duration_seconds",
			Help:      "External geocoding request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}
