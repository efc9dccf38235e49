package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "water_chart_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the chart pipeline.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	TransformErrors  prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Request handling.
	RequestsSkipped *prometheus.CounterVec // labels: reason={recent,duplicate,gone}
	RecentCache     *prometheus.CounterVec // labels: result={hit,miss}

	// Chart source and parser metrics.
	ChartFetches       *prometheus.CounterVec // labels: outcome={success,gone,error}
	ChartFetchDuration prometheus.Histogram
	ParseOutcomes      *prometheus.CounterVec // labels: outcome={ok,fatal,stopped,error}
	ParseDuration      prometheus.Histogram
	BytesParsed        prometheus.Counter
	ParsedValues       *prometheus.CounterVec // labels: result={accepted,invalid,unparsable_date,non_leap_feb29}
	ParsedRuns         *prometheus.CounterVec // labels: result={committed,abandoned}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total load requests read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total charts written to the sink topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Total chart loads that failed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of load requests per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		RequestsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_skipped_total",
			Help:      "Load requests satisfied without producing a chart, by reason.",
		}, []string{"reason"}),
		RecentCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recent_cache_total",
			Help:      "Recently-loaded place lookups by result.",
		}, []string{"result"}),
		ChartFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chart_fetches_total",
			Help:      "Chart source requests by outcome.",
		}, []string{"outcome"}),
		ChartFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chart_fetch_duration_seconds",
			Help:      "Time until the chart source responded with headers.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ParseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_sessions_total",
			Help:      "Chart parse sessions by outcome.",
		}, []string{"outcome"}),
		ParseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "Duration of a chart parse session including body download.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		BytesParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parsed_bytes_total",
			Help:      "Chart XML bytes fed to the parser.",
		}),
		ParsedValues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parsed_values_total",
			Help:      "Daily values read from chart documents, by result.",
		}, []string{"result"}),
		ParsedRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parsed_runs_total",
			Help:      "Runs of consecutive daily values, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.MessagesProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.RequestsSkipped,
		m.RecentCache,
		m.ChartFetches,
		m.ChartFetchDuration,
		m.ParseOutcomes,
		m.ParseDuration,
		m.BytesParsed,
		m.ParsedValues,
		m.ParsedRuns,
	}
}
