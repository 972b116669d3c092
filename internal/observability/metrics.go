package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the field
// survey pipeline.
type Metrics struct {
	RowsIngested  prometheus.Counter
	StageDuration *prometheus.HistogramVec // labels: stage={ingest,rename,correct}
	StageErrors   *prometheus.CounterVec   // labels: stage={ingest,rename,correct}
	LastSuccess   prometheus.Gauge
	RowsPublished prometheus.Counter

	// Weather mapping metrics.
	WeatherFetches       *prometheus.CounterVec // labels: outcome={success,error}
	WeatherFetchDuration prometheus.Histogram
	WeatherCache         *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "field_etl",
			Name:      "rows_ingested_total",
			Help:      "Total rows loaded from the survey database.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "field_etl",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "field_etl",
			Name:      "stage_errors_total",
			Help:      "Pipeline stage failures by stage.",
		}, []string{"stage"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "field_etl",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last fully processed batch.",
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "field_etl",
			Name:      "rows_published_total",
			Help:      "Total merged rows written to the sink topic.",
		}),
		WeatherFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "field_etl",
			Name:      "weather_mapping_fetches_total",
			Help:      "Weather station mapping fetches by outcome.",
		}, []string{"outcome"}),
		WeatherFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "field_etl",
			Name:      "weather_mapping_fetch_duration_seconds",
			Help:      "Weather station mapping fetch duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		WeatherCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "field_etl",
			Name:      "weather_mapping_cache_total",
			Help:      "Weather mapping cache lookups by result.",
		}, []string{"result"}),
	}

	prometheus.MustRegister(
		m.RowsIngested,
		m.StageDuration,
		m.StageErrors,
		m.LastSuccess,
		m.RowsPublished,
		m.WeatherFetches,
		m.WeatherFetchDuration,
		m.WeatherCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RowsIngested:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "field_etl", Name: "rows_ingested_total"}),
		StageDuration:        prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "field_etl", Name: "stage_duration_seconds"}, []string{"stage"}),
		StageErrors:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "field_etl", Name: "stage_errors_total"}, []string{"stage"}),
		LastSuccess:          prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "field_etl", Name: "last_success_timestamp_seconds"}),
		RowsPublished:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "field_etl", Name: "rows_published_total"}),
		WeatherFetches:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "field_etl", Name: "weather_mapping_fetches_total"}, []string{"outcome"}),
		WeatherFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "field_etl", Name: "weather_mapping_fetch_duration_seconds"}),
		WeatherCache:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "field_etl", Name: "weather_mapping_cache_total"}, []string{"result"}),
	}
}
