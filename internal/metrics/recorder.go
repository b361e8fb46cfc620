// Package metrics exposes ETL and health counters through a Prometheus
// registry. The CLI is short-lived, so values are exported as a
// node-exporter textfile rather than served over HTTP.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/srg-rm/rm-copilot/internal/domain"
)

// Option applies a configuration option to the Recorder.
type Option func(*Recorder)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		if namespace != "" {
			r.namespace = namespace
		}
	}
}

// WithEnabled turns collection on or off. A disabled recorder ignores every
// observation.
func WithEnabled(enabled bool) Option {
	return func(r *Recorder) {
		r.enabled = enabled
	}
}

// WithClock replaces time.Now for timestamp gauges.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

type Recorder struct {
	namespace string
	enabled   bool
	registry  *prometheus.Registry
	now       func() time.Time

	requests          *prometheus.CounterVec
	rateLimitRetries  prometheus.Counter
	pages             prometheus.Counter
	listingsFetched   prometheus.Counter
	partitionsWritten prometheus.Counter
	entityFailures    prometheus.Counter
	daysProcessed     prometheus.Counter
	lastSuccess       prometheus.Gauge

	healthStatus    prometheus.Gauge
	healthFiles     prometheus.Gauge
	healthRows      prometheus.Gauge
	daysSinceLatest prometheus.Gauge
	totalGaps       prometheus.Gauge
}

// NewRecorder creates a recorder on its own registry so Go runtime
// collectors stay out of the textfile.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		namespace: "rmcopilot",
		enabled:   true,
		registry:  prometheus.NewRegistry(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.initializeMetrics()
	return r
}

func (r *Recorder) initializeMetrics() {
	auto := promauto.With(r.registry)

	r.requests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "wheelhouse",
		Name:      "requests_total",
		Help:      "Wheelhouse API responses by endpoint and status code",
	}, []string{"endpoint", "status"})
	r.rateLimitRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "wheelhouse",
		Name:      "rate_limit_retries_total",
		Help:      "Retries issued after an HTTP 429",
	})
	r.pages = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "wheelhouse",
		Name:      "pages_total",
		Help:      "Listing pages fetched",
	})
	r.listingsFetched = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "wheelhouse",
		Name:      "listings_fetched_total",
		Help:      "Listing records fetched",
	})

	r.partitionsWritten = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "etl",
		Name:      "partitions_written_total",
		Help:      "Partition files written",
	})
	r.entityFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "etl",
		Name:      "entity_failures_total",
		Help:      "Listings skipped because transform or write failed",
	})
	r.daysProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: r.namespace,
		Subsystem: "etl",
		Name:      "days_processed_total",
		Help:      "Days processed without a fetch failure",
	})
	r.lastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "etl",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last completed non-dry-run day",
	})

	r.healthStatus = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "health",
		Name:      "status",
		Help:      "0 healthy, 1 warning, 2 critical",
	})
	r.healthFiles = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "health",
		Name:      "files",
		Help:      "Partition files found by the last scan",
	})
	r.healthRows = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "health",
		Name:      "rows",
		Help:      "Rows across readable partition files",
	})
	r.daysSinceLatest = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "health",
		Name:      "days_since_latest",
		Help:      "Days between today and the newest partition, -1 without data",
	})
	r.totalGaps = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "health",
		Name:      "data_gaps",
		Help:      "Missing days between the earliest and latest partition",
	})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) ObserveRequest(endpoint string, status int) {
	if !r.enabled {
		return
	}
	r.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (r *Recorder) ObserveRateLimitRetry() {
	if !r.enabled {
		return
	}
	r.rateLimitRetries.Inc()
}

func (r *Recorder) ObservePage(records int) {
	if !r.enabled {
		return
	}
	r.pages.Inc()
	r.listingsFetched.Add(float64(records))
}

func (r *Recorder) ObserveEntityFailure() {
	if !r.enabled {
		return
	}
	r.entityFailures.Inc()
}

func (r *Recorder) ObserveDay(result *domain.DayResult) {
	if !r.enabled || result == nil {
		return
	}
	r.daysProcessed.Inc()
	if result.DryRun {
		return
	}
	r.partitionsWritten.Add(float64(result.FilesWritten))
	r.lastSuccess.Set(float64(r.now().Unix()))
}

func (r *Recorder) ObserveHealth(report *domain.HealthReport) {
	if !r.enabled || report == nil {
		return
	}
	r.healthStatus.Set(statusValue(report.HealthStatus))
	r.healthFiles.Set(float64(report.Summary.TotalFiles))
	r.healthRows.Set(float64(report.Summary.TotalRows))
	r.totalGaps.Set(float64(report.DataFreshness.TotalGaps))
	if report.DataFreshness.DaysSinceLatest != nil {
		r.daysSinceLatest.Set(float64(*report.DataFreshness.DaysSinceLatest))
	} else {
		r.daysSinceLatest.Set(-1)
	}
}

func statusValue(s domain.HealthStatus) float64 {
	switch s {
	case domain.HealthHealthy:
		return 0
	case domain.HealthWarning:
		return 1
	}
	return 2
}

// WriteTextfile writes every metric to path in the Prometheus text format.
// An empty path or a disabled recorder writes nothing.
func (r *Recorder) WriteTextfile(path string) error {
	if !r.enabled || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
