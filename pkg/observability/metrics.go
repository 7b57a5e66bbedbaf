package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "janitor"

// Scope labels for file counters.
const (
	ScopeFixed   = "fixed"
	ScopeSession = "session"
)

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "http_duration_seconds",
	Help:      "Duration of HTTP requests served by the status server.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// SweepMetrics holds the counters the sweeper updates. A nil *SweepMetrics is
// valid and records nothing.
type SweepMetrics struct {
	FilesScanned       *prometheus.CounterVec
	FilesRemoved       *prometheus.CounterVec
	ListingErrors      prometheus.Counter
	LimitRenegotiation prometheus.Counter
	TenantFailures     prometheus.Counter
	SweepDuration      prometheus.Histogram
	LastSweep          prometheus.Gauge
}

// NewSweepMetrics registers sweep metrics with reg. A nil reg uses the
// default registry.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &SweepMetrics{
		FilesScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_scanned_total",
			Help:      "Files listed and classified.",
		}, []string{"scope"}),
		FilesRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_removed_total",
			Help:      "Files deleted from remote storage.",
		}, []string{"scope"}),
		ListingErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_errors_total",
			Help:      "Listing calls that failed or were abandoned.",
		}),
		LimitRenegotiation: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_renegotiations_total",
			Help:      "Listing pages retried with a smaller server-advised limit.",
		}),
		TenantFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_failures_total",
			Help:      "Tenants whose sweep stopped on an error.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a full sweep.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		LastSweep: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time the last sweep finished.",
		}),
	}
}

func (m *SweepMetrics) AddScanned(scope string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilesScanned.WithLabelValues(scope).Add(float64(n))
}

func (m *SweepMetrics) AddRemoved(scope string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilesRemoved.WithLabelValues(scope).Add(float64(n))
}

func (m *SweepMetrics) ListingFailed() {
	if m == nil {
		return
	}
	m.ListingErrors.Inc()
}

func (m *SweepMetrics) LimitRenegotiated() {
	if m == nil {
		return
	}
	m.LimitRenegotiation.Inc()
}

func (m *SweepMetrics) TenantFailed() {
	if m == nil {
		return
	}
	m.TenantFailures.Inc()
}

func (m *SweepMetrics) SweepFinished(duration time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(duration.Seconds())
	m.LastSweep.Set(float64(finishedAt.Unix()))
}
