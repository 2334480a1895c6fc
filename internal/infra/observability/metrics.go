package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the BFF.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	fetchDuration   *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	staleDropped    *prometheus.CounterVec
	selectionClears *prometheus.CounterVec
	fetchesIssued   *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsActive  prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bff_fetch_duration_seconds",
				Help:    "Duration of dependent-data fetches by slot.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"slot"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_external_errors_total",
				Help: "Total errors from the CRM backend.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		staleDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_stale_results_dropped_total",
				Help: "Fetch results discarded because a newer fetch superseded them.",
			},
			[]string{"slot"},
		),
		selectionClears: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_selection_clears_total",
				Help: "Downstream selections cleared, by field and reason.",
			},
			[]string{"field", "reason"},
		),
		fetchesIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bff_fetches_issued_total",
				Help: "Dependent-data fetches issued, by slot.",
			},
			[]string{"slot"},
		),
		sessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bff_sessions_created_total",
				Help: "Total selection sessions created.",
			},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bff_sessions_active",
				Help: "Selection sessions currently alive.",
			},
		),
	}
}

// RecordFetchDuration records the duration of a dependent-data fetch.
func (m *Metrics) RecordFetchDuration(slot string, d time.Duration) {
	m.fetchDuration.WithLabelValues(slot).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrStaleDropped counts a fetch result discarded by last-request-wins.
func (m *Metrics) IncrStaleDropped(slot string) {
	m.staleDropped.WithLabelValues(slot).Inc()
}

// IncrSelectionClear counts a downstream selection clear.
// reason is "upstream_change" or "reconciliation".
func (m *Metrics) IncrSelectionClear(field, reason string) {
	m.selectionClears.WithLabelValues(field, reason).Inc()
}

// IncrFetchIssued counts a dependent-data fetch being started.
func (m *Metrics) IncrFetchIssued(slot string) {
	m.fetchesIssued.WithLabelValues(slot).Inc()
}

// IncrSessionCreated counts a new session.
func (m *Metrics) IncrSessionCreated() {
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

// DecrSessionsActive marks a session as gone.
func (m *Metrics) DecrSessionsActive() {
	m.sessionsActive.Dec()
}

// GetSelectionSnapshot returns a snapshot of selection-engine metrics
// suitable for the GET /v1/metrics/selection endpoint.
func (m *Metrics) GetSelectionSnapshot() *domain.SelectionMetrics {
	fetches := getCounterValue(m.fetchesIssued, "options") +
		getCounterValue(m.fetchesIssued, "invoices")
	errors := getCounterValue(m.externalErrors, "crm/options") +
		getCounterValue(m.externalErrors, "crm/invoices") +
		getCounterValue(m.externalErrors, "crm/client")
	stale := getCounterValue(m.staleDropped, "options") +
		getCounterValue(m.staleDropped, "invoices")
	clears := sumCounterVec(m.selectionClears, "reconciliation")
	cacheHits := getCounterValue(m.cacheHits, "client")
	cacheMisses := getCounterValue(m.cacheMisses, "client")

	errorRate := float64(0)
	if fetches > 0 {
		errorRate = errors / fetches
	}
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	var created float64
	v := &dto.Metric{}
	if m.sessionsCreated.Write(v) == nil && v.Counter != nil && v.Counter.Value != nil {
		created = *v.Counter.Value
	}

	return &domain.SelectionMetrics{
		SessionsCreated:      int64(created),
		FetchesIssued:        int64(fetches),
		FetchErrors:          int64(errors),
		StaleResultsDropped:  int64(stale),
		ReconciliationClears: int64(clears),
		CacheHitRate:         cacheHitRate,
		ErrorRate:            errorRate,
		Period:               "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec sums every field's counter for a given reason label.
func sumCounterVec(cv *prometheus.CounterVec, reason string) float64 {
	total := float64(0)
	for _, field := range []string{"project", "appointment", "invoice"} {
		counter := cv.WithLabelValues(field, reason)
		m := &dto.Metric{}
		if err := counter.(prometheus.Metric).Write(m); err != nil {
			continue
		}
		if m.Counter != nil && m.Counter.Value != nil {
			total += *m.Counter.Value
		}
	}
	return total
}
