// Package metrics provides Prometheus metrics collection for the
// synthetic sensor engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors the engine exposes.
type Metrics struct {
	// Compilation cache (component B)
	CompileCacheHitsTotal   *prometheus.CounterVec
	CompileCacheMissesTotal *prometheus.CounterVec
	CompileCacheEntries     *prometheus.GaugeVec

	// Collection resolver (component E)
	CollectionQueriesTotal    *prometheus.CounterVec
	CollectionResolveDuration *prometheus.HistogramVec
	CollectionEntitiesMatched *prometheus.HistogramVec

	// Formula evaluation (component H)
	FormulaEvalTotal    *prometheus.CounterVec
	FormulaEvalDuration *prometheus.HistogramVec
	FormulaEvalErrors   *prometheus.CounterVec

	// Update coordinator (component K)
	UpdateCycleTotal         *prometheus.CounterVec
	UpdateCycleDuration      *prometheus.HistogramVec
	UpdateCycleAffectedCount *prometheus.HistogramVec
	SensorsRegistered        prometheus.Gauge
	CyclesMerged             prometheus.Counter

	ServiceInfo *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default
// Prometheus registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// Passing a nil registerer builds the collectors without registering them,
// which is useful for tests that construct multiple independent instances.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		CompileCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synsensors_compile_cache_hits_total", Help: "Total compile cache hits"},
			[]string{"service"},
		),
		CompileCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synsensors_compile_cache_misses_total", Help: "Total compile cache misses"},
			[]string{"service"},
		),
		CompileCacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "synsensors_compile_cache_entries", Help: "Current number of compiled formulas held in the cache"},
			[]string{"service"},
		),
		CollectionQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synsensors_collection_queries_total", Help: "Total collection pattern queries resolved"},
			[]string{"service", "query_type"},
		),
		CollectionResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "synsensors_collection_resolve_duration_seconds", Help: "Collection pattern resolution duration", Buckets: prometheus.DefBuckets},
			[]string{"service", "query_type"},
		),
		CollectionEntitiesMatched: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "synsensors_collection_entities_matched", Help: "Number of entities matched by a collection pattern", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250}},
			[]string{"service", "query_type"},
		),
		FormulaEvalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synsensors_formula_eval_total", Help: "Total formula evaluations"},
			[]string{"service", "role"},
		),
		FormulaEvalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "synsensors_formula_eval_duration_seconds", Help: "Formula evaluation duration", Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5}},
			[]string{"service", "role"},
		),
		FormulaEvalErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synsensors_formula_eval_errors_total", Help: "Total formula evaluation errors by kind"},
			[]string{"service", "kind"},
		),
		UpdateCycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "synsensors_update_cycle_total", Help: "Total update cycles run"},
			[]string{"service", "trigger"},
		),
		UpdateCycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "synsensors_update_cycle_duration_seconds", Help: "Update cycle duration", Buckets: prometheus.DefBuckets},
			[]string{"service", "trigger"},
		),
		UpdateCycleAffectedCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "synsensors_update_cycle_affected_sensors", Help: "Number of sensors re-evaluated in an update cycle", Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500}},
			[]string{"service", "trigger"},
		),
		SensorsRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "synsensors_sensors_registered", Help: "Current number of sensors registered with the manager"},
		),
		CyclesMerged: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "synsensors_update_cycles_merged_total", Help: "Total update cycles that were merged into an in-flight cycle instead of running separately"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "synsensors_service_info", Help: "Static service information"},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.CompileCacheHitsTotal,
			m.CompileCacheMissesTotal,
			m.CompileCacheEntries,
			m.CollectionQueriesTotal,
			m.CollectionResolveDuration,
			m.CollectionEntitiesMatched,
			m.FormulaEvalTotal,
			m.FormulaEvalDuration,
			m.FormulaEvalErrors,
			m.UpdateCycleTotal,
			m.UpdateCycleDuration,
			m.UpdateCycleAffectedCount,
			m.SensorsRegistered,
			m.CyclesMerged,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0").Set(1)

	return m
}

// RecordCompileCache records a compilation cache lookup outcome.
func (m *Metrics) RecordCompileCache(service string, hit bool, entries int) {
	if hit {
		m.CompileCacheHitsTotal.WithLabelValues(service).Inc()
	} else {
		m.CompileCacheMissesTotal.WithLabelValues(service).Inc()
	}
	m.CompileCacheEntries.WithLabelValues(service).Set(float64(entries))
}

// RecordCollectionQuery records one resolved collection pattern query.
func (m *Metrics) RecordCollectionQuery(service, queryType string, matched int, duration time.Duration) {
	m.CollectionQueriesTotal.WithLabelValues(service, queryType).Inc()
	m.CollectionResolveDuration.WithLabelValues(service, queryType).Observe(duration.Seconds())
	m.CollectionEntitiesMatched.WithLabelValues(service, queryType).Observe(float64(matched))
}

// RecordFormulaEval records one formula evaluation outcome.
func (m *Metrics) RecordFormulaEval(service, role string, duration time.Duration, errKind string) {
	m.FormulaEvalTotal.WithLabelValues(service, role).Inc()
	m.FormulaEvalDuration.WithLabelValues(service, role).Observe(duration.Seconds())
	if errKind != "" {
		m.FormulaEvalErrors.WithLabelValues(service, errKind).Inc()
	}
}

// RecordUpdateCycle records one completed update cycle.
func (m *Metrics) RecordUpdateCycle(service, trigger string, affected int, duration time.Duration) {
	m.UpdateCycleTotal.WithLabelValues(service, trigger).Inc()
	m.UpdateCycleDuration.WithLabelValues(service, trigger).Observe(duration.Seconds())
	m.UpdateCycleAffectedCount.WithLabelValues(service, trigger).Observe(float64(affected))
}

// RecordCycleMerged records a backing-entity change that was folded
// into an in-flight update cycle instead of starting a new one.
func (m *Metrics) RecordCycleMerged() {
	m.CyclesMerged.Inc()
}

// SetSensorsRegistered sets the current sensor registration count.
func (m *Metrics) SetSensorsRegistered(n int) {
	m.SensorsRegistered.Set(float64(n))
}
