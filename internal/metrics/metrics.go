package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hydration"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "transitions_total",
			Help:      "Number of lifecycle transitions by kind.",
		}, []string{"kind", "from", "to"},
	)
	processesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "count",
			Help:      "Number of tracked processes per lifecycle state.",
		}, []string{"state"},
	)
	regressions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "regressions_total",
			Help:      "Synced processes observed with the current slot ahead of the computed slot.",
		}, []string{"process_id"},
	)
	reserveMismatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "reserve_mismatches_total",
			Help:      "Synced processes whose HyperBEAM and AO reserves disagree.",
		}, []string{"process_id"},
	)

	oracleRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "requests_total",
			Help:      "Oracle requests by operation and result.",
		}, []string{"op", "result"},
	)
	oracleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "request_duration_seconds",
			Help:      "Oracle request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"},
	)

	stateSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "saves_total",
			Help:      "State document saves by result.",
		}, []string{"result"},
	)
	stateSaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "save_duration_seconds",
			Help:      "Time spent writing the state document.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	historyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "dropped_total",
			Help:      "History events dropped because the recorder buffer was full.",
		},
	)
	historyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "sink_failures_total",
			Help:      "History events rejected by a sink.",
		}, []string{"type"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		transitions, processesByState, regressions, reserveMismatches,
		oracleRequests, oracleDuration, stateSaves, stateSaveDuration,
		historyDropped, historyFailures,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func RecordTransition(kind, from, to string) {
	if regOK.Load() {
		transitions.WithLabelValues(kind, from, to).Inc()
	}
}

// SetStateCounts publishes the per-state totals of the registry.
func SetStateCounts(queued, active, synced, failed int) {
	if !regOK.Load() {
		return
	}
	processesByState.WithLabelValues("queued").Set(float64(queued))
	processesByState.WithLabelValues("active").Set(float64(active))
	processesByState.WithLabelValues("synced").Set(float64(synced))
	processesByState.WithLabelValues("error").Set(float64(failed))
}

func IncRegression(processID string) {
	if regOK.Load() {
		regressions.WithLabelValues(processID).Inc()
	}
}

func IncReserveMismatch(processID string) {
	if regOK.Load() {
		reserveMismatches.WithLabelValues(processID).Inc()
	}
}

// ObserveOracle records one oracle call. It matches the oracle client's
// observer signature.
func ObserveOracle(op string, seconds float64, err error) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	oracleRequests.WithLabelValues(op, result).Inc()
	oracleDuration.WithLabelValues(op).Observe(seconds)
}

func ObserveStateSave(seconds float64, err error) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	stateSaves.WithLabelValues(result).Inc()
	stateSaveDuration.Observe(seconds)
}

func IncHistoryDropped() {
	if regOK.Load() {
		historyDropped.Inc()
	}
}

func IncHistoryFailure(eventType string) {
	if regOK.Load() {
		historyFailures.WithLabelValues(eventType).Inc()
	}
}
