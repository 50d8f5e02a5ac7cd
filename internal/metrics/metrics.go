package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "status",
			Name:      "transitions_total",
			Help:      "Number of committed server status transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcpanel",
			Subsystem: "status",
			Name:      "current_state",
			Help:      "Current server status (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	listenerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "status",
			Name:      "listener_failures_total",
			Help:      "Status listeners that returned an error or panicked.",
		},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcpanel",
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Time spent in a single probe call.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"probe"},
	)
	probeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "probe",
			Name:      "results_total",
			Help:      "Probe outcomes (positive or negative).",
		}, []string{"probe", "outcome"},
	)
	panelActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "panel",
			Name:      "actions_total",
			Help:      "Panel actions by action and result.",
		}, []string{"action", "result"},
	)
	connectedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcpanel",
			Subsystem: "server",
			Name:      "connected_clients",
			Help:      "Currently connected status/terminal clients.",
		}, []string{"transport"},
	)
	historyWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpanel",
			Subsystem: "history",
			Name:      "writes_total",
			Help:      "Status history writes by sink and result.",
		}, []string{"sink", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{stateTransitions, currentState, listenerFailures, probeDuration, probeResults, panelActions, connectedClients, historyWrites}
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

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetCurrentState marks state as the active one among all.
func SetCurrentState(state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		var v float64
		if s == state {
			v = 1
		}
		currentState.WithLabelValues(s).Set(v)
	}
}

func IncListenerFailure() {
	if regOK.Load() {
		listenerFailures.Inc()
	}
}

func ObserveProbe(probe string, seconds float64, positive bool) {
	if !regOK.Load() {
		return
	}
	probeDuration.WithLabelValues(probe).Observe(seconds)
	outcome := "negative"
	if positive {
		outcome = "positive"
	}
	probeResults.WithLabelValues(probe, outcome).Inc()
}

func IncPanelAction(action, result string) {
	if regOK.Load() {
		panelActions.WithLabelValues(action, result).Inc()
	}
}

func AddConnectedClients(transport string, delta int) {
	if regOK.Load() {
		connectedClients.WithLabelValues(transport).Add(float64(delta))
	}
}

func IncHistoryWrite(sink string, ok bool) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	historyWrites.WithLabelValues(sink, result).Inc()
}
