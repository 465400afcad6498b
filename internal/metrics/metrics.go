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

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlauncher",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service spawns.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlauncher",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of completed stops (graceful or forced).",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlauncher",
			Subsystem: "service",
			Name:      "spawn_failures_total",
			Help:      "Number of failed spawn attempts.",
		}, []string{"name"},
	)
	forceKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlauncher",
			Subsystem: "service",
			Name:      "force_kills_total",
			Help:      "Number of stops that escalated to a forced kill after the grace period.",
		}, []string{"name"},
	)
	unexpectedExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlauncher",
			Subsystem: "service",
			Name:      "unexpected_exits_total",
			Help:      "Number of times a running service exited without being stopped.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlauncher",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle transitions between service states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "devlauncher",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current lifecycle state of services (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlauncher",
			Subsystem: "log",
			Name:      "lines_total",
			Help:      "Number of lines pushed to the log stream.",
		}, []string{"tag", "severity"},
	)
	logDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devlauncher",
			Subsystem: "log",
			Name:      "dropped_total",
			Help:      "Number of lines discarded because the log stream buffer was full.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, spawnFailures, forceKills, unexpectedExits, stateTransitions, currentStates, logLines, logDropped}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncForceKill(name string) {
	if regOK.Load() {
		forceKills.WithLabelValues(name).Inc()
	}
}

func IncUnexpectedExit(name string) {
	if regOK.Load() {
		unexpectedExits.WithLabelValues(name).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(name, from, to).Inc()
	currentStates.WithLabelValues(name, from).Set(0)
	currentStates.WithLabelValues(name, to).Set(1)
}

func IncLogLine(tag, severity string) {
	if regOK.Load() {
		logLines.WithLabelValues(tag, severity).Inc()
	}
}

func IncLogDropped() {
	if regOK.Load() {
		logDropped.Inc()
	}
}
