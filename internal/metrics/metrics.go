// Package metrics provides Prometheus metrics for the aircheck recording
// engine. Label cardinality is kept bounded: source and show names come from
// configuration, never from per-session identifiers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters

	// SessionStartTotal counts capture session starts, by result.
	SessionStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircheck_session_start_total",
		Help: "Total number of capture session starts, by result (ok/error).",
	}, []string{"result"})

	// SessionExitTotal counts capture session exits, by outcome.
	SessionExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircheck_session_exit_total",
		Help: "Total number of capture session exits, by outcome (done/error/early_exit).",
	}, []string{"outcome"})

	// SaveTotal counts storage save attempts, by driver and result.
	SaveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircheck_save_total",
		Help: "Total number of storage save completions, by driver and result.",
	}, []string{"driver", "result"})

	// HookInvocationTotal counts hook invocations, by hook name and result.
	HookInvocationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircheck_hook_invocation_total",
		Help: "Total number of hook invocations, by hook name and result.",
	}, []string{"hook", "result"})

	// ConfigReloadTotal counts configuration reloads, by result.
	ConfigReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircheck_config_reload_total",
		Help: "Total number of configuration reload attempts, by result.",
	}, []string{"result"})

	// Gauges

	// ActiveSessions tracks the number of capture sessions in progress.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aircheck_active_sessions",
		Help: "Current number of capture sessions in progress.",
	})

	// TrackedShows tracks the number of shows in the show manager table.
	TrackedShows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aircheck_tracked_shows",
		Help: "Current number of shows tracked by the show manager.",
	})

	// WatchedProcesses tracks the size of the process monitor watch set.
	WatchedProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aircheck_watched_processes",
		Help: "Current number of subprocesses watched by the process monitor.",
	})
)

// RecordSessionStart records a session start attempt.
func RecordSessionStart(ok bool) {
	if ok {
		SessionStartTotal.WithLabelValues("ok").Inc()
	} else {
		SessionStartTotal.WithLabelValues("error").Inc()
	}
}

// RecordSessionExit records a terminated session by outcome.
func RecordSessionExit(outcome string) {
	SessionExitTotal.WithLabelValues(outcome).Inc()
}

// RecordSave records a storage save completion.
func RecordSave(driver string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	SaveTotal.WithLabelValues(driver, result).Inc()
}

// RecordHookInvocation records a hook invocation result.
func RecordHookInvocation(hook string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	HookInvocationTotal.WithLabelValues(hook, result).Inc()
}

// RecordConfigReload records a configuration reload attempt.
func RecordConfigReload(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	ConfigReloadTotal.WithLabelValues(result).Inc()
}
