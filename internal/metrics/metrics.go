package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	recordingsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pwstudio",
			Subsystem: "recorder",
			Name:      "sessions_started_total",
			Help:      "Number of recorder subprocesses launched.",
		},
	)
	recordingsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pwstudio",
			Subsystem: "recorder",
			Name:      "sessions_finished_total",
			Help:      "Number of recorder subprocess exits by exit class.",
		}, []string{"exit"},
	)
	recordingsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pwstudio",
			Subsystem: "recorder",
			Name:      "sessions_rejected_total",
			Help:      "Start requests refused because a recording was already active.",
		},
	)
	recordingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pwstudio",
			Subsystem: "recorder",
			Name:      "active",
			Help:      "1 while a recorder subprocess is running.",
		},
	)
	artifactBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pwstudio",
			Subsystem: "recorder",
			Name:      "artifact_bytes",
			Help:      "Size of captured recording artifacts.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pwstudio",
			Subsystem: "runner",
			Name:      "runs_total",
			Help:      "Number of test runs by outcome.",
		}, []string{"outcome"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pwstudio",
			Subsystem: "runner",
			Name:      "run_duration_seconds",
			Help:      "Wall time of test-tool subprocesses.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"},
	)
	fileReuse = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pwstudio",
			Subsystem: "runner",
			Name:      "scratch_files_total",
			Help:      "Scratch file resolutions, split by whether the previous file was reused.",
		}, []string{"reused"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{recordingsStarted, recordingsFinished, recordingsRejected, recordingActive, artifactBytes, runs, runDuration, fileReuse}
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

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRecordingStarted() {
	if regOK.Load() {
		recordingsStarted.Inc()
		recordingActive.Set(1)
	}
}

func IncRecordingRejected() {
	if regOK.Load() {
		recordingsRejected.Inc()
	}
}

// RecordingFinished records a recorder exit and the captured artifact size.
func RecordingFinished(exitCode int, bytes int) {
	if !regOK.Load() {
		return
	}
	class := "ok"
	if exitCode != 0 {
		class = "error"
	}
	recordingsFinished.WithLabelValues(class).Inc()
	recordingActive.Set(0)
	artifactBytes.Observe(float64(bytes))
}

func ObserveRun(outcome string, seconds float64) {
	if regOK.Load() {
		runs.WithLabelValues(outcome).Inc()
		runDuration.WithLabelValues(outcome).Observe(seconds)
	}
}

func IncScratchFile(reused bool) {
	if !regOK.Load() {
		return
	}
	label := "false"
	if reused {
		label = "true"
	}
	fileReuse.WithLabelValues(label).Inc()
}
