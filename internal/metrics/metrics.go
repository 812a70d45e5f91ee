package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
	// OutcomeTimeout labels bounded waits that expired.
	OutcomeTimeout = "timeout"
)

// Capture sample outcomes.
const (
	SampleClassified      = "classified"
	SampleFrameFailed     = "frame_failed"
	SampleInferenceFailed = "inference_failed"
	SampleSkipped         = "skipped"
	SampleSinkFailed      = "sink_failed"
)

var (
	captureSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_affect",
			Name:      "capture_samples_total",
			Help:      "Camera samples taken by the capture loop, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	captureRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_affect",
			Name:      "capture_runs_total",
			Help:      "Capture loop runs, partitioned by how the camera open went.",
		},
		[]string{"outcome"},
	)

	captureStopTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_affect",
			Name:      "capture_stop_total",
			Help:      "Capture stop requests, partitioned by whether the loop exited within the grace period.",
		},
		[]string{"outcome"},
	)

	inferenceDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_affect",
			Name:      "inference_seconds",
			Help:      "Classifier inference latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	logAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_affect",
			Name:      "log_appends_total",
			Help:      "Durable event log appends, partitioned by log kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	correlationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_affect",
			Name:      "correlations_total",
			Help:      "Session correlations handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	correlationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_affect",
			Name:      "correlation_seconds",
			Help:      "Correlation latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

// Register attaches mirador-affect collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		captureSamplesTotal,
		captureRunsTotal,
		captureStopTotal,
		inferenceDurationSeconds,
		logAppendsTotal,
		correlationsTotal,
		correlationDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSample counts one capture loop tick.
func ObserveSample(outcome string) {
	captureSamplesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCaptureRun counts a capture run start, labelled by camera open outcome.
func ObserveCaptureRun(outcome string) {
	captureRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStop counts a stop request.
func ObserveStop(outcome string) {
	captureStopTotal.WithLabelValues(outcome).Inc()
}

// ObserveInference records one classifier call.
func ObserveInference(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	inferenceDurationSeconds.Observe(duration.Seconds())
}

// ObserveLogAppend counts a durable append on the named log.
func ObserveLogAppend(kind, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	logAppendsTotal.WithLabelValues(kind, label).Inc()
}

// ObserveCorrelation records a correlation duration and outcome label.
func ObserveCorrelation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	correlationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	correlationDurationSeconds.Observe(duration.Seconds())
}
