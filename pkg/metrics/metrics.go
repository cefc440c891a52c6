// Package metrics exposes Prometheus collectors for capture and turns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "voiceloop"

var (
	// segmentsTotal counts segments closed by the detector.
	segmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Total number of speech segments detected",
		},
	)

	// segmentsDroppedTotal counts segments discarded because a turn was in flight.
	segmentsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_dropped_total",
			Help:      "Total number of segments dropped while a turn was in flight",
		},
	)

	// turnDuration is a histogram of segment-to-listening turn time.
	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Histogram of turn duration in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"}, // status: success, error
	)

	// stageDuration is a histogram of per-stage latency.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Histogram of turn stage duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	// stageErrorsTotal counts failed stages.
	stageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Total number of failed turn stages",
		},
		[]string{"stage"},
	)

	// playbackActive is 1 while speech is playing.
	playbackActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_active",
			Help:      "Whether synthesized speech is currently playing",
		},
	)

	// captureErrorsTotal counts device open and read failures.
	captureErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Total number of capture device errors",
		},
	)

	allMetrics = []prometheus.Collector{
		segmentsTotal,
		segmentsDroppedTotal,
		turnDuration,
		stageDuration,
		stageErrorsTotal,
		playbackActive,
		captureErrorsTotal,
	}
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range allMetrics {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the engine collectors and the Go
// runtime and process collectors.
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, nil
}

// Recorder records engine events into the collectors.
type Recorder struct{}

// SegmentDetected records a closed segment.
func (Recorder) SegmentDetected() { segmentsTotal.Inc() }

// SegmentDropped records a segment discarded while busy.
func (Recorder) SegmentDropped() { segmentsDroppedTotal.Inc() }

// StageDone records the latency and outcome of one stage.
func (Recorder) StageDone(stage string, d time.Duration, err error) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		stageErrorsTotal.WithLabelValues(stage).Inc()
	}
}

// TurnDone records a finished turn.
func (Recorder) TurnDone(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	turnDuration.WithLabelValues(status).Observe(d.Seconds())
}

// PlaybackActive sets the playback gauge.
func (Recorder) PlaybackActive(active bool) {
	if active {
		playbackActive.Set(1)
	} else {
		playbackActive.Set(0)
	}
}

// CaptureError records a device failure.
func (Recorder) CaptureError() { captureErrorsTotal.Inc() }
