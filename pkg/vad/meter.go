// Package vad turns a stream of PCM chunks into utterance segments.
//
// A Meter reduces each chunk to one magnitude; the SegmentDetector applies a
// silence/duration hysteresis to those magnitudes and emits segment start,
// data and end events to a Listener.
//
// Usage:
//
//	det, err := vad.NewSegmentDetector(vad.DefaultConfig(), vad.RMSMeter{}, gate)
//	det.SetListener(vad.ListenerFuncs{OnEnd: func(seg *audio.Segment) { ... }})
//	det.Feed(chunk, time.Now())
package vad

import (
	"log"

	"github.com/realtime-ai/voiceloop/pkg/audio"
)

// Meter summarizes a chunk of 16-bit little-endian PCM as one non-negative
// magnitude. Implementations are called from the capture goroutine only.
type Meter interface {
	Magnitude(chunk []byte) float64
}

// MeterFunc adapts a function to Meter.
type MeterFunc func(chunk []byte) float64

// Magnitude implements Meter.
func (f MeterFunc) Magnitude(chunk []byte) float64 { return f(chunk) }

// RMSMeter measures chunk energy as root-mean-square sample amplitude.
type RMSMeter struct{}

// Magnitude implements Meter.
func (RMSMeter) Magnitude(chunk []byte) float64 { return audio.Magnitude(chunk) }

// ProbabilityModel runs a speech classifier over normalized float32 samples
// in [-1, 1] and returns the speech probability in [0, 1].
type ProbabilityModel interface {
	Infer(samples []float32) (float32, error)
	Reset() error
	Destroy() error
}

// sileroWindow is the number of 16kHz samples the Silero model consumes per call.
const sileroWindow = 512

// ProbabilityMeter feeds fixed windows of samples into a ProbabilityModel and
// reports the model's most recent speech probability as the magnitude.
// Samples that do not fill a window are carried over to the next chunk.
type ProbabilityMeter struct {
	model   ProbabilityModel
	window  int
	pending []float32
	last    float64
}

// NewProbabilityMeter wraps model. window <= 0 selects the Silero window size.
func NewProbabilityMeter(model ProbabilityModel, window int) *ProbabilityMeter {
	if window <= 0 {
		window = sileroWindow
	}
	return &ProbabilityMeter{
		model:   model,
		window:  window,
		pending: make([]float32, 0, window*2),
	}
}

// Magnitude implements Meter. Chunks shorter than one window report the
// previous probability.
func (m *ProbabilityMeter) Magnitude(chunk []byte) float64 {
	for _, s := range audio.Samples(chunk) {
		m.pending = append(m.pending, float32(s)/32768)
	}

	peak := -1.0
	for len(m.pending) >= m.window {
		prob, err := m.model.Infer(m.pending[:m.window])
		m.pending = m.pending[m.window:]
		if err != nil {
			log.Printf("[ProbabilityMeter] inference error: %v", err)
			continue
		}
		if float64(prob) > peak {
			peak = float64(prob)
		}
	}
	// keep the backing array from growing without bound
	m.pending = append(m.pending[:0:0], m.pending...)

	if peak >= 0 {
		m.last = peak
	}
	return m.last
}

// Reset clears carried samples and the model's recurrent state.
func (m *ProbabilityMeter) Reset() error {
	m.pending = m.pending[:0]
	m.last = 0
	return m.model.Reset()
}

// Close releases the underlying model.
func (m *ProbabilityMeter) Close() error {
	return m.model.Destroy()
}
