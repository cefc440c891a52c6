//go:build !vad

package vad

import "fmt"

// SileroModel is unavailable without the 'vad' build tag.
type SileroModel struct{}

// NewSileroModel returns an error because Silero support is not built in.
func NewSileroModel(modelPath string, sampleRate int) (*SileroModel, error) {
	return nil, fmt.Errorf("silero VAD support is not enabled; rebuild with '-tags vad' and install ONNX Runtime")
}

// Infer implements ProbabilityModel.
func (m *SileroModel) Infer(samples []float32) (float32, error) {
	return 0, fmt.Errorf("silero VAD support is not enabled")
}

// Reset implements ProbabilityModel.
func (m *SileroModel) Reset() error { return nil }

// Destroy implements ProbabilityModel.
func (m *SileroModel) Destroy() error { return nil }

// DestroyRuntime is a no-op without the 'vad' build tag.
func DestroyRuntime() error { return nil }

var _ ProbabilityModel = (*SileroModel)(nil)
