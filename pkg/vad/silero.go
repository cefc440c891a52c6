//go:build vad

package vad

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	stateLen   = 2 * 1 * 128
	contextLen = 64
)

var (
	runtimeInitialized bool
	runtimeMu          sync.Mutex
)

// InitRuntime loads the ONNX runtime shared library. An empty libraryPath
// searches ONNXRUNTIME_LIB, the usual system prefixes and the loader paths.
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeInitialized {
		return nil
	}

	if libraryPath == "" {
		libraryPath = findONNXRuntimeLibrary()
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	runtimeInitialized = true
	return nil
}

// DestroyRuntime tears the ONNX environment down at shutdown.
func DestroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeInitialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX runtime: %w", err)
	}
	runtimeInitialized = false
	return nil
}

func findONNXRuntimeLibrary() string {
	candidates := []string{
		os.Getenv("ONNXRUNTIME_LIB"),
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/onnxruntime/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, dir := range filepath.SplitList(os.Getenv("LD_LIBRARY_PATH")) {
		candidates = append(candidates, filepath.Join(dir, "libonnxruntime.so"))
	}
	for _, dir := range filepath.SplitList(os.Getenv("DYLD_LIBRARY_PATH")) {
		candidates = append(candidates, filepath.Join(dir, "libonnxruntime.dylib"))
	}

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// SileroModel runs the Silero VAD ONNX model, keeping its LSTM state and a
// 64-sample context across calls.
type SileroModel struct {
	session    *ort.DynamicAdvancedSession
	sampleRate int

	state     [stateLen]float32
	ctx       [contextLen]float32
	processed int
}

// NewSileroModel loads the model at modelPath for 8 or 16 kHz input.
func NewSileroModel(modelPath string, sampleRate int) (*SileroModel, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero model path is required")
	}
	if sampleRate != 8000 && sampleRate != 16000 {
		return nil, fmt.Errorf("silero supports 8000 or 16000 Hz, got %d", sampleRate)
	}
	if err := InitRuntime(""); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SileroModel{session: session, sampleRate: sampleRate}, nil
}

// Infer implements ProbabilityModel.
func (m *SileroModel) Infer(samples []float32) (float32, error) {
	if m == nil || m.session == nil {
		return 0, fmt.Errorf("silero model is not loaded")
	}

	pcm := samples
	if m.processed > 0 {
		pcm = append(m.ctx[:], samples...)
	}
	if len(samples) >= contextLen {
		copy(m.ctx[:], samples[len(samples)-contextLen:])
	}
	m.processed += len(samples)

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(pcm))), pcm)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	state, err := ort.NewTensor(ort.NewShape(2, 1, 128), m.state[:])
	if err != nil {
		return 0, fmt.Errorf("failed to create state tensor: %w", err)
	}
	defer state.Destroy()

	sr, err := ort.NewTensor(ort.NewShape(1), []int64{int64(m.sampleRate)})
	if err != nil {
		return 0, fmt.Errorf("failed to create sr tensor: %w", err)
	}
	defer sr.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer output.Destroy()

	stateN, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		return 0, fmt.Errorf("failed to create stateN tensor: %w", err)
	}
	defer stateN.Destroy()

	if err := m.session.Run([]ort.Value{input, state, sr}, []ort.Value{output, stateN}); err != nil {
		return 0, fmt.Errorf("failed to run inference: %w", err)
	}

	copy(m.state[:], stateN.GetData())
	out := output.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("empty output from inference")
	}
	return out[0], nil
}

// Reset implements ProbabilityModel.
func (m *SileroModel) Reset() error {
	if m == nil {
		return fmt.Errorf("invalid nil model")
	}
	m.state = [stateLen]float32{}
	m.ctx = [contextLen]float32{}
	m.processed = 0
	return nil
}

// Destroy implements ProbabilityModel.
func (m *SileroModel) Destroy() error {
	if m == nil {
		return fmt.Errorf("invalid nil model")
	}
	if m.session != nil {
		if err := m.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
		m.session = nil
	}
	return nil
}

var _ ProbabilityModel = (*SileroModel)(nil)
