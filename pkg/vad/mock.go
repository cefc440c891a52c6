package vad

import "sync"

// MockModel is a ProbabilityModel for tests. InferFunc decides the returned
// probability; nil returns 0.
type MockModel struct {
	InferFunc func(samples []float32) (float32, error)

	InferCalls    [][]float32
	ResetCalled   bool
	DestroyCalled bool

	mu sync.Mutex
}

// NewMockModelWithSequence returns probabilities from probs in order,
// cycling when exhausted.
func NewMockModelWithSequence(probs ...float32) *MockModel {
	idx := 0
	return &MockModel{
		InferFunc: func(samples []float32) (float32, error) {
			if len(probs) == 0 {
				return 0, nil
			}
			p := probs[idx]
			idx = (idx + 1) % len(probs)
			return p, nil
		},
	}
}

// Infer implements ProbabilityModel.
func (m *MockModel) Infer(samples []float32) (float32, error) {
	m.mu.Lock()
	m.InferCalls = append(m.InferCalls, append([]float32(nil), samples...))
	m.mu.Unlock()

	if m.InferFunc != nil {
		return m.InferFunc(samples)
	}
	return 0, nil
}

// Reset implements ProbabilityModel.
func (m *MockModel) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCalled = true
	return nil
}

// Destroy implements ProbabilityModel.
func (m *MockModel) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DestroyCalled = true
	return nil
}

// InferCallCount returns the number of Infer calls so far.
func (m *MockModel) InferCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InferCalls)
}

var _ ProbabilityModel = (*MockModel)(nil)

// StaticGate is a Gate with a settable flag for tests.
type StaticGate struct {
	mu     sync.Mutex
	active bool
}

// Set changes the reported state.
func (g *StaticGate) Set(active bool) {
	g.mu.Lock()
	g.active = active
	g.mu.Unlock()
}

// Active implements Gate.
func (g *StaticGate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
