package classify

import (
	"context"
	"sync"
)

// MockClassifier is a test implementation of the Classifier interface.
type MockClassifier struct {
	mu     sync.Mutex
	conf   Confidences
	err    error
	calls  int
	closed bool
}

// NewMockClassifier creates a MockClassifier answering with conf.
func NewMockClassifier(conf Confidences) *MockClassifier {
	return &MockClassifier{conf: conf}
}

// SetConfidences sets the vector returned by Classify.
func (m *MockClassifier) SetConfidences(conf Confidences) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conf = conf
}

// SetError sets the error returned by Classify.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Classify validates t like a real backend and returns the configured result.
func (m *MockClassifier) Classify(_ context.Context, t Tensor) (Confidences, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.err != nil {
		return nil, m.err
	}
	if err := CheckOutput(m.conf); err != nil {
		return nil, err
	}
	return append(Confidences(nil), m.conf...), nil
}

// Calls returns how many valid tensors were classified.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockClassifier) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock closed.
func (m *MockClassifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Vector builds a confidence vector with the given label confidences and
// zero elsewhere. Unknown labels panic.
func Vector(values map[string]float32) Confidences {
	conf := make(Confidences, NumClasses)
	for label, v := range values {
		i := IndexOf(label)
		if i < 0 {
			panic("classify: unknown label " + label)
		}
		conf[i] = v
	}
	return conf
}
