package detector

import (
	"sync"

	"github.com/ayusman/produkscan/internal/frame"
)

// Call records what a MockDetector was asked to analyze.
type Call struct {
	Order  frame.ChannelOrder
	Width  int
	Height int
}

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results call by call.
type MockDetector struct {
	mu     sync.Mutex
	hands  []Hand
	queue  [][]Hand
	err    error
	failAt int
	calls  []Call
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{failAt: -1}
}

// SetHands sets the hands that will be returned by every Detect call not
// covered by QueueHands.
func (m *MockDetector) SetHands(hands []Hand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// QueueHands sets per-call results: the n-th Detect call returns results[n].
// Calls beyond the queue fall back to SetHands.
func (m *MockDetector) QueueHands(results ...[]Hand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = results
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failAt = -1
}

// SetErrorAt makes only the n-th Detect call (zero based) fail with err.
func (m *MockDetector) SetErrorAt(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failAt = n
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(img frame.Image) ([]Hand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.calls)
	m.calls = append(m.calls, Call{Order: img.Order, Width: img.Width(), Height: img.Height()})

	if m.err != nil && (m.failAt < 0 || m.failAt == n) {
		return nil, m.err
	}
	if n < len(m.queue) {
		return m.queue[n], nil
	}
	return m.hands, nil
}

// Calls returns the recorded Detect calls.
func (m *MockDetector) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// HandSpanning returns a preset Hand whose landmarks span exactly the
// normalized rectangle (x0,y0)-(x1,y1). Interior landmarks are spread
// between the corners.
func HandSpanning(x0, y0, x1, y1 float64) Hand {
	hand := Hand{
		Handedness: "Right",
		Score:      0.95,
		Points:     make([]Point, NumLandmarks),
	}

	hand.Points[Wrist] = Point{X: (x0 + x1) / 2, Y: y1}
	hand.Points[ThumbTip] = Point{X: x1, Y: (y0 + y1) / 2}
	hand.Points[MiddleTip] = Point{X: (x0 + x1) / 2, Y: y0}
	hand.Points[PinkyTip] = Point{X: x0, Y: (y0 + y1) / 2}

	for i := range hand.Points {
		switch i {
		case Wrist, ThumbTip, MiddleTip, PinkyTip:
			continue
		}
		f := float64(i) / NumLandmarks
		hand.Points[i] = Point{X: x0 + (x1-x0)*f, Y: y0 + (y1-y0)*f}
	}
	hand.Points[IndexTip] = Point{X: x0, Y: y0}
	hand.Points[RingTip] = Point{X: x1, Y: y1}

	return hand
}

// OpenPalmLandmarks returns a preset Hand representing an open palm held
// in the middle of the image.
func OpenPalmLandmarks() Hand {
	hand := Hand{
		Handedness: "Right",
		Score:      0.95,
		Points:     make([]Point, NumLandmarks),
	}

	hand.Points[Wrist] = Point{X: 0.5, Y: 0.8}

	hand.Points[ThumbCMC] = Point{X: 0.55, Y: 0.75}
	hand.Points[ThumbMCP] = Point{X: 0.62, Y: 0.70}
	hand.Points[ThumbIP] = Point{X: 0.68, Y: 0.65}
	hand.Points[ThumbTip] = Point{X: 0.73, Y: 0.60}

	hand.Points[IndexMCP] = Point{X: 0.55, Y: 0.68}
	hand.Points[IndexPIP] = Point{X: 0.57, Y: 0.55}
	hand.Points[IndexDIP] = Point{X: 0.58, Y: 0.45}
	hand.Points[IndexTip] = Point{X: 0.58, Y: 0.35}

	hand.Points[MiddleMCP] = Point{X: 0.50, Y: 0.66}
	hand.Points[MiddlePIP] = Point{X: 0.50, Y: 0.52}
	hand.Points[MiddleDIP] = Point{X: 0.50, Y: 0.40}
	hand.Points[MiddleTip] = Point{X: 0.50, Y: 0.28}

	hand.Points[RingMCP] = Point{X: 0.45, Y: 0.68}
	hand.Points[RingPIP] = Point{X: 0.43, Y: 0.55}
	hand.Points[RingDIP] = Point{X: 0.42, Y: 0.45}
	hand.Points[RingTip] = Point{X: 0.42, Y: 0.35}

	hand.Points[PinkyMCP] = Point{X: 0.40, Y: 0.70}
	hand.Points[PinkyPIP] = Point{X: 0.37, Y: 0.60}
	hand.Points[PinkyDIP] = Point{X: 0.35, Y: 0.50}
	hand.Points[PinkyTip] = Point{X: 0.34, Y: 0.42}

	return hand
}
