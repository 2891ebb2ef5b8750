package locate

import (
	"fmt"
	"math"

	"github.com/ayusman/produkscan/internal/detector"
	"github.com/ayusman/produkscan/internal/frame"
)

// Locator finds a hand in a single region image.
type Locator interface {
	// Locate returns the normalized landmarks of the hand in region, or
	// found == false when there is none.
	Locate(region frame.Image) (points []detector.Point, found bool, err error)
}

// HandLocator adapts a detector.Detector to the Locator interface.
// The detector owns the detection confidence gate; Hand.Score is a
// handedness score and is not used here.
type HandLocator struct {
	detector detector.Detector
}

// NewHandLocator creates a HandLocator.
func NewHandLocator(d detector.Detector) *HandLocator {
	return &HandLocator{detector: d}
}

// Locate converts region to RGB, runs hand detection and returns the
// landmarks of the first hand with at least one finite landmark.
// A region with no pixels never holds a hand.
func (l *HandLocator) Locate(region frame.Image) ([]detector.Point, bool, error) {
	if region.Width() == 0 || region.Height() == 0 {
		return nil, false, nil
	}

	rgb := region.ToRGB()
	defer rgb.Close()

	hands, err := l.detector.Detect(rgb)
	if err != nil {
		return nil, false, fmt.Errorf("hand detection: %w", err)
	}

	for _, hand := range hands {
		points := finitePoints(hand.Points)
		if len(points) == 0 {
			continue
		}
		return points, true, nil
	}
	return nil, false, nil
}

func finitePoints(points []detector.Point) []detector.Point {
	out := make([]detector.Point, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			continue
		}
		out = append(out, p)
	}
	return out
}
