// Package classify turns a product crop into per-label confidences: Prepare
// normalizes the crop into the model's input tensor and a Classifier runs the
// model behind one of several backends.
package classify

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// NumClasses is the length of every confidence vector.
const NumClasses = 10

// labels is the fixed label set of the product model, in output order.
var labels = [NumClasses]string{
	"ButterCookies",
	"Chitato",
	"Cocacola",
	"FrisianFlag",
	"KokoCrunch",
	"Milkita",
	"Neoguri",
	"Silverqueen",
	"Togo",
	"Top",
}

var (
	// ErrInvalidTensor is returned for a tensor that does not match InputShape.
	ErrInvalidTensor = errors.New("invalid input tensor")
	// ErrBadOutput is returned when a model answers with something other than
	// NumClasses probabilities in [0,1].
	ErrBadOutput = errors.New("malformed classifier output")
)

// Confidences holds one probability per model label.
type Confidences []float32

// Classifier runs the product model.
type Classifier interface {
	// Classify returns the confidence vector for t. ctx bounds transport
	// time for remote backends.
	Classify(ctx context.Context, t Tensor) (Confidences, error)
	// Close releases the backend.
	Close() error
}

// Labels returns a copy of the model's label set, in output order.
func Labels() []string {
	out := make([]string, NumClasses)
	copy(out, labels[:])
	return out
}

// Label returns the label at output index i.
func Label(i int) string {
	return labels[i]
}

// IndexOf returns the position of label in Labels, or -1.
func IndexOf(label string) int {
	for i, l := range labels {
		if l == label {
			return i
		}
	}
	return -1
}

// CheckOutput verifies that out is a usable confidence vector.
func CheckOutput(out []float32) error {
	if len(out) != NumClasses {
		return fmt.Errorf("%w: got %d values, want %d", ErrBadOutput, len(out), NumClasses)
	}
	for i, v := range out {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: value %d is %v", ErrBadOutput, i, v)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: value %d is %v, outside [0,1]", ErrBadOutput, i, v)
		}
	}
	return nil
}
