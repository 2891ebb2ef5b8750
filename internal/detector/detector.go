package detector

import "github.com/ayusman/produkscan/internal/frame"

// Detector defines the interface for hand-landmark detection implementations.
type Detector interface {
	// Detect analyzes an RGB image and returns the detected hands in the
	// order the underlying service reports them.
	// Returns an empty slice if no hands are detected.
	Detect(img frame.Image) ([]Hand, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// StaticImageMode treats every call as an independent still image
	// instead of a video stream with tracking.
	StaticImageMode bool `yaml:"static_image_mode"`

	// MaxHands is the maximum number of hands to detect (default: 4).
	MaxHands int `yaml:"max_hands"`

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64 `yaml:"min_confidence"`
}

// DefaultConfig returns the still-image configuration used for product
// localization.
func DefaultConfig() Config {
	return Config{
		StaticImageMode: true,
		MaxHands:        4,
		MinConfidence:   0.5,
	}
}

// NoHands is a Detector that never finds a hand. With it every image is
// classified whole.
type NoHands struct{}

// Detect always returns no hands.
func (NoHands) Detect(frame.Image) ([]Hand, error) { return nil, nil }

// Close is a no-op.
func (NoHands) Close() error { return nil }
