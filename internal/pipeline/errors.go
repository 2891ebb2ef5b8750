package pipeline

import (
	"errors"
	"fmt"

	"github.com/ayusman/produkscan/internal/rank"
)

// ErrInvalidInput is wrapped by every error caused by the caller's input:
// an empty image, an empty crop, a malformed tensor or an unknown mode.
var ErrInvalidInput = errors.New("invalid input")

// Stage names a pipeline step backed by an external service.
type Stage string

const (
	StageLocalization   Stage = "localization"
	StageClassification Stage = "classification"
)

// StageError reports a service failure and the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

// Describe returns the text shown to a user for a failed or empty run.
// It returns "" for a nil error.
func Describe(err error) string {
	var stageErr *StageError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, rank.ErrNoDetection):
		return rank.NoDetectionText
	case errors.Is(err, ErrInvalidInput):
		return rank.InvalidImageText
	case errors.As(err, &stageErr):
		return fmt.Sprintf("Product detection failed during %s.", stageErr.Stage)
	default:
		return "Product detection failed."
	}
}
