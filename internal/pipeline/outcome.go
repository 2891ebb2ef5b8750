package pipeline

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/ayusman/produkscan/internal/classify"
	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/locate"
	"github.com/ayusman/produkscan/internal/rank"
)

// Source identifies the front-end that submitted an image.
type Source string

const (
	SourceFile     Source = "file"
	SourceCamera   Source = "camera"
	SourceHTTP     Source = "http"
	SourceLive     Source = "live"
	SourceTelegram Source = "telegram"
)

type sourceKey struct{}

// WithSource tags ctx with the front-end submitting the image.
func WithSource(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, src)
}

// SourceFrom returns the source set by WithSource, defaulting to SourceFile.
func SourceFrom(ctx context.Context) Source {
	if src, ok := ctx.Value(sourceKey{}).(Source); ok {
		return src
	}
	return SourceFile
}

// Status summarizes how a run ended.
type Status string

const (
	StatusDetected Status = "detected"
	StatusNone     Status = "none"
	StatusInvalid  Status = "invalid"
	StatusFailed   Status = "failed"
)

// Outcome is everything a run produced. It is returned even when the run
// fails so callers can report and record it.
type Outcome struct {
	ID          string
	Source      Source
	Mode        rank.Mode
	Localized   bool
	Region      int
	Box         locate.Box
	Bounds      image.Rectangle
	Confidences classify.Confidences
	Result      rank.Result
	Err         error
	CreatedAt   time.Time
	Duration    time.Duration

	// Crop holds the pixels that were classified. Released by Close.
	Crop frame.Image
}

// Status classifies Err.
func (o *Outcome) Status() Status {
	switch {
	case o.Err == nil:
		return StatusDetected
	case errors.Is(o.Err, rank.ErrNoDetection):
		return StatusNone
	case errors.Is(o.Err, ErrInvalidInput):
		return StatusInvalid
	default:
		return StatusFailed
	}
}

// Stage returns the failing stage, or "" when no service failed.
func (o *Outcome) Stage() Stage {
	var stageErr *StageError
	if errors.As(o.Err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

// Text renders the outcome for display.
func (o *Outcome) Text() string {
	if o.Err != nil {
		return Describe(o.Err)
	}
	return o.Result.Text()
}

// Close releases the crop. It is safe to call on a nil Outcome.
func (o *Outcome) Close() error {
	if o == nil {
		return nil
	}
	err := o.Crop.Close()
	o.Crop = frame.Image{}
	return err
}
