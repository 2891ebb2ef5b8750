// Package pipeline runs one image through localization, preprocessing,
// classification and ranking.
//
// A Pipeline holds only configuration and service handles, so one value can
// serve concurrent callers as long as its services allow it.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayusman/produkscan/internal/classify"
	"github.com/ayusman/produkscan/internal/detector"
	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/locate"
	"github.com/ayusman/produkscan/internal/logger"
	"github.com/ayusman/produkscan/internal/rank"
)

// Config holds the tunables of a run.
type Config struct {
	Threshold float64
	Margin    int
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		Threshold: rank.DefaultThreshold,
		Margin:    locate.DefaultMargin,
	}
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, out *Outcome) error
}

// Observer receives run and stage measurements.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	ObserveRun(mode, status string, localized bool)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder persists every run with r. Record errors are logged only.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithObserver reports timings and outcomes to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// Pipeline ties the crop selector, the preprocessor, a classifier and the
// ranker together.
type Pipeline struct {
	selector   *locate.Selector
	classifier classify.Classifier
	threshold  float64
	recorder   Recorder
	observer   Observer
}

// New creates a Pipeline over the given services.
func New(det detector.Detector, cls classify.Classifier, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		selector:   locate.NewSelector(locate.NewHandLocator(det), cfg.Margin),
		classifier: cls,
		threshold:  cfg.Threshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run localizes, classifies and ranks img. The returned Outcome is never nil
// and must be closed by the caller. The error is one of:
//   - nil: at least one product was detected
//   - rank.ErrNoDetection: the run completed without a product
//   - an error wrapping ErrInvalidInput
//   - a *StageError for a detector or classifier failure
func (p *Pipeline) Run(ctx context.Context, img frame.Image, mode rank.Mode) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{
		ID:        uuid.NewString(),
		Source:    SourceFrom(ctx),
		Mode:      mode,
		Region:    locate.NoRegion,
		CreatedAt: start,
	}

	out.Err = p.run(ctx, img, mode, out)
	out.Duration = time.Since(start)
	p.finish(ctx, out)
	return out, out.Err
}

func (p *Pipeline) run(ctx context.Context, img frame.Image, mode rank.Mode, out *Outcome) error {
	if err := mode.Validate(); err != nil {
		return invalid(err)
	}
	if err := img.Validate(); err != nil {
		return invalid(err)
	}

	stageStart := time.Now()
	crop, err := p.selector.Select(img)
	p.observeStage("localization", stageStart)
	if err != nil {
		return &StageError{Stage: StageLocalization, Err: err}
	}
	out.Crop = crop.Image
	out.Localized = crop.Localized
	out.Region = crop.Region
	out.Box = crop.Box
	out.Bounds = crop.Bounds

	log := logger.Log().With(zap.String("run", out.ID))
	if crop.Localized {
		log.Info("hand localized",
			zap.Int("region", crop.Region),
			zap.Any("box", crop.Box))
	} else {
		log.Info("no hand found, using full image")
	}

	stageStart = time.Now()
	tensor, err := classify.Prepare(crop.Image)
	p.observeStage("preprocess", stageStart)
	if err != nil {
		return invalid(err)
	}
	log.Info("tensor prepared", zap.Ints("shape", tensor.Shape[:]))

	stageStart = time.Now()
	conf, err := p.classifier.Classify(ctx, tensor)
	p.observeStage("classification", stageStart)
	if err != nil {
		if errors.Is(err, classify.ErrInvalidTensor) {
			return invalid(err)
		}
		return &StageError{Stage: StageClassification, Err: err}
	}
	out.Confidences = conf
	log.Debug("raw predictions", zap.Float32s("confidences", conf))

	result, err := rank.Rank(conf, p.threshold, mode)
	out.Result = result
	switch {
	case errors.Is(err, rank.ErrNoDetection):
		log.Warn("no product above threshold", zap.Float64("threshold", p.threshold))
		return err
	case err != nil:
		return invalid(err)
	}

	log.Info("products detected", zap.Any("products", result.Products))
	return nil
}

func (p *Pipeline) finish(ctx context.Context, out *Outcome) {
	status := out.Status()
	if status == StatusInvalid || status == StatusFailed {
		logger.Log().Error("pipeline run failed",
			zap.String("run", out.ID),
			zap.String("stage", string(out.Stage())),
			zap.Error(out.Err))
	}

	if p.observer != nil {
		p.observer.ObserveRun(string(out.Mode), string(status), out.Localized)
	}
	if p.recorder != nil {
		if err := p.recorder.Record(ctx, out); err != nil {
			logger.Log().Error("failed to record run", zap.String("run", out.ID), zap.Error(err))
		}
	}
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.observer != nil {
		p.observer.ObserveStage(stage, time.Since(start))
	}
}
