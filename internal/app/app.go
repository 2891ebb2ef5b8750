// Package app wires the ProdukScan services together from a config.Config
// and exposes the entry points shared by the CLI, the HTTP server and the bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/produkscan/internal/capture"
	"github.com/ayusman/produkscan/internal/classify"
	"github.com/ayusman/produkscan/internal/config"
	"github.com/ayusman/produkscan/internal/detector"
	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/logger"
	"github.com/ayusman/produkscan/internal/metrics"
	"github.com/ayusman/produkscan/internal/pipeline"
	"github.com/ayusman/produkscan/internal/rank"
	"github.com/ayusman/produkscan/internal/store"
)

// App owns the long-lived services and the pipeline built on them.
type App struct {
	config     *config.Config
	store      *store.Store
	metrics    *metrics.Metrics
	detector   detector.Detector
	classifier classify.Classifier
	pipeline   *pipeline.Pipeline
	started    time.Time
}

// Option overrides a service New would otherwise build from the config.
type Option func(*App)

// WithDetector uses d instead of the configured detector backend.
func WithDetector(d detector.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithClassifier uses c instead of the configured classifier backend.
func WithClassifier(c classify.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithStore uses s for history instead of opening the configured database.
func WithStore(s *store.Store) Option {
	return func(a *App) { a.store = s }
}

// New builds the services described by cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		config:  cfg,
		metrics: metrics.New(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.detector == nil {
		a.detector = newDetector(cfg)
	}

	if a.classifier == nil {
		c, err := newClassifier(cfg)
		if err != nil {
			a.detector.Close()
			return nil, err
		}
		a.classifier = c
	}

	if a.store == nil && !cfg.Store.Disabled {
		s, err := store.New(cfg.Store.Path)
		if err != nil {
			a.detector.Close()
			a.classifier.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.store = s
	}

	pipelineOpts := []pipeline.Option{pipeline.WithObserver(a.metrics)}
	if a.store != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithRecorder(NewHistoryRecorder(a.store)))
	}
	a.pipeline = pipeline.New(a.detector, a.classifier, cfg.PipelineSettings(), pipelineOpts...)

	return a, nil
}

// newDetector builds the configured hand detector. When MediaPipe is not
// available every image takes the full-image path.
func newDetector(cfg *config.Config) detector.Detector {
	if cfg.Detector.Backend == config.DetectorNone {
		logger.Log().Info("hand detection disabled, classifying full images")
		return detector.NoHands{}
	}

	mp, err := detector.NewMediaPipeDetector(cfg.Detector.Config)
	if err != nil {
		logger.Log().Warn("MediaPipe not available, classifying full images", zap.Error(err))
		return detector.NoHands{}
	}
	logger.Log().Info("using MediaPipe hand detection")
	return mp
}

func newClassifier(cfg *config.Config) (classify.Classifier, error) {
	switch cfg.Classifier.Backend {
	case config.ClassifierRemote:
		logger.Log().Info("using remote classifier", zap.String("url", cfg.Classifier.URL))
		return classify.NewRemoteClassifier(cfg.Classifier.URL, cfg.Classifier.Timeout), nil
	case config.ClassifierONNX:
		c, err := classify.NewONNXClassifier(cfg.Classifier.ONNX)
		if err != nil {
			return nil, fmt.Errorf("load classifier: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Classifier.Backend)
	}
}

// Classify runs img through the pipeline on behalf of src.
func (a *App) Classify(ctx context.Context, src pipeline.Source, img frame.Image, mode rank.Mode) (*pipeline.Outcome, error) {
	return a.pipeline.Run(pipeline.WithSource(ctx, src), img, mode)
}

// ClassifyFile loads the image at path and classifies it. A file that is not
// a usable image still produces an invalid-input outcome; only I/O errors are
// returned without one.
func (a *App) ClassifyFile(ctx context.Context, path string, mode rank.Mode) (*pipeline.Outcome, error) {
	img, err := frame.Load(path)
	if err != nil {
		if !frame.IsInvalid(err) {
			return nil, err
		}
		logger.Log().Warn("unusable image file", zap.String("path", path), zap.Error(err))
	}
	defer img.Close()
	return a.Classify(ctx, pipeline.SourceFile, img, mode)
}

// ClassifyCamera takes a snapshot from cam and classifies it.
func (a *App) ClassifyCamera(ctx context.Context, cam capture.Camera, mode rank.Mode) (*pipeline.Outcome, error) {
	img, err := capture.Snapshot(cam, a.config.Camera.Warmup)
	if err != nil {
		return nil, fmt.Errorf("camera snapshot: %w", err)
	}
	defer img.Close()
	return a.Classify(ctx, pipeline.SourceCamera, img, mode)
}

// Camera returns the configured camera, not yet opened.
func (a *App) Camera() capture.Camera {
	return capture.NewCamera(a.config.Camera.Device)
}

// Close releases every service.
func (a *App) Close() error {
	var errs []error
	if err := a.detector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close detector: %w", err))
	}
	if err := a.classifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close classifier: %w", err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config {
	return a.config
}

// Pipeline returns the pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Store returns the history store, or nil when history is disabled.
func (a *App) Store() *store.Store {
	return a.store
}

// Metrics returns the metrics registry.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Uptime returns how long the app has been running.
func (a *App) Uptime() time.Duration {
	return time.Since(a.started)
}
