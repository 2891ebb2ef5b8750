// Package config loads ProdukScan settings from a YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/produkscan/internal/capture"
	"github.com/ayusman/produkscan/internal/classify"
	"github.com/ayusman/produkscan/internal/detector"
	"github.com/ayusman/produkscan/internal/locate"
	"github.com/ayusman/produkscan/internal/pipeline"
	"github.com/ayusman/produkscan/internal/rank"
)

// Backend names.
const (
	DetectorMediaPipe = "mediapipe"
	DetectorNone      = "none"

	ClassifierONNX   = "onnx"
	ClassifierRemote = "remote"
)

// Environment variables read by Load.
const (
	EnvConfig        = "PRODUKSCAN_CONFIG"
	EnvModel         = "PRODUKSCAN_MODEL"
	EnvONNXLibrary   = "ONNXRUNTIME_LIB"
	EnvListen        = "PRODUKSCAN_LISTEN"
	EnvDB            = "PRODUKSCAN_DB"
	EnvThreshold     = "PRODUKSCAN_THRESHOLD"
	EnvClassifier    = "PRODUKSCAN_CLASSIFIER"
	EnvClassifierURL = "PRODUKSCAN_CLASSIFIER_URL"
	EnvDetector      = "PRODUKSCAN_DETECTOR"
	EnvCamera        = "PRODUKSCAN_CAMERA"
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvLogFile       = "PRODUKSCAN_LOG_FILE"
	EnvDebug         = "PRODUKSCAN_DEBUG"
)

// Config is the complete application configuration.
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Detector   DetectorConfig   `yaml:"detector"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Camera     CameraConfig     `yaml:"camera"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type PipelineConfig struct {
	Threshold float64 `yaml:"threshold"`
	Margin    int     `yaml:"margin"`
}

type DetectorConfig struct {
	Backend         string `yaml:"backend"`
	detector.Config `yaml:",inline"`
}

type ClassifierConfig struct {
	Backend string              `yaml:"backend"`
	ONNX    classify.ONNXConfig `yaml:"onnx"`
	URL     string              `yaml:"url"`
	Timeout time.Duration       `yaml:"timeout"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
	// Disabled turns off history recording.
	Disabled bool `yaml:"disabled"`
}

type CameraConfig struct {
	Device int `yaml:"device"`
	Warmup int `yaml:"warmup"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
	Debug bool   `yaml:"debug"`
}

type LoggingConfig struct {
	File  string `yaml:"file"`
	Debug bool   `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Threshold: rank.DefaultThreshold,
			Margin:    locate.DefaultMargin,
		},
		Detector: DetectorConfig{
			Backend: DetectorMediaPipe,
			Config:  detector.DefaultConfig(),
		},
		Classifier: ClassifierConfig{
			Backend: ClassifierONNX,
			ONNX:    classify.DefaultONNXConfig(),
			Timeout: classify.DefaultRemoteTimeout,
		},
		Server: ServerConfig{Listen: ":8080"},
		Store:  StoreConfig{Path: "~/.produkscan/produkscan.db"},
		Camera: CameraConfig{
			Device: capture.InternalCamera,
			Warmup: capture.DefaultWarmupFrames,
		},
	}
}

// Load builds the configuration. path names a YAML file; when empty the
// PRODUKSCAN_CONFIG variable is consulted and, failing that, only defaults
// and the environment apply. A .env file in the working directory is loaded
// first without overriding variables that are already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Classifier.ONNX.ModelPath = expandHome(cfg.Classifier.ONNX.ModelPath)
	cfg.Logging.File = expandHome(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Classifier.ONNX.ModelPath, EnvModel)
	setString(&c.Classifier.ONNX.LibraryPath, EnvONNXLibrary)
	setString(&c.Classifier.Backend, EnvClassifier)
	setString(&c.Classifier.URL, EnvClassifierURL)
	setString(&c.Detector.Backend, EnvDetector)
	setString(&c.Server.Listen, EnvListen)
	setString(&c.Store.Path, EnvDB)
	setString(&c.Telegram.Token, EnvTelegramToken)
	setString(&c.Logging.File, EnvLogFile)

	if v := os.Getenv(EnvThreshold); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvThreshold, err)
		}
		c.Pipeline.Threshold = threshold
	}
	if v := os.Getenv(EnvCamera); v != "" {
		device, err := capture.ParseDevice(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCamera, err)
		}
		c.Camera.Device = device
	}
	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		c.Logging.Debug = debug
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.Threshold < 0 || c.Pipeline.Threshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.threshold %v outside [0,1]", c.Pipeline.Threshold))
	}
	if c.Pipeline.Margin < 0 {
		errs = append(errs, fmt.Errorf("pipeline.margin %d is negative", c.Pipeline.Margin))
	}
	if c.Detector.MaxHands < 1 {
		errs = append(errs, fmt.Errorf("detector.max_hands %d must be at least 1", c.Detector.MaxHands))
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("detector.min_confidence %v outside [0,1]", c.Detector.MinConfidence))
	}
	switch c.Detector.Backend {
	case DetectorMediaPipe, DetectorNone:
	default:
		errs = append(errs, fmt.Errorf("unknown detector backend %q", c.Detector.Backend))
	}
	switch c.Classifier.Backend {
	case ClassifierONNX:
		if c.Classifier.ONNX.ModelPath == "" {
			errs = append(errs, errors.New("classifier.onnx.model_path is required for the onnx backend"))
		}
	case ClassifierRemote:
		if c.Classifier.URL == "" {
			errs = append(errs, errors.New("classifier.url is required for the remote backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown classifier backend %q", c.Classifier.Backend))
	}
	if c.Camera.Device < 0 {
		errs = append(errs, fmt.Errorf("camera.device %d is negative", c.Camera.Device))
	}
	if c.Camera.Warmup < 0 {
		errs = append(errs, fmt.Errorf("camera.warmup %d is negative", c.Camera.Warmup))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}

	return errors.Join(errs...)
}

// PipelineSettings returns the tunables for pipeline.New.
func (c *Config) PipelineSettings() pipeline.Config {
	return pipeline.Config{
		Threshold: c.Pipeline.Threshold,
		Margin:    c.Pipeline.Margin,
	}
}
