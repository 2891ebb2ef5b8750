package classify

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/ayusman/produkscan/internal/logger"
)

// ONNXConfig locates the model and the onnxruntime shared library.
type ONNXConfig struct {
	ModelPath   string `yaml:"model_path"`
	LibraryPath string `yaml:"library_path"`
	InputName   string `yaml:"input_name"`
	OutputName  string `yaml:"output_name"`
	Threads     int    `yaml:"threads"`
}

// DefaultONNXConfig returns the names used by the exported product model.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		ModelPath:  "model/product.onnx",
		InputName:  "input",
		OutputName: "output",
		Threads:    runtime.NumCPU(),
	}
}

var envOnce sync.Once
var envErr error

func initRuntime(libraryPath string) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// ShutdownRuntime tears down the onnxruntime environment. Call once at exit
// after every ONNXClassifier is closed.
func ShutdownRuntime() {
	if ort.IsInitialized() {
		_ = ort.DestroyEnvironment()
	}
}

// ONNXClassifier runs the product model in-process with onnxruntime.
// The session owns fixed input and output buffers, so calls are serialized.
type ONNXClassifier struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXClassifier loads the model described by cfg.
func NewONNXClassifier(cfg ONNXConfig) (*ONNXClassifier, error) {
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if cfg.Threads > 0 {
		_ = options.SetIntraOpNumThreads(cfg.Threads)
		_ = options.SetInterOpNumThreads(cfg.Threads)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(
		int64(InputShape[0]), int64(InputShape[1]), int64(InputShape[2]), int64(InputShape[3])))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(NumClasses)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session for %s: %w", cfg.ModelPath, err)
	}

	logger.Log().Info("onnx classifier loaded",
		zap.String("model", cfg.ModelPath),
		zap.String("input", cfg.InputName),
		zap.String("output", cfg.OutputName))

	return &ONNXClassifier{session: session, input: input, output: output}, nil
}

// Classify implements Classifier.
func (c *ONNXClassifier) Classify(_ context.Context, t Tensor) (Confidences, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, fmt.Errorf("onnx classifier is closed")
	}

	copy(c.input.GetData(), t.Data)
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	out := c.output.GetData()
	if err := CheckOutput(out); err != nil {
		return nil, err
	}
	return append(Confidences(nil), out...), nil
}

// Close destroys the session and its tensors.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.input.Destroy()
	c.output.Destroy()
	c.session, c.input, c.output = nil, nil, nil
	return err
}
