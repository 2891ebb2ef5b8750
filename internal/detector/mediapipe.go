package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/logger"
	"go.uber.org/zap"
)

// ErrNotRGB is returned when an image in the wrong channel order reaches the detector.
var ErrNotRGB = errors.New("hand detector requires RGB input")

// serviceScript is the file name of the MediaPipe hand service.
const serviceScript = "hand_service.py"

// idleTimeout is how long the Python process may sit unused before it is stopped.
const idleTimeout = 30 * time.Second

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
//
// Each request is a 4-byte big-endian width, a 4-byte big-endian height and
// width*height*3 raw RGB bytes. Each response is one JSON line of the form
// {"hands":[{"points":[{"x":..,"y":..}],"handedness":"Right","score":0.9}]}.
// Calls are serialized; the detector is safe for concurrent use.
type MediaPipeDetector struct {
	config     Config
	scriptPath string
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	mu         sync.Mutex
	started    bool
	lastUsed   time.Time
	idleTimer  *time.Timer
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	scriptPath := findServiceScript()
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", serviceScript)
	}

	return &MediaPipeDetector{
		config:     config,
		scriptPath: scriptPath,
	}, nil
}

// Detect sends an RGB image to the service and returns detected hands.
func (d *MediaPipeDetector) Detect(img frame.Image) ([]Hand, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if img.Order != frame.RGB {
		return nil, ErrNotRGB
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	response, err := d.exchange(img)
	if err != nil {
		// The stream is out of sync or the process is gone.
		d.abort()
		return nil, err
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	if response.Error != "" {
		return nil, fmt.Errorf("hand service: %s", response.Error)
	}
	return response.Hands, nil
}

type serviceResponse struct {
	Hands []Hand `json:"hands"`
	Error string `json:"error"`
}

// exchange sends one request and reads its response line.
func (d *MediaPipeDetector) exchange(img frame.Image) (*serviceResponse, error) {
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(img.Width()))
	binary.BigEndian.PutUint32(header[4:8], uint32(img.Height()))

	if _, err := d.stdin.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if _, err := d.stdin.Write(img.Mat.ToBytes()); err != nil {
		return nil, fmt.Errorf("write pixels: %w", err)
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response serviceResponse
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &response, nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

// args returns the service command line for the detector configuration.
func (d *MediaPipeDetector) args() []string {
	args := []string{
		d.scriptPath,
		"--max-hands", strconv.Itoa(d.config.MaxHands),
		"--min-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
	}
	if d.config.StaticImageMode {
		args = append(args, "--static")
	}
	return args
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	// Use virtual environment Python if available
	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	d.cmd = exec.Command(pythonPath, d.args()...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start hand service: %w", err)
	}

	logger.Log().Info("hand service started",
		zap.String("script", d.scriptPath),
		zap.Int("pid", d.cmd.Process.Pid),
		zap.Int("max_hands", d.config.MaxHands),
		zap.Float64("min_confidence", d.config.MinConfidence),
	)

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.lastUsed = time.Now()

	return nil
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	logger.Log().Info("hand service stopped")
	return err
}

// abort kills the service so the next Detect starts a fresh process.
func (d *MediaPipeDetector) abort() {
	if !d.started {
		return
	}
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	if err := d.shutdown(); err != nil {
		logger.Log().Warn("hand service aborted", zap.Error(err))
	}
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if err := d.shutdown(); err != nil {
			logger.Log().Warn("hand service exited with error", zap.Error(err))
		}
	})
}

func findServiceScript() string {
	var execDir string
	if execPath, err := os.Executable(); err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
		filepath.Join(execDir, "scripts", serviceScript),
		filepath.Join(os.Getenv("HOME"), ".produkscan", "scripts", serviceScript),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".produkscan/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if absPath, err := filepath.Abs(path); err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
