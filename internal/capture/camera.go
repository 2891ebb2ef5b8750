// Package capture grabs single frames from a camera using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/produkscan/internal/frame"
)

// Camera device indexes.
const (
	InternalCamera = 0
	ExternalCamera = 1
)

// DefaultWarmupFrames is how many frames a snapshot discards while the
// sensor settles its exposure.
const DefaultWarmupFrames = 5

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns one BGR frame. The caller closes it.
	ReadFrame() (frame.Image, error)
	IsOpen() bool
}

// ParseDevice accepts "internal", "external" or a numeric device index.
func ParseDevice(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "internal":
		return InternalCamera, nil
	case "external":
		return ExternalCamera, nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid camera %q: want internal, external or a device index", s)
	}
	return id, nil
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	deviceID int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
}

// NewCamera creates a new Camera with the given device ID.
func NewCamera(deviceID int) Camera {
	return &cameraImpl{
		deviceID: deviceID,
	}
}

// Open opens the camera for capturing frames.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.deviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open camera %d: device not available", c.deviceID)
	}

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Image.
func (c *cameraImpl) ReadFrame() (frame.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return frame.Image{}, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return frame.Image{}, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return frame.Image{}, errors.New("captured frame is empty")
	}

	return frame.New(mat, frame.BGR), nil
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
