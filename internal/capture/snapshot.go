package capture

import (
	"fmt"

	"github.com/ayusman/produkscan/internal/frame"
)

// Snapshot returns one frame from cam after discarding warmup frames.
// A camera that Snapshot opened is closed again before returning.
func Snapshot(cam Camera, warmup int) (frame.Image, error) {
	if !cam.IsOpen() {
		if err := cam.Open(); err != nil {
			return frame.Image{}, err
		}
		defer cam.Close()
	}

	for i := 0; i < warmup; i++ {
		img, err := cam.ReadFrame()
		if err != nil {
			return frame.Image{}, fmt.Errorf("warmup frame %d: %w", i, err)
		}
		img.Close()
	}

	img, err := cam.ReadFrame()
	if err != nil {
		return frame.Image{}, err
	}
	return img, nil
}
