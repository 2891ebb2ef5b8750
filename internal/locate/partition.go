// Package locate finds the region of an image that holds the product: it
// splits the image into thirds, looks for a hand in each third from left to
// right and crops around the first hand found.
package locate

import (
	"fmt"
	"image"

	"github.com/ayusman/produkscan/internal/frame"
)

// NumRegions is the number of vertical strips an image is split into.
const NumRegions = 3

// Region is one of the three full-height strips of an image.
type Region struct {
	Index  int
	Left   int
	Right  int
	Height int
}

// Width returns the region width in pixels.
func (r Region) Width() int {
	return r.Right - r.Left
}

// Rect returns the region in image coordinates.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, 0, r.Right, r.Height)
}

// Partition splits a width x height image into three regions from left to
// right. The first two are width/3 wide and the last takes the remainder,
// so the regions always cover the full width without gaps or overlap.
func Partition(width, height int) ([]Region, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("partition %dx%d: %w", width, height, frame.ErrEmptyImage)
	}

	section := width / NumRegions
	regions := make([]Region, NumRegions)
	for i := range regions {
		right := (i + 1) * section
		if i == NumRegions-1 {
			right = width
		}
		regions[i] = Region{
			Index:  i,
			Left:   i * section,
			Right:  right,
			Height: height,
		}
	}
	return regions, nil
}
