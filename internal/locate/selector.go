package locate

import (
	"fmt"
	"image"

	"github.com/ayusman/produkscan/internal/frame"
)

// NoRegion marks a Crop that is the whole image rather than a region crop.
const NoRegion = -1

// Crop is the sub-image selected for classification.
type Crop struct {
	Image frame.Image
	// Localized is false when no hand was found and Image is the full input.
	Localized bool
	// Region is the index of the region the hand was found in, or NoRegion.
	Region int
	// Box is the crop in region coordinates. Zero when not localized.
	Box Box
	// Bounds is the crop in full-image coordinates.
	Bounds image.Rectangle
}

// Close releases the crop pixels.
func (c Crop) Close() error {
	return c.Image.Close()
}

// Selector picks the crop around the first hand found scanning the regions
// from left to right.
type Selector struct {
	locator Locator
	margin  int
}

// NewSelector creates a Selector that pads hand boxes by margin pixels.
func NewSelector(locator Locator, margin int) *Selector {
	return &Selector{locator: locator, margin: margin}
}

// Select returns the crop for img. Regions after the first one holding a
// hand are never examined. When no region holds a hand the crop is a copy
// of the whole image with Localized set to false.
//
// The returned crop is independent of img and must be closed by the caller.
func (s *Selector) Select(img frame.Image) (Crop, error) {
	if err := img.Validate(); err != nil {
		return Crop{}, err
	}

	regions, err := Partition(img.Width(), img.Height())
	if err != nil {
		return Crop{}, err
	}

	for _, region := range regions {
		crop, found, err := s.tryRegion(img, region)
		if err != nil {
			return Crop{}, fmt.Errorf("region %d: %w", region.Index, err)
		}
		if found {
			return crop, nil
		}
	}

	return Crop{
		Image:  img.Clone(),
		Region: NoRegion,
		Bounds: img.Bounds(),
	}, nil
}

func (s *Selector) tryRegion(img frame.Image, region Region) (Crop, bool, error) {
	sub, err := img.Sub(region.Rect())
	if err != nil {
		return Crop{}, false, err
	}
	defer sub.Close()

	points, found, err := s.locator.Locate(sub)
	if err != nil || !found {
		return Crop{}, false, err
	}

	box := BuildBox(points, region.Width(), region.Height, s.margin)
	pixels, err := sub.Sub(box.Rect())
	if err != nil {
		return Crop{}, false, err
	}

	return Crop{
		Image:     pixels,
		Localized: true,
		Region:    region.Index,
		Box:       box,
		Bounds:    box.Rect().Add(image.Pt(region.Left, 0)),
	}, true, nil
}
