package locate

import (
	"image"

	"github.com/ayusman/produkscan/internal/detector"
)

// DefaultMargin is the padding in pixels added around the hand on every side.
const DefaultMargin = 50

// Box is a bounding box in pixel coordinates relative to a region.
// XMax and YMax are exclusive.
type Box struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

// Rect returns the box as an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.XMin >= b.XMax || b.YMin >= b.YMax
}

// BuildBox converts normalized landmarks to the pixel box that encloses them
// inside a width x height region, grows it by margin on every side and clamps
// it to the region.
//
// points must not be empty; a missing hand never reaches box building.
func BuildBox(points []detector.Point, width, height, margin int) Box {
	if len(points) == 0 {
		panic("locate: BuildBox called without landmarks")
	}
	if margin < 0 {
		margin = 0
	}

	// Seeding with the opposite edges keeps XMin <= width and XMax >= 0 even
	// when the detector reports landmarks slightly outside the region.
	xMin, yMin := width, height
	xMax, yMax := 0, 0
	for _, p := range points {
		x := int(p.X * float64(width))
		y := int(p.Y * float64(height))
		xMin = min(xMin, x)
		yMin = min(yMin, y)
		xMax = max(xMax, x)
		yMax = max(yMax, y)
	}

	return Box{
		XMin: clamp(xMin-margin, 0, width),
		YMin: clamp(yMin-margin, 0, height),
		XMax: clamp(xMax+margin, 0, width),
		YMax: clamp(yMax+margin, 0, height),
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
