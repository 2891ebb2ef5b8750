// Package frame provides the channel-order-aware image type shared by the
// localization and classification stages.
//
// OpenCV decodes and captures in BGR order, the hand detector expects RGB and
// the classifier is fed RGB. Every Image therefore carries its order
// explicitly and conversions always go through ToRGB or ToBGR.
package frame

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrEmptyImage is returned for a missing image or one with zero width or height.
var ErrEmptyImage = errors.New("image is empty")

// ChannelOrder identifies the order of the three color channels in a pixel.
type ChannelOrder int

const (
	// BGR is OpenCV's native order, used by decoding and camera capture.
	BGR ChannelOrder = iota
	// RGB is the order expected by the hand detector and the classifier.
	RGB
)

func (o ChannelOrder) String() string {
	switch o {
	case BGR:
		return "BGR"
	case RGB:
		return "RGB"
	default:
		return fmt.Sprintf("ChannelOrder(%d)", int(o))
	}
}

// Image is a 3-channel, 8-bit pixel grid with an explicit channel order.
// The Image owns its Mat; callers release it with Close.
type Image struct {
	Mat   *gocv.Mat
	Order ChannelOrder
}

// New wraps mat as an Image with the given channel order.
func New(mat gocv.Mat, order ChannelOrder) Image {
	return Image{Mat: &mat, Order: order}
}

// Width returns the image width in pixels, or 0 for a missing image.
func (i Image) Width() int {
	if i.Mat == nil {
		return 0
	}
	return i.Mat.Cols()
}

// Height returns the image height in pixels, or 0 for a missing image.
func (i Image) Height() int {
	if i.Mat == nil {
		return 0
	}
	return i.Mat.Rows()
}

// Bounds returns the full image rectangle.
func (i Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.Width(), i.Height())
}

// Validate reports ErrEmptyImage for a missing or zero-sized image and an
// error for anything that is not a 3-channel 8-bit image.
func (i Image) Validate() error {
	if i.Mat == nil || i.Mat.Empty() || i.Width() == 0 || i.Height() == 0 {
		return ErrEmptyImage
	}
	if i.Mat.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("expected 3-channel 8-bit image, got mat type %v", i.Mat.Type())
	}
	return nil
}

// Clone returns a deep copy of the image.
func (i Image) Clone() Image {
	return New(i.Mat.Clone(), i.Order)
}

// ToRGB returns a new image in RGB order. The receiver is left untouched.
func (i Image) ToRGB() Image {
	return i.convert(RGB)
}

// ToBGR returns a new image in BGR order. The receiver is left untouched.
func (i Image) ToBGR() Image {
	return i.convert(BGR)
}

func (i Image) convert(to ChannelOrder) Image {
	if i.Order == to {
		return i.Clone()
	}
	dst := gocv.NewMat()
	// Swapping R and B is its own inverse, so either code works both ways.
	gocv.CvtColor(*i.Mat, &dst, gocv.ColorBGRToRGB)
	return New(dst, to)
}

// Sub returns a copy of the pixels inside r. The rectangle must lie within
// the image bounds.
func (i Image) Sub(r image.Rectangle) (Image, error) {
	if !r.In(i.Bounds()) {
		return Image{}, fmt.Errorf("rectangle %v outside image bounds %v", r, i.Bounds())
	}
	if r.Empty() {
		return New(gocv.NewMat(), i.Order), nil
	}
	view := i.Mat.Region(r)
	defer view.Close()
	return New(view.Clone(), i.Order), nil
}

// Close releases the underlying Mat. It is safe to call on a zero Image.
func (i Image) Close() error {
	if i.Mat == nil {
		return nil
	}
	return i.Mat.Close()
}
