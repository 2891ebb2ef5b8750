package classify

import (
	"fmt"
	"image"

	"github.com/ayusman/produkscan/internal/frame"
	"gocv.io/x/gocv"
)

// InputSize is the side length of the square model input.
const InputSize = 224

// InputShape is the NHWC shape of the model input: one RGB image.
var InputShape = [4]int{1, InputSize, InputSize, 3}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// Validate reports ErrInvalidTensor unless t has InputShape and matching data.
func (t Tensor) Validate() error {
	if t.Shape != InputShape {
		return fmt.Errorf("%w: shape %v, want %v", ErrInvalidTensor, t.Shape, InputShape)
	}
	if n := InputShape[0] * InputShape[1] * InputShape[2] * InputShape[3]; len(t.Data) != n {
		return fmt.Errorf("%w: %d values, want %d", ErrInvalidTensor, len(t.Data), n)
	}
	return nil
}

// At returns the value of channel c of pixel (x, y).
func (t Tensor) At(x, y, c int) float32 {
	return t.Data[(y*t.Shape[2]+x)*t.Shape[3]+c]
}

// Prepare converts crop into the model input: RGB order, resized to
// InputSize x InputSize with bilinear interpolation, scaled to [0,1].
// An empty crop yields frame.ErrEmptyImage.
func Prepare(crop frame.Image) (Tensor, error) {
	if err := crop.Validate(); err != nil {
		return Tensor{}, err
	}

	rgb := crop.ToRGB()
	defer rgb.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(*rgb.Mat, &resized, image.Pt(InputSize, InputSize), 0, 0, gocv.InterpolationLinear)

	scaled := gocv.NewMat()
	defer scaled.Close()
	resized.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, 1.0/255, 0)

	values, err := scaled.DataPtrFloat32()
	if err != nil {
		return Tensor{}, fmt.Errorf("read scaled pixels: %w", err)
	}

	t := Tensor{Shape: InputShape, Data: make([]float32, len(values))}
	copy(t.Data, values)
	return t, t.Validate()
}
