package frame

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

var (
	// ErrUnsupportedFormat is returned by Load for files that are not JPEG or PNG.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrCorrupt is returned for bytes that do not decode as an image.
	ErrCorrupt = errors.New("image could not be decoded")
)

// IsInvalid reports whether err means the input is not a usable image, as
// opposed to an I/O failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrEmptyImage) || errors.Is(err, ErrCorrupt) || errors.Is(err, ErrUnsupportedFormat)
}

// supportedExts lists the file extensions accepted by Load.
var supportedExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Load reads an image file and returns it in BGR order.
func Load(path string) (Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExts[ext] {
		return Image{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}

	img, err := Decode(data)
	if err != nil {
		return Image{}, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode decodes JPEG or PNG bytes into a BGR image. EXIF orientation is
// applied and any alpha channel is dropped.
func Decode(data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	// Clone normalizes every color model to non-premultiplied RGBA.
	nrgba := imaging.Clone(src)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return Image{}, ErrEmptyImage
	}

	bgr := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			bgr = append(bgr, p[2], p[1], p[0])
		}
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, bgr)
	if err != nil {
		return Image{}, fmt.Errorf("create mat: %w", err)
	}
	return New(mat, BGR), nil
}

// EncodeJPEG encodes the image as JPEG, converting to BGR first if needed.
func EncodeJPEG(img Image) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	bgr := img.ToBGR()
	defer bgr.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *bgr.Mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}
