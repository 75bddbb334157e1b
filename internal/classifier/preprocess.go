package classifier

import (
	"bytes"
	"fmt"
	"image"
	"net/http"

	"github.com/disintegration/imaging"
)

// Model input geometry.
const (
	InputWidth    = 128
	InputHeight   = 128
	InputChannels = 3
)

// resampleFilter is the bicubic kernel the model was trained with.
var resampleFilter = imaging.CatmullRom

// supportedTypes maps sniffed content types to the extension used on disk.
var supportedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
}

// DetectImageType sniffs the content type and reports whether the model can
// decode it, returning the file extension for storage.
func DetectImageType(data []byte) (contentType, ext string, ok bool) {
	contentType = http.DetectContentType(data)
	ext, ok = supportedTypes[contentType]
	return contentType, ext, ok
}

// Preprocess decodes data, converts it to RGB at the model input size and
// returns a [1,128,128,3] tensor with values in [0,1], plus the original
// image dimensions. Pixels are used as stored (EXIF orientation is ignored)
// and resized with a bicubic Catmull-Rom kernel, matching the training
// pipeline.
func Preprocess(data []byte) ([]float32, int, int, error) {
	if len(data) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	if _, _, ok := DetectImageType(data); !ok {
		return nil, 0, 0, fmt.Errorf("%w: unsupported image format", ErrInvalidInput)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, 0, 0, fmt.Errorf("%w: image has no pixels", ErrInvalidInput)
	}

	return toTensor(imaging.Resize(img, InputWidth, InputHeight, resampleFilter)), width, height, nil
}

func toTensor(img *image.NRGBA) []float32 {
	out := make([]float32, InputWidth*InputHeight*InputChannels)
	idx := 0
	for y := 0; y < InputHeight; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+InputWidth*4]
		for x := 0; x < InputWidth; x++ {
			px := row[x*4 : x*4+4]
			out[idx] = float32(px[0]) / 255
			out[idx+1] = float32(px[1]) / 255
			out[idx+2] = float32(px[2]) / 255
			idx += 3
		}
	}
	return out
}
