// Package raster decodes source captures and normalizes them into 8-bit
// RGB pixels ready for PNG encoding.
package raster

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/tiff"

	"github.com/farmsight/farmsight/pkg/errors"
)

// Raster holds decoded sample data as per-band planes. Each band is
// row-major with Width*Height samples kept at the source's native range
// (0..255 for 8-bit sources, 0..65535 for 16-bit).
type Raster struct {
	Width  int
	Height int
	Bands  [][]float64

	// EightBit records whether the source samples were already 8-bit,
	// in which case the plain normalization path skips rescaling.
	EightBit bool
}

// Decode reads a PNG, JPEG or TIFF container into band planes. Grayscale
// sources produce one band; color sources produce three (alpha dropped).
func Decode(r io.Reader) (*Raster, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnreadableSource,
			"failed to decode source image", err).
			WithComponent("raster").
			WithOperation("decode")
	}
	return fromImage(img), nil
}

// DecodeBytes decodes an in-memory container.
func DecodeBytes(data []byte) (*Raster, error) {
	return Decode(bytes.NewReader(data))
}

func fromImage(img image.Image) *Raster {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	eightBit := true
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		eightBit = false
	}

	if gray, ok := grayPlane(img); ok {
		return &Raster{Width: w, Height: h, Bands: [][]float64{gray}, EightBit: eightBit}
	}

	red := make([]float64, w*h)
	green := make([]float64, w*h)
	blue := make([]float64, w*h)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if eightBit {
				red[i] = float64(r >> 8)
				green[i] = float64(g >> 8)
				blue[i] = float64(b >> 8)
			} else {
				red[i] = float64(r)
				green[i] = float64(g)
				blue[i] = float64(b)
			}
			i++
		}
	}
	return &Raster{Width: w, Height: h, Bands: [][]float64{red, green, blue}, EightBit: eightBit}
}

func grayPlane(img image.Image) ([]float64, bool) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	switch src := img.(type) {
	case *image.Gray:
		plane := make([]float64, 0, w*h)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			row := src.Pix[(y-bounds.Min.Y)*src.Stride : (y-bounds.Min.Y)*src.Stride+w]
			for _, v := range row {
				plane = append(plane, float64(v))
			}
		}
		return plane, true
	case *image.Gray16:
		plane := make([]float64, 0, w*h)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				plane = append(plane, float64(src.Gray16At(x, y).Y))
			}
		}
		return plane, true
	}
	return nil, false
}
