package raster

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/farmsight/farmsight/pkg/errors"
)

// ResizeExact resamples img to exactly width x height, stretching as
// needed. Used by the composite display path where the caller owns the
// aspect ratio.
func ResizeExact(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ResizeFit resamples img to fit within width x height while preserving
// the source aspect ratio. The result is never larger than the source.
func ResizeFit(img image.Image, width, height int) *image.RGBA {
	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()
	if srcW == 0 || srcH == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	dstW, dstH := srcW, srcH
	if dstW > width {
		dstH = dstH * width / dstW
		dstW = width
	}
	if dstH > height {
		dstW = dstW * height / dstH
		dstH = height
	}
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// EncodePNG serializes an image to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternalError,
			"failed to encode PNG", err).
			WithComponent("raster").
			WithOperation("encode")
	}
	return buf.Bytes(), nil
}
