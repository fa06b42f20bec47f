package raster

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/farmsight/farmsight/pkg/errors"
)

// CompositeBandOrder selects the (R, G, B) source band indexes when a
// raster carries four or more bands. The dataset stores its spectral
// bands blue-first, so the default reverses the leading triple.
var CompositeBandOrder = [3]int{2, 1, 0}

const (
	// Percentile bounds for the contrast stretch on the composite path.
	stretchLowPercentile  = 0.5
	stretchHighPercentile = 99.5
)

// selectChannels maps a raster's bands onto (R, G, B) planes. Grayscale
// is replicated; three bands pass through; four or more follow
// CompositeBandOrder.
func selectChannels(r *Raster) ([3][]float64, error) {
	var out [3][]float64
	switch n := len(r.Bands); {
	case n >= 4:
		for i, idx := range CompositeBandOrder {
			out[i] = r.Bands[idx]
		}
	case n == 3:
		out[0], out[1], out[2] = r.Bands[0], r.Bands[1], r.Bands[2]
	case n == 1:
		out[0], out[1], out[2] = r.Bands[0], r.Bands[0], r.Bands[0]
	default:
		return out, errors.Newf(errors.ErrCodeUnsupportedBandCount,
			"cannot compose RGB from %d bands", n).
			WithComponent("raster").
			WithOperation("normalize")
	}
	return out, nil
}

// Normalize converts a raster to 8-bit RGB using a linear min-max stretch
// computed over the selected channels. Sources that are already 8-bit
// pass through unscaled. A flat raster (max == min) comes out all black.
func Normalize(r *Raster) (*image.RGBA, error) {
	channels, err := selectChannels(r)
	if err != nil {
		return nil, err
	}

	if r.EightBit {
		return compose(r.Width, r.Height, channels, func(v float64) uint8 {
			return clamp255(v)
		}), nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, ch := range channels {
		for _, v := range ch {
			if !isFinite(v) {
				v = 0
			}
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if hi <= lo {
		return compose(r.Width, r.Height, channels, func(float64) uint8 { return 0 }), nil
	}
	scale := 255 / (hi - lo)
	return compose(r.Width, r.Height, channels, func(v float64) uint8 {
		if !isFinite(v) {
			v = 0
		}
		return clamp255((v - lo) * scale)
	}), nil
}

// NormalizeComposite converts a raster to 8-bit RGB using an independent
// percentile contrast stretch per output channel. Percentiles are taken
// over strictly-positive samples so nodata zeros do not crush the
// dynamic range; channels without positive samples fall back to
// percentiles over everything.
func NormalizeComposite(r *Raster) (*image.RGBA, error) {
	channels, err := selectChannels(r)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for c, ch := range channels {
		stretched := stretchChannel(ch)
		for i, v := range stretched {
			img.Pix[i*4+c] = v
		}
	}
	for i := 0; i < r.Width*r.Height; i++ {
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}

func stretchChannel(ch []float64) []uint8 {
	clean := make([]float64, len(ch))
	positive := make([]float64, 0, len(ch))
	for i, v := range ch {
		if !isFinite(v) {
			v = 0
		}
		clean[i] = v
		if v > 0 {
			positive = append(positive, v)
		}
	}

	sample := positive
	if len(sample) == 0 {
		sample = clean
	}
	pLow := percentile(sample, stretchLowPercentile)
	pHigh := percentile(sample, stretchHighPercentile)

	out := make([]uint8, len(clean))
	if pHigh > pLow {
		scale := 255 / (pHigh - pLow)
		for i, v := range clean {
			out[i] = clamp255((v - pLow) * scale)
		}
		return out
	}

	// Degenerate range: fall back to dividing by the channel maximum.
	max := 0.0
	for _, v := range clean {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for i, v := range clean {
			out[i] = clamp255(v / max * 255)
		}
	}
	return out
}

// percentile computes the q-th percentile with linear interpolation
// between closest ranks. Input is not modified.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := q / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func compose(w, h int, channels [3][]float64, scale func(float64) uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.SetRGBA(i%w, i/w, color.RGBA{
			R: scale(channels[0][i]),
			G: scale(channels[1][i]),
			B: scale(channels[2][i]),
			A: 0xff,
		})
	}
	return img
}

func clamp255(v float64) uint8 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
