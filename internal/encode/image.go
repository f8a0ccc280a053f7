package encode

import (
	"image"
	"image/color"
	"math"

	"github.com/pspoerri/geoextract/internal/raster"
)

// stretch maps band values into 0-255. 8-bit integer bands pass through;
// anything else is scaled linearly over the valid value range.
type stretch struct {
	min, scale float64
	identity   bool
}

func bandStretch(r *raster.Raster, b int) stretch {
	band := r.Bands[b]
	if band.BitsPerSample == 8 && !band.Float && !band.Signed {
		return stretch{identity: true}
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	w, h := r.Size()
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			if v, ok := r.Sample(b, col, row); ok {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
	}
	if !(hi > lo) {
		return stretch{min: lo}
	}
	return stretch{min: lo, scale: 255 / (hi - lo)}
}

func (s stretch) apply(v float64) uint8 {
	if !s.identity {
		v = (v - s.min) * s.scale
	}
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

// Image renders r as an 8-bit image. One band gives gray, two bands gray
// plus alpha, three or more RGB with an optional fourth alpha band. Pixels
// without data are transparent.
func Image(r *raster.Raster) image.Image {
	w, h := r.Size()
	n := len(r.Bands)
	st := make([]stretch, n)
	for b := range st {
		st[b] = bandStretch(r, b)
	}

	if n == 1 && r.ValidCount() == w*h {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				img.SetGray(col, row, color.Gray{Y: st[0].apply(r.At(0, col, row))})
			}
		}
		return img
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			if !r.IsValid(col, row) {
				continue
			}
			var c color.NRGBA
			c.A = 255
			switch {
			case n == 1:
				c.R = st[0].apply(r.At(0, col, row))
				c.G, c.B = c.R, c.R
			case n == 2:
				c.R = st[0].apply(r.At(0, col, row))
				c.G, c.B = c.R, c.R
				c.A = st[1].apply(r.At(1, col, row))
			default:
				c.R = st[0].apply(r.At(0, col, row))
				c.G = st[1].apply(r.At(1, col, row))
				c.B = st[2].apply(r.At(2, col, row))
				if n > 3 {
					c.A = st[3].apply(r.At(3, col, row))
				}
			}
			img.SetNRGBA(col, row, c)
		}
	}
	return img
}
