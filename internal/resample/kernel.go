// Package resample implements the interpolation kernels, the origin
// preserving affine scale and the inverse-mapping warp used by readers and
// the raster extractor.
package resample

import (
	"math"

	"github.com/pspoerri/geoextract/internal/raster"
)

// Source is anything that yields samples by integer pixel coordinate.
// ok is false for pixels outside the source or without data.
type Source interface {
	Size() (width, height int)
	Sample(band, col, row int) (v float64, ok bool)
}

// Interpolate samples band at continuous pixel coordinates (fx, fy). Pixel
// (i, j) covers [i, i+1) x [j, j+1), so its center is at (i+0.5, j+0.5).
// Invalid neighbors are left out of the weighted sum; when no neighbor is
// valid the nearest pixel decides.
func Interpolate(src Source, kind raster.Interpolation, band int, fx, fy float64) (float64, bool) {
	switch kind {
	case raster.Bilinear:
		return bilinear(src, band, fx, fy)
	case raster.Bicubic:
		return cubic(src, band, fx, fy, &keysTable)
	case raster.Bicubic2:
		return cubic(src, band, fx, fy, &keys2Table)
	default:
		return nearest(src, band, fx, fy)
	}
}

func nearest(src Source, band int, fx, fy float64) (float64, bool) {
	return src.Sample(band, int(math.Floor(fx)), int(math.Floor(fy)))
}

func bilinear(src Source, band int, fx, fy float64) (float64, bool) {
	w, h := src.Size()
	x := fx - 0.5
	y := fy - 0.5
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	dx := x - float64(x0)
	dy := y - float64(y0)

	var sum, wsum float64
	for j := 0; j < 2; j++ {
		wy := 1 - dy
		if j == 1 {
			wy = dy
		}
		for i := 0; i < 2; i++ {
			wx := 1 - dx
			if i == 1 {
				wx = dx
			}
			wt := wx * wy
			if wt == 0 {
				continue
			}
			v, ok := src.Sample(band, clamp(x0+i, 0, w-1), clamp(y0+j, 0, h-1))
			if !ok {
				continue
			}
			sum += v * wt
			wsum += wt
		}
	}
	if wsum <= 0 {
		return nearest(src, band, fx, fy)
	}
	return sum / wsum, true
}

func cubic(src Source, band int, fx, fy float64, table *[cubicLUTSize]float64) (float64, bool) {
	w, h := src.Size()
	x := fx - 0.5
	y := fy - 0.5
	ix := int(math.Floor(x)) - 1
	iy := int(math.Floor(y)) - 1

	var wx, wy [4]float64
	for k := 0; k < 4; k++ {
		wx[k] = cubicLUT(table, x-float64(ix+k))
		wy[k] = cubicLUT(table, y-float64(iy+k))
	}

	var sum, wsum float64
	for j := 0; j < 4; j++ {
		py := clamp(iy+j, 0, h-1)
		for i := 0; i < 4; i++ {
			wt := wx[i] * wy[j]
			if wt == 0 {
				continue
			}
			v, ok := src.Sample(band, clamp(ix+i, 0, w-1), py)
			if !ok {
				continue
			}
			sum += v * wt
			wsum += wt
		}
	}
	// Negative lobes can drive the weight sum to zero when most taps are
	// missing; fall back to nearest then.
	if math.Abs(wsum) < 1e-6 {
		return nearest(src, band, fx, fy)
	}
	return sum / wsum, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// keys computes the cubic convolution kernel with parameter a:
//
//	W(x) = (a+2)|x|³ - (a+3)|x|² + 1       for |x| ≤ 1
//	W(x) = a|x|³ - 5a|x|² + 8a|x| - 4a      for 1 < |x| < 2
//	W(x) = 0                                 for |x| ≥ 2
//
// a = -0.5 is Catmull-Rom (bicubic); a = -1 is the sharper bicubic2.
func keys(x, a float64) float64 {
	if x < 0 {
		x = -x
	}
	if x >= 2 {
		return 0
	}
	x2 := x * x
	x3 := x2 * x
	if x <= 1 {
		return (a+2)*x3 - (a+3)*x2 + 1
	}
	return a*x3 - 5*a*x2 + 8*a*x - 4*a
}

// cubicLUTSize is the number of entries in each half of the lookup table.
// 1024 entries over [0, 2] gives a step of ~0.00195.
const cubicLUTSize = 1024

var keysTable, keys2Table [cubicLUTSize]float64

func init() {
	for i := 0; i < cubicLUTSize; i++ {
		x := float64(i) * 2.0 / float64(cubicLUTSize)
		keysTable[i] = keys(x, -0.5)
		keys2Table[i] = keys(x, -1)
	}
}

// cubicLUT evaluates a tabulated kernel with linear interpolation between entries.
func cubicLUT(table *[cubicLUTSize]float64, x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x >= 2 {
		return 0
	}
	pos := x * (cubicLUTSize / 2.0)
	idx := int(pos)
	if idx >= cubicLUTSize-1 {
		return table[cubicLUTSize-1]
	}
	frac := pos - float64(idx)
	return table[idx]*(1-frac) + table[idx+1]*frac
}
