// Package raster defines the gridded data model shared by readers,
// resamplers, encoders and the extraction pipeline.
package raster

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"

	"github.com/pspoerri/geoextract/internal/coord"
)

// GridGeometry pairs a pixel extent with the affine grid-to-world transform
// and the CRS of the world coordinates. The transform maps the top-left
// corner of pixel (col,row) to world coordinates:
//
//	x = T[0]*col + T[1]*row + T[2]
//	y = T[3]*col + T[4]*row + T[5]
type GridGeometry struct {
	Width     int
	Height    int
	GridToCRS f64.Aff3
	CRS       coord.CRS
}

// NorthUp builds an unrotated grid whose top-left corner is (minX, maxY).
func NorthUp(minX, maxY, resX, resY float64, width, height int, crs coord.CRS) GridGeometry {
	return GridGeometry{
		Width:     width,
		Height:    height,
		GridToCRS: f64.Aff3{resX, 0, minX, 0, -resY, maxY},
		CRS:       crs,
	}
}

// GridForEnvelope covers env with pixels of the given resolution, anchored at
// the envelope's (minX, maxY) corner. Partial pixels at the right and bottom
// edges are included.
func GridForEnvelope(env coord.Envelope, resX, resY float64) (GridGeometry, error) {
	if !(resX > 0) || !(resY > 0) || math.IsInf(resX, 0) || math.IsInf(resY, 0) {
		return GridGeometry{}, fmt.Errorf("raster: invalid resolution %gx%g", resX, resY)
	}
	w := pixelCount(env.Width(), resX)
	h := pixelCount(env.Height(), resY)
	return NorthUp(env.Min[0], env.Max[1], resX, resY, w, h, env.CRS), nil
}

// GridForSize spreads width x height pixels evenly over env.
func GridForSize(env coord.Envelope, width, height int) GridGeometry {
	return NorthUp(env.Min[0], env.Max[1],
		env.Width()/float64(width), env.Height()/float64(height), width, height, env.CRS)
}

// pixelCount is ceil(extent/res) with a tolerance so an envelope that is an
// exact multiple of the resolution does not gain a sliver column.
func pixelCount(extent, res float64) int {
	n := extent / res
	r := math.Round(n)
	if math.Abs(n-r) < 1e-6 {
		return max(int(r), 1)
	}
	return max(int(math.Ceil(n)), 1)
}

// ToWorld maps continuous pixel coordinates to world coordinates.
func (g GridGeometry) ToWorld(col, row float64) (x, y float64) {
	t := g.GridToCRS
	return t[0]*col + t[1]*row + t[2], t[3]*col + t[4]*row + t[5]
}

// ToGrid maps world coordinates to continuous pixel coordinates.
func (g GridGeometry) ToGrid(x, y float64) (col, row float64) {
	t := g.GridToCRS
	det := t[0]*t[4] - t[1]*t[3]
	if det == 0 {
		return math.NaN(), math.NaN()
	}
	dx, dy := x-t[2], y-t[5]
	col = (t[4]*dx - t[1]*dy) / det
	row = (-t[3]*dx + t[0]*dy) / det
	return
}

// Resolution returns the length of one pixel step along each grid axis.
func (g GridGeometry) Resolution() (resX, resY float64) {
	t := g.GridToCRS
	return math.Hypot(t[0], t[3]), math.Hypot(t[1], t[4])
}

// IsNorthUp reports whether the grid has no rotation or shear.
func (g GridGeometry) IsNorthUp() bool {
	return g.GridToCRS[1] == 0 && g.GridToCRS[3] == 0 && g.GridToCRS[0] > 0 && g.GridToCRS[4] < 0
}

// Envelope returns the world bounding box of the full pixel extent.
func (g GridGeometry) Envelope() coord.Envelope {
	w, h := float64(g.Width), float64(g.Height)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := g.ToWorld(c[0], c[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return coord.NewEnvelope(minX, minY, maxX, maxY, g.CRS)
}

// PixelArea returns width*height without overflow.
func (g GridGeometry) PixelArea() uint64 {
	if g.Width <= 0 || g.Height <= 0 {
		return 0
	}
	return uint64(g.Width) * uint64(g.Height)
}

// IsEmpty reports whether the grid has no pixels.
func (g GridGeometry) IsEmpty() bool { return g.Width <= 0 || g.Height <= 0 }

// Window returns the sub-grid covering env, snapped outward to whole pixels
// and clamped to the grid. ok is false when env misses the grid entirely.
func (g GridGeometry) Window(env coord.Envelope) (win GridGeometry, col0, row0 int, ok bool) {
	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{{env.Min[0], env.Min[1]}, {env.Max[0], env.Min[1]}, {env.Min[0], env.Max[1]}, {env.Max[0], env.Max[1]}} {
		col, row := g.ToGrid(c[0], c[1])
		minC, maxC = math.Min(minC, col), math.Max(maxC, col)
		minR, maxR = math.Min(minR, row), math.Max(maxR, row)
	}
	c0 := max(int(math.Floor(minC+1e-9)), 0)
	r0 := max(int(math.Floor(minR+1e-9)), 0)
	c1 := min(int(math.Ceil(maxC-1e-9)), g.Width)
	r1 := min(int(math.Ceil(maxR-1e-9)), g.Height)
	if c1 <= c0 || r1 <= r0 {
		return GridGeometry{}, 0, 0, false
	}
	x0, y0 := g.ToWorld(float64(c0), float64(r0))
	t := g.GridToCRS
	return GridGeometry{
		Width:     c1 - c0,
		Height:    r1 - r0,
		GridToCRS: f64.Aff3{t[0], t[1], x0, t[3], t[4], y0},
		CRS:       g.CRS,
	}, c0, r0, true
}

// Scaled returns a grid over the same origin whose pixels are sx, sy times
// the size of g's pixels, with the given pixel extent.
func (g GridGeometry) Scaled(sx, sy float64, width, height int) GridGeometry {
	t := g.GridToCRS
	return GridGeometry{
		Width:     width,
		Height:    height,
		GridToCRS: f64.Aff3{t[0] * sx, t[1] * sy, t[2], t[3] * sx, t[4] * sy, t[5]},
		CRS:       g.CRS,
	}
}

func (g GridGeometry) String() string {
	rx, ry := g.Resolution()
	return fmt.Sprintf("%dx%d@%gx%g %s", g.Width, g.Height, rx, ry, g.CRS)
}
