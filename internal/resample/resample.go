package resample

import (
	"context"
	"fmt"
	"math"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/raster"
)

// rowsPerCheck is how often long loops poll the context.
const rowsPerCheck = 64

// Affine resamples src onto a grid sharing its origin whose pixels are
// sx by sy source pixels, with the given output extent. Output pixel
// (c, r) samples the source at ((c+0.5)*sx, (r+0.5)*sy), so pixel corners
// stay aligned at the origin.
func Affine(ctx context.Context, src *raster.Raster, sx, sy float64, width, height int, kind raster.Interpolation) (*raster.Raster, error) {
	if !(sx > 0) || !(sy > 0) || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resample: invalid scale %gx%g to %dx%d", sx, sy, width, height)
	}
	out := raster.New(src.Grid.Scaled(sx, sy, width, height), src.Bands)
	for row := 0; row < height; row++ {
		if row%rowsPerCheck == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		fy := (float64(row) + 0.5) * sy
		for col := 0; col < width; col++ {
			fx := (float64(col) + 0.5) * sx
			for b := range src.Bands {
				if v, ok := Interpolate(src, kind, b, fx, fy); ok {
					out.Set(b, col, row, v)
				}
			}
		}
	}
	return out, nil
}

// Render fills a raster on dst by mapping each output pixel center back into
// the source grid and interpolating there. srcBands picks source band
// indices for the output bands; nil takes all of them. The source and
// destination grids may use different CRSs.
func Render(ctx context.Context, dst, srcGrid raster.GridGeometry, src Source, bands []raster.Band, srcBands []int, kind raster.Interpolation) (*raster.Raster, error) {
	if srcBands == nil {
		srcBands = make([]int, len(bands))
		for i := range srcBands {
			srcBands[i] = i
		}
	}
	if len(srcBands) != len(bands) {
		return nil, fmt.Errorf("resample: %d band indices for %d bands", len(srcBands), len(bands))
	}
	t, err := coord.FindTransform(dst.CRS, srcGrid.CRS)
	if err != nil {
		return nil, err
	}

	out := raster.New(dst, bands)
	w, h := src.Size()
	for row := 0; row < dst.Height; row++ {
		if row%rowsPerCheck == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for col := 0; col < dst.Width; col++ {
			x, y := dst.ToWorld(float64(col)+0.5, float64(row)+0.5)
			sx, sy := t.Forward(x, y)
			fx, fy := srcGrid.ToGrid(sx, sy)
			if math.IsNaN(fx) || fx < 0 || fy < 0 || fx >= float64(w) || fy >= float64(h) {
				continue
			}
			for b, sb := range srcBands {
				if v, ok := Interpolate(src, kind, sb, fx, fy); ok {
					out.Set(b, col, row, v)
				}
			}
		}
	}
	return out, nil
}

// Warp reprojects src onto dst.
func Warp(ctx context.Context, src *raster.Raster, dst raster.GridGeometry, kind raster.Interpolation) (*raster.Raster, error) {
	return Render(ctx, dst, src.Grid, src, src.Bands, nil, kind)
}

// WarpGrid derives the grid for reprojecting src into crs: it covers the
// reprojected envelope at a resolution that keeps the pixel count close to
// the source's.
func WarpGrid(src raster.GridGeometry, crs coord.CRS) (raster.GridGeometry, error) {
	env, err := src.Envelope().To(crs)
	if err != nil {
		return raster.GridGeometry{}, err
	}
	if env.IsEmpty() {
		return raster.GridGeometry{}, fmt.Errorf("resample: empty envelope after reprojection to %s", crs)
	}
	res := math.Sqrt(env.Width() * env.Height() / float64(src.PixelArea()))
	return raster.GridForEnvelope(env, res, res)
}
