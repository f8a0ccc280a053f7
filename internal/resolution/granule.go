package resolution

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/raster"
)

// GranuleSelector derives the output grid of a mosaic from the declared
// resolutions of the granules matching the ROI and filter. It takes the
// componentwise finest resolution, projected into the mosaic CRS, over the
// union of the matched granule envelopes.
type GranuleSelector struct{}

func (s GranuleSelector) Select(ctx context.Context, req Request) (Plan, error) {
	cat := req.Source.Granules
	if !req.Source.Structured() || !cat.Descriptors().HasResolution() {
		return NativeSelector{}.Select(ctx, req)
	}
	desc := cat.Descriptors()
	schema := req.Source.Reader.CRS()

	f := req.Filter
	if req.ROI != nil {
		inIndex, err := req.ROI.Original().To(cat.IndexCRS())
		if err != nil {
			return Plan{}, err
		}
		f = filter.Conjoin(filter.Intersects{Geometry: inIndex.Geom}, f)
	}
	granules, err := cat.Granules(ctx, filter.Simplify(f))
	if err != nil {
		return Plan{}, err
	}

	resX, resY := math.Inf(1), math.Inf(1)
	var union coord.Envelope
	matched := 0
	for _, g := range granules {
		rx, ry, ok := g.Resolution(desc)
		if !ok {
			continue
		}
		footprint := coord.Geometry{Geom: g.Footprint, CRS: cat.IndexCRS()}
		if desc.Heterogeneous() {
			crs, err := g.CRS(desc)
			if err != nil {
				return Plan{}, fmt.Errorf("granule %s: %w", g.ID, err)
			}
			if rx, ry, err = LocalCross(footprint, crs, schema, rx, ry); err != nil {
				return Plan{}, fmt.Errorf("granule %s: %w", g.ID, err)
			}
		}
		resX = finer(resX, rx, req.Tolerance)
		resY = finer(resY, ry, req.Tolerance)

		env, err := footprint.Envelope().To(schema)
		if err != nil {
			return Plan{}, err
		}
		if matched == 0 {
			union = env
		} else {
			union = union.Union(env)
		}
		matched++
	}
	if matched == 0 {
		return Plan{Empty: true}, nil
	}
	if req.ROI != nil {
		var ok bool
		if union, ok = union.Intersection(req.ROI.SafeEnvelope()); !ok {
			return Plan{Empty: true}, nil
		}
	}

	grid, err := raster.GridForEnvelope(union, resX, resY)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Grid: grid, Read: grid}, nil
}

// finer returns the smaller resolution. A candidate within tol percent of
// the current one keeps the current one.
func finer(cur, cand, tol float64) float64 {
	if math.IsInf(cur, 1) {
		return cand
	}
	if cand < cur*(1-tol/100) {
		return cand
	}
	return cur
}

// LocalCross projects a granule resolution from the granule CRS into the
// schema CRS. It builds a small cross at the footprint center in the granule
// CRS (center, center+dx, center+dy), maps the three points into the schema
// CRS and measures the two arm lengths, which accounts for rotation and
// shear introduced by the reprojection.
func LocalCross(footprint coord.Geometry, granule, schema coord.CRS, rx, ry float64) (float64, float64, error) {
	if granule.Equal(schema) {
		return rx, ry, nil
	}
	toGranule, err := coord.FindTransform(footprint.CRS, granule)
	if err != nil {
		return 0, 0, err
	}
	toSchema, err := coord.FindTransform(schema, granule)
	if err != nil {
		return 0, 0, err
	}
	c := toGranule.ForwardPoint(footprint.Geom.Bound().Center())
	cross := [3]orb.Point{c, {c[0] + rx, c[1]}, {c[0], c[1] + ry}}
	for i := range cross {
		cross[i] = toSchema.InversePoint(cross[i])
	}
	dx := math.Hypot(cross[1][0]-cross[0][0], cross[1][1]-cross[0][1])
	dy := math.Hypot(cross[2][0]-cross[0][0], cross[2][1]-cross[0][1])
	if !(dx > 0) || !(dy > 0) {
		return 0, 0, fmt.Errorf("degenerate resolution %gx%g after projection to %s", dx, dy, schema)
	}
	return dx, dy, nil
}
