package extract

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/crscompat"
	"github.com/pspoerri/geoextract/internal/encode"
	"github.com/pspoerri/geoextract/internal/estimate"
	"github.com/pspoerri/geoextract/internal/failure"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/logger"
	"github.com/pspoerri/geoextract/internal/progress"
	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/resample"
	"github.com/pspoerri/geoextract/internal/resolution"
	"github.com/pspoerri/geoextract/internal/resource"
	"github.com/pspoerri/geoextract/internal/roi"
)

// RasterRequest describes one raster extraction.
type RasterRequest struct {
	Layer  string
	Source raster.Source
	// Output is the destination path.
	Output string
	Mime   string
	// Target is the output CRS; zero keeps the native CRS.
	Target coord.CRS
	// ROI is nil to extract the whole coverage.
	ROI  *roi.ROI
	Clip bool
	// Filter selects granules of a structured source.
	Filter filter.Filter
	Interp raster.Interpolation
	// Width and Height request an explicit output size; 0 leaves an axis free.
	Width, Height int
	// Bands selects band indices into the declared bands; nil keeps all.
	Bands  []int
	Params encode.Params
	Policy resolution.OverviewPolicy
	// MinimizeReprojections reads a heterogeneous mosaic directly in the
	// target CRS when granules stored in it cover the ROI.
	MinimizeReprojections bool
	// PreferNativeCRS asks for the same check even without
	// MinimizeReprojections.
	PreferNativeCRS bool
	// Tolerance is the granule resolution tolerance in percent.
	Tolerance   float64
	VerticalCRS string
}

// Raster runs a raster extraction.
func (e *Extractor) Raster(ctx context.Context, req RasterRequest) (Result, error) {
	return e.run(ctx, "raster", req.Layer, func(ctx context.Context, res *resource.Manager) (Result, error) {
		return e.raster(ctx, req, res)
	})
}

func (e *Extractor) raster(ctx context.Context, req RasterRequest, res *resource.Manager) (Result, error) {
	l := e.listener()
	log := logger.FromContext(ctx, e.Log)
	if err := progress.Checkpoint(ctx, l, StageResolve, 0); err != nil {
		return Result{}, err
	}
	if err := requireOutput(req.Output); err != nil {
		return Result{}, err
	}
	if req.Source.Reader == nil {
		return Result{}, failure.New(failure.Validation, StageResolve, fmt.Errorf("no raster source"))
	}
	params := req.Params
	if params.CompressionLevel == 0 {
		params.CompressionLevel = e.Limits.CompressionLevel
	}
	enc, err := encode.NewRaster(req.Mime, params)
	if err != nil {
		return Result{}, failure.New(failure.Validation, StageResolve, err)
	}

	src := req.Source
	native := src.Reader.CRS()
	if native.IsZero() {
		return Result{}, failure.New(failure.Validation, StageResolve, coord.ErrNoCRS)
	}
	var stats Stats
	if req.MinimizeReprojections || req.PreferNativeCRS {
		d, err := crscompat.Resolve(ctx, crscompat.Request{
			MinimizeReprojections: true,
			ROI:                   req.ROI,
			Target:                req.Target,
			Source:                src,
			SupportedCRS:          func(code int) bool { return encode.SupportedCRS(enc.Mime(), code) },
			Filter:                req.Filter,
		})
		if err != nil {
			return Result{}, err
		}
		stats.Compat = d.Reason
		if rt, ok := src.Granules.(raster.Retargeter); d.UseTarget && ok {
			if src, err = rt.InCRS(req.Target); err != nil {
				return Result{}, fail(StageResolve, err)
			}
			res.Track("retargeted source", src.Reader)
			native = req.Target
		}
		log.Debug().Bool("use_target", d.UseTarget).Str("reason", d.Reason).Msg("crs compatibility")
	}

	var bound *roi.Native
	if req.ROI != nil {
		n, err := req.ROI.BindNative(native)
		if err != nil {
			return Result{}, err
		}
		bound = &n
		log.Debug().
			Bool("bbox", req.ROI.IsBoundingBox()).
			Floats64("safe_envelope", envelopeFloats(n.SafeEnvelope())).
			Msg("roi bound to native crs")
	}
	target := req.Target
	if target.IsZero() {
		target = native
	}

	rreq := resolution.Request{
		Source:    src,
		ROI:       bound,
		Filter:    req.Filter,
		Width:     req.Width,
		Height:    req.Height,
		Interp:    req.Interp,
		Policy:    req.Policy,
		Tolerance: req.Tolerance,
	}
	if err := progress.Checkpoint(ctx, l, StageEstimate, 0.05); err != nil {
		return Result{}, err
	}
	d, err := e.estimator().Raster(ctx, estimate.RasterInput{Plan: rreq, Bands: req.Bands, Target: target})
	stats.Estimate = d
	if err := estimate.Check(d, err); err != nil {
		return Result{}, err
	}

	if err := progress.Checkpoint(ctx, l, StagePlan, 0.1); err != nil {
		return Result{}, err
	}
	plan, err := resolution.Select(ctx, rreq)
	if err != nil {
		return Result{}, fail(StagePlan, err)
	}
	if plan.Empty {
		return Result{}, failure.New(failure.Validation, StagePlan, fmt.Errorf("region of interest does not intersect the coverage"))
	}
	stats.Read = plan.Read
	deliver, warp, err := resolution.Deliver(plan, req.Width > 0 || req.Height > 0, target)
	if err != nil {
		return Result{}, fail(StagePlan, err)
	}
	log.Debug().
		Stringer("read", plan.Read).
		Int("level", plan.Level).
		Stringer("deliver", deliver).
		Bool("reproject", warp).
		Msg("raster plan")

	if err := progress.Checkpoint(ctx, l, StageRead, 0.2); err != nil {
		return Result{}, err
	}
	r, err := src.Reader.Read(ctx, raster.ReadParams{Grid: plan.Read, Level: plan.Level, Bands: req.Bands, Interp: req.Interp})
	if err != nil {
		return Result{}, fail(StageRead, err)
	}
	res.Track("read raster", r)

	if plan.Scale != nil {
		if err := progress.Checkpoint(ctx, l, StageScale, 0.4); err != nil {
			return Result{}, err
		}
		s := plan.Scale
		if r, err = resample.Affine(ctx, r, s.SX, s.SY, s.Width, s.Height, req.Interp); err != nil {
			return Result{}, fail(StageScale, err)
		}
		res.Track("scaled raster", r)
	}

	if !req.Target.IsZero() {
		e.Metrics.Reprojection("raster", warp)
	}
	if warp {
		if err := progress.Checkpoint(ctx, l, StageReproject, 0.5); err != nil {
			return Result{}, err
		}
		if r, err = resample.Warp(ctx, r, deliver, req.Interp); err != nil {
			return Result{}, fail(StageReproject, err)
		}
		res.Track("reprojected raster", r)
	} else if !r.Grid.CRS.Equal(target) {
		r.Grid.CRS = target
	}

	if bound != nil {
		if err := progress.Checkpoint(ctx, l, StageClip, 0.7); err != nil {
			return Result{}, err
		}
		t, err := bound.BindTarget(target)
		if err != nil {
			return Result{}, err
		}
		region := t.TargetROI(req.Clip)
		cropped, ok := r.Crop(region.Envelope())
		if !ok {
			return Result{}, failure.New(failure.Validation, StageClip, fmt.Errorf("region of interest does not intersect the output"))
		}
		if cropped != r {
			res.Track("clipped raster", cropped)
			r = cropped
		}
		if req.Clip {
			maskOutside(r, region.Geom)
		}
	}

	if err := progress.Checkpoint(ctx, l, StageEncode, 0.8); err != nil {
		return Result{}, err
	}
	out, err := e.openOutput(res, enc.Extension(), enc.Mime())
	if err != nil {
		return Result{}, err
	}
	encErr := enc.Encode(ctx, out.sink, r)
	n, sum, err := out.finish(res, encErr, req.Output)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Path:        req.Output,
		Mime:        enc.Mime(),
		Bytes:       n,
		Checksum:    sum,
		Grid:        r.Grid,
		Level:       plan.Level,
		Reprojected: warp,
		Clipped:     bound != nil && req.Clip,
		VerticalCRS: req.VerticalCRS,
		Stats:       stats,
	}, nil
}

func envelopeFloats(e coord.Envelope) []float64 {
	return []float64{e.Min[0], e.Min[1], e.Max[0], e.Max[1]}
}

// maskOutside invalidates pixels whose center is not inside region.
func maskOutside(r *raster.Raster, region orb.Geometry) {
	var inside func(orb.Point) bool
	switch g := region.(type) {
	case orb.Polygon:
		inside = func(p orb.Point) bool { return planar.PolygonContains(g, p) }
	case orb.MultiPolygon:
		inside = func(p orb.Point) bool { return planar.MultiPolygonContains(g, p) }
	default:
		return
	}
	for row := 0; row < r.Grid.Height; row++ {
		for col := 0; col < r.Grid.Width; col++ {
			x, y := r.Grid.ToWorld(float64(col)+0.5, float64(row)+0.5)
			if !inside(orb.Point{x, y}) {
				r.Invalidate(col, row)
			}
		}
	}
}
