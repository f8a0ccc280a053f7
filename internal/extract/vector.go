package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/encode"
	"github.com/pspoerri/geoextract/internal/estimate"
	"github.com/pspoerri/geoextract/internal/failure"
	"github.com/pspoerri/geoextract/internal/fgb"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/logger"
	"github.com/pspoerri/geoextract/internal/progress"
	"github.com/pspoerri/geoextract/internal/resource"
	"github.com/pspoerri/geoextract/internal/roi"
	"github.com/pspoerri/geoextract/internal/vector"
)

// featuresPerCheck is how often the write loop polls for cancellation.
const featuresPerCheck = 256

// VectorRequest describes one vector extraction.
type VectorRequest struct {
	Layer  string
	Source vector.Source
	Output string
	Mime   string
	// Target is the output CRS; zero keeps the native CRS, except for
	// GeoJSON which is always written in EPSG:4326.
	Target coord.CRS
	ROI    *roi.ROI
	// Clip trims geometries to the precise ROI instead of its envelope.
	Clip   bool
	Filter filter.Filter
}

// Vector runs a vector extraction.
func (e *Extractor) Vector(ctx context.Context, req VectorRequest) (Result, error) {
	return e.run(ctx, "vector", req.Layer, func(ctx context.Context, res *resource.Manager) (Result, error) {
		return e.vector(ctx, req, res)
	})
}

func (e *Extractor) vector(ctx context.Context, req VectorRequest, res *resource.Manager) (Result, error) {
	l := e.listener()
	log := logger.FromContext(ctx, e.Log)
	if err := progress.Checkpoint(ctx, l, StageResolve, 0); err != nil {
		return Result{}, err
	}
	if err := requireOutput(req.Output); err != nil {
		return Result{}, err
	}
	if req.Source == nil {
		return Result{}, failure.New(failure.Validation, StageResolve, fmt.Errorf("no feature source"))
	}
	enc, err := encode.NewFeature(req.Mime)
	if err != nil {
		return Result{}, failure.New(failure.Validation, StageResolve, err)
	}
	native := req.Source.Schema().CRS
	if native.IsZero() {
		return Result{}, failure.New(failure.Validation, StageResolve, coord.ErrNoCRS)
	}
	target := req.Target
	if target.IsZero() {
		target = native
		if !encode.SupportedCRS(enc.Mime(), target.Code()) {
			target = coord.WGS84()
		}
	}
	if !encode.SupportedCRS(enc.Mime(), target.Code()) {
		return Result{}, failure.Validationf("%s cannot be written in %s", enc.Mime(), target.Identifier())
	}

	var bound *roi.Native
	if req.ROI != nil {
		n, err := req.ROI.BindNative(native)
		if err != nil {
			return Result{}, err
		}
		bound = &n
	}

	var stats Stats
	if err := progress.Checkpoint(ctx, l, StageEstimate, 0.05); err != nil {
		return Result{}, err
	}
	d, err := e.estimator().Vector(ctx, estimate.VectorInput{Source: req.Source, ROI: bound, Filter: req.Filter})
	stats.Estimate = d
	if err := estimate.Check(d, err); err != nil {
		return Result{}, err
	}

	if err := progress.Checkpoint(ctx, l, StageRead, 0.1); err != nil {
		return Result{}, err
	}
	q := req.Filter
	if bound != nil {
		q = filter.Conjoin(filter.Intersects{Geometry: bound.SafeInNative().Geom}, q)
	}
	q = filter.Simplify(q)
	log.Debug().Stringer("filter", q).Msg("feature query")
	it, err := req.Source.Query(ctx, q)
	if err != nil {
		return Result{}, fail(StageRead, err)
	}
	res.Track("feature query", it)

	tr, err := coord.FindTransform(native, target)
	if err != nil {
		return Result{}, fail(StageReproject, err)
	}
	warp := !tr.IsIdentity()
	if !req.Target.IsZero() {
		e.Metrics.Reprojection("vector", warp)
	}
	if warp {
		it = vector.Reproject(it, tr)
	}
	if bound != nil {
		t, err := bound.BindTarget(target)
		if err != nil {
			return Result{}, err
		}
		it = vector.Clip(it, t.TargetROI(req.Clip).Geom, req.Clip)
	}

	if err := progress.Checkpoint(ctx, l, StageEncode, 0.2); err != nil {
		return Result{}, err
	}
	out, err := e.openOutput(res, enc.Extension(), enc.Mime())
	if err != nil {
		return Result{}, err
	}
	count, encErr := e.writeFeatures(ctx, enc, out, it, target, d.Vector.FeatureCount)
	if errors.Is(encErr, fgb.ErrNoFeatures) {
		out.sink.Close()
		return Result{}, failure.New(failure.Validation, StageEncode, fmt.Errorf("no features to write: %w", encErr))
	}
	n, sum, err := out.finish(res, encErr, req.Output)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Path:         req.Output,
		Mime:         enc.Mime(),
		Bytes:        n,
		Checksum:     sum,
		FeatureCount: count,
		Reprojected:  warp,
		Clipped:      bound != nil && req.Clip,
		Stats:        stats,
	}, nil
}

// writeFeatures streams it into the encoder. expected scales progress; the
// feature limit is enforced again in case the source grew since the estimate.
func (e *Extractor) writeFeatures(ctx context.Context, enc encode.FeatureEncoder, out *output, it vector.Iterator, crs coord.CRS, expected uint64) (uint64, error) {
	w, err := enc.NewWriter(out.sink, crs)
	if err != nil {
		return 0, err
	}
	l := e.listener()
	var n uint64
	for it.Next() {
		if n%featuresPerCheck == 0 {
			f := 0.2
			if expected > 0 {
				f += 0.7 * float64(n) / float64(expected)
			}
			if err := progress.Checkpoint(ctx, l, StageEncode, min(f, 0.9)); err != nil {
				return n, err
			}
		}
		if limit := e.Limits.MaxFeatures; limit > 0 && n >= limit {
			return n, failure.Limitf("more than %d features", limit)
		}
		if err := w.Write(it.Feature()); err != nil {
			return n, err
		}
		n++
	}
	if err := it.Err(); err != nil {
		return n, err
	}
	return n, w.Close()
}
