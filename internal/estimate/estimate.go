// Package estimate implements the pre-flight cost checks run before an
// extraction. Estimates only look at metadata: grid sizes, band layouts and
// feature counts. No pixels are read and no features are decoded beyond what
// a source needs to count them.
package estimate

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/failure"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/limits"
	"github.com/pspoerri/geoextract/internal/logger"
	"github.com/pspoerri/geoextract/internal/metrics"
	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/resolution"
	"github.com/pspoerri/geoextract/internal/roi"
	"github.com/pspoerri/geoextract/internal/vector"
)

// gridCeiling is the largest pixel count windowed reads can address.
const gridCeiling = math.MaxInt32

const stage = "estimate"

// RasterCost is the metadata-derived size of a raster extraction.
type RasterCost struct {
	PixelArea       uint64
	TargetPixelArea uint64
	ByteSize        uint64
}

// VectorCost is the number of features a vector extraction would write.
type VectorCost struct {
	FeatureCount uint64
}

// Decision is the outcome of an estimate. Exactly one of Raster and Vector
// is set.
type Decision struct {
	Accepted bool
	Reason   string
	Raster   *RasterCost
	Vector   *VectorCost
}

// Err converts a rejection into a limit-exceeded failure.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return failure.Limitf("%s", d.Reason)
}

// Check folds the result of an estimate into a single error: the estimate's
// own error, a limit-exceeded failure for a rejection, or nil.
func Check(d Decision, err error) error {
	if err != nil {
		return err
	}
	return d.Err()
}

// RasterInput describes a raster extraction to estimate.
type RasterInput struct {
	// Plan is the resolution request the extractor would issue.
	Plan resolution.Request
	// Bands selects band indices; nil means all bands.
	Bands []int
	// Target is the output CRS; zero keeps the native one.
	Target coord.CRS
}

// VectorInput describes a vector extraction to estimate.
type VectorInput struct {
	Source vector.Source
	// ROI is nil when the whole layer is requested.
	ROI    *roi.Native
	Filter filter.Filter
}

// Estimator checks requests against one limits snapshot.
type Estimator struct {
	Limits  limits.Snapshot
	Metrics *metrics.Recorder
	Log     *zerolog.Logger
}

func (e *Estimator) decide(ctx context.Context, kind string, d Decision) Decision {
	e.Metrics.Decision(kind, d.Accepted)
	if d.Accepted {
		logger.FromContext(ctx, e.Log).Debug().Str("kind", kind).Msg("estimate accepted")
	} else {
		logger.FromContext(ctx, e.Log).Warn().Str("kind", kind).Str("reason", d.Reason).Msg("estimate rejected")
	}
	return d
}

// Raster estimates the pixel area and raw byte size of a raster extraction
// from the same plan the extractor computes.
func (e *Estimator) Raster(ctx context.Context, in RasterInput) (Decision, error) {
	bands, err := raster.PickBands(in.Plan.Source.Reader.Bands(), in.Bands)
	if err != nil {
		return Decision{}, failure.New(failure.Validation, stage, err)
	}
	plan, err := resolution.Select(ctx, in.Plan)
	if err != nil {
		return Decision{}, wrap(ctx, err)
	}
	if plan.Empty {
		return e.decide(ctx, "raster", Decision{
			Accepted: true,
			Reason:   "region of interest does not intersect the data",
			Raster:   &RasterCost{},
		}), nil
	}

	cost := &RasterCost{PixelArea: plan.Grid.PixelArea()}
	cost.TargetPixelArea = cost.PixelArea
	explicit := in.Plan.Width > 0 || in.Plan.Height > 0
	if target, warp, err := resolution.Deliver(plan, explicit, in.Target); err != nil {
		return Decision{}, wrap(ctx, err)
	} else if warp {
		cost.TargetPixelArea = target.PixelArea()
	}
	cost.ByteSize = cost.PixelArea * uint64(raster.SumBits(bands)) / 8

	d := Decision{Accepted: true, Raster: cost}
	lim := e.Limits
	switch {
	case cost.PixelArea >= gridCeiling:
		d.Accepted, d.Reason = false, fmt.Sprintf("raster of %d pixels exceeds the addressable grid size", cost.PixelArea)
	case cost.TargetPixelArea >= gridCeiling:
		d.Accepted, d.Reason = false, fmt.Sprintf("reprojected raster of %d pixels exceeds the addressable grid size", cost.TargetPixelArea)
	case lim.MaxRasterPixels > 0 && cost.PixelArea > lim.MaxRasterPixels:
		d.Accepted, d.Reason = false, fmt.Sprintf("raster of %d pixels exceeds the limit of %d", cost.PixelArea, lim.MaxRasterPixels)
	case lim.MaxWriteBytes > 0 && cost.ByteSize > lim.MaxWriteBytes:
		d.Accepted, d.Reason = false, fmt.Sprintf("raster of %d bytes exceeds the write limit of %d", cost.ByteSize, lim.MaxWriteBytes)
	}
	return e.decide(ctx, "raster", d), nil
}

// Vector counts the features matching the ROI and the filter.
func (e *Estimator) Vector(ctx context.Context, in VectorInput) (Decision, error) {
	f := in.Filter
	if in.ROI != nil {
		f = filter.Conjoin(filter.Intersects{Geometry: in.ROI.SafeInNative().Geom}, f)
	}
	n, err := in.Source.Count(ctx, filter.Simplify(f))
	if err != nil {
		return Decision{}, wrap(ctx, err)
	}
	d := Decision{Accepted: true, Vector: &VectorCost{FeatureCount: n}}
	if limit := e.Limits.MaxFeatures; limit > 0 && n > limit {
		d.Accepted, d.Reason = false, fmt.Sprintf("%d features exceed the limit of %d", n, limit)
	}
	return e.decide(ctx, "vector", d), nil
}

func wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return failure.New(failure.Canceled, stage, err)
	}
	return failure.Wrap(err, failure.Processing, "", stage)
}
