// Package resolution decides the grid an extraction reads and delivers:
// native resolution, the finest granule resolution of a mosaic, or an
// explicit output size honoring overview levels.
package resolution

import (
	"context"
	"fmt"
	"strings"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/resample"
	"github.com/pspoerri/geoextract/internal/roi"
)

// OverviewPolicy picks the pyramid level for an explicit output size.
type OverviewPolicy int

const (
	// Nearest takes the level whose resolution is closest to the request.
	Nearest OverviewPolicy = iota
	// Quality takes the coarsest level that is not coarser than requested.
	Quality
	// Speed takes the finest level that is not finer than requested.
	Speed
	// Ignore always reads full resolution.
	Ignore
)

func (p OverviewPolicy) String() string {
	switch p {
	case Quality:
		return "quality"
	case Speed:
		return "speed"
	case Ignore:
		return "ignore"
	default:
		return "nearest"
	}
}

// ParsePolicy accepts the names printed by String. Empty means Nearest.
func ParsePolicy(s string) (OverviewPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest":
		return Nearest, nil
	case "quality":
		return Quality, nil
	case "speed":
		return Speed, nil
	case "ignore":
		return Ignore, nil
	}
	return Nearest, fmt.Errorf("unknown overview policy %q", s)
}

// Request carries what a selector needs to know about an extraction.
type Request struct {
	Source raster.Source
	// ROI is nil when the whole dataset is requested.
	ROI *roi.Native
	// Filter narrows granule queries; nil matches everything.
	Filter filter.Filter
	// Width and Height request an explicit output size; 0 leaves an axis free.
	Width, Height int
	Interp        raster.Interpolation
	Policy        OverviewPolicy
	// Tolerance is a percentage: granule resolutions within it of the
	// current finest one do not replace it.
	Tolerance float64
}

// Scale is the affine resampling step applied after reading.
type Scale struct {
	// SX and SY are source pixels per output pixel.
	SX, SY        float64
	Width, Height int
}

// Plan tells the extractor what to read and what to deliver, both in the
// native CRS of the source.
type Plan struct {
	// Grid is the delivered grid.
	Grid raster.GridGeometry
	// Read is the grid requested from the reader at Level.
	Read  raster.GridGeometry
	Level int
	// Scale is nil when the read is passed through unchanged.
	Scale *Scale
	// Empty is set when the ROI misses the data; nothing needs reading.
	Empty bool
}

// Selector computes a Plan for a request.
type Selector interface {
	Select(ctx context.Context, req Request) (Plan, error)
}

// Choose picks the selector for req: an explicit size wins, then granule
// resolution descriptors of a structured source, then native resolution.
func Choose(req Request) Selector {
	switch {
	case req.Width > 0 || req.Height > 0:
		return SizeSelector{}
	case req.Source.Structured() && req.Source.Granules.Descriptors().HasResolution():
		return GranuleSelector{}
	default:
		return NativeSelector{}
	}
}

// Select runs the selector Choose picks.
func Select(ctx context.Context, req Request) (Plan, error) {
	return Choose(req).Select(ctx, req)
}

// Deliver returns the grid the output of plan ends up on in target and
// whether a reprojection is needed to get there. A zero target, a CRS equal
// to the native one or an identity transform all keep plan.Grid. Explicit
// sizes are kept when reprojecting: the reprojected envelope is divided into
// the same number of pixels.
func Deliver(plan Plan, explicitSize bool, target coord.CRS) (raster.GridGeometry, bool, error) {
	native := plan.Grid.CRS
	if target.IsZero() || target.Equal(native) {
		return plan.Grid, false, nil
	}
	t, err := coord.FindTransform(native, target)
	if err != nil {
		return raster.GridGeometry{}, false, err
	}
	if t.IsIdentity() {
		g := plan.Grid
		g.CRS = target
		return g, false, nil
	}
	if !explicitSize {
		g, err := resample.WarpGrid(plan.Grid, target)
		return g, true, err
	}
	env, err := plan.Grid.Envelope().To(target)
	if err != nil {
		return raster.GridGeometry{}, false, err
	}
	return raster.GridForSize(env, plan.Grid.Width, plan.Grid.Height), true, nil
}

// readEnvelope intersects the native envelope with the safe ROI envelope.
// ok is false when they do not overlap.
func readEnvelope(req Request) (coord.Envelope, bool) {
	env := req.Source.Reader.Envelope()
	if req.ROI == nil {
		return env, !env.IsEmpty()
	}
	return env.Intersection(req.ROI.SafeEnvelope())
}

// NativeSelector reads at native resolution over the ROI-reduced native
// envelope, snapped to the native pixel grid.
type NativeSelector struct{}

func (NativeSelector) Select(ctx context.Context, req Request) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	env, ok := readEnvelope(req)
	if !ok {
		return Plan{Empty: true}, nil
	}
	win, _, _, ok := req.Source.Reader.Grid().Window(env)
	if !ok {
		return Plan{Empty: true}, nil
	}
	return Plan{Grid: win, Read: win}, nil
}
