// Package crscompat decides whether a heterogeneous-CRS mosaic can be read
// directly in the output CRS, skipping a reprojection pass, because granules
// natively stored in that CRS cover the region of interest.
package crscompat

import (
	"context"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/failure"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/roi"
)

// Request holds the inputs of one decision. The decision is valid for the
// current request only.
type Request struct {
	MinimizeReprojections bool
	ROI                   *roi.ROI
	Target                coord.CRS
	Source                raster.Source
	// SupportedCRS reports whether the output format can carry a CRS code.
	SupportedCRS func(code int) bool
	// Filter is the caller's attribute filter; nil matches everything.
	Filter filter.Filter
}

// Decision is the outcome and the reason for it.
type Decision struct {
	UseTarget bool
	Reason    string
	// Query is the granule filter that was run, nil when preconditions failed.
	Query filter.Filter
}

// Resolve checks the preconditions and, when they hold, queries the granule
// index for granules stored in the target CRS that intersect the ROI.
func Resolve(ctx context.Context, req Request) (Decision, error) {
	switch {
	case !req.MinimizeReprojections:
		return Decision{Reason: "minimize reprojections not requested"}, nil
	case req.ROI == nil:
		return Decision{Reason: "no region of interest"}, nil
	case req.Target.IsZero():
		return Decision{Reason: "no target CRS"}, nil
	case !req.Source.Structured() || !req.Source.Granules.Descriptors().Heterogeneous():
		return Decision{Reason: "source has no per-granule CRS"}, nil
	case req.Source.Reader.CRS().Equal(req.Target):
		return Decision{Reason: "target CRS is native"}, nil
	case req.SupportedCRS != nil && !req.SupportedCRS(req.Target.Code()):
		return Decision{Reason: "format cannot encode " + req.Target.Identifier()}, nil
	}

	cat := req.Source.Granules
	inIndex, err := req.ROI.Original().To(cat.IndexCRS())
	if err != nil {
		return Decision{}, failure.New(failure.Processing, "crs-compat", err)
	}
	q := filter.Conjoin(
		filter.Intersects{Geometry: inIndex.Geom},
		filter.Equals{Property: cat.Descriptors().CRS, Value: req.Target.Identifier()},
		req.Filter,
	)
	granules, err := cat.Granules(ctx, q)
	if err != nil {
		return Decision{}, failure.New(failure.Processing, "crs-compat", err)
	}
	if len(granules) == 0 {
		return Decision{Reason: "no granule in " + req.Target.Identifier() + " intersects the ROI", Query: q}, nil
	}
	return Decision{UseTarget: true, Reason: "granules stored in " + req.Target.Identifier(), Query: q}, nil
}
