// Package roi binds a region of interest to the native and target CRSs of
// an extraction. Each binding step returns a new value of a distinct type:
// ROI, then Native, then Target.
package roi

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/failure"
	"github.com/pspoerri/geoextract/internal/filter"
)

// ROI is a validated polygon or multipolygon bound to its CRS.
type ROI struct {
	original coord.Geometry
	bbox     bool
}

// New validates g. Bounds are converted to polygons and flagged as
// bounding boxes, as are polygons made of a single axis-aligned rectangle.
func New(g coord.Geometry) (ROI, error) {
	if g.CRS.IsZero() {
		return ROI{}, failure.Validationf("roi: %w", coord.ErrNoCRS)
	}
	if g.Geom == nil {
		return ROI{}, failure.Validationf("roi: geometry is nil")
	}

	var bbox bool
	switch geom := g.Geom.(type) {
	case orb.Bound:
		if !finite(geom.Min) || !finite(geom.Max) || geom.Min[0] >= geom.Max[0] || geom.Min[1] >= geom.Max[1] {
			return ROI{}, failure.Validationf("roi: empty or invalid bound %v", geom)
		}
		g.Geom = geom.ToPolygon()
		bbox = true
	case orb.Polygon:
		if err := validPolygon(geom); err != nil {
			return ROI{}, err
		}
		g.Geom = orb.Clone(geom)
		bbox = isRectangle(geom)
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return ROI{}, failure.Validationf("roi: empty multipolygon")
		}
		for _, p := range geom {
			if err := validPolygon(p); err != nil {
				return ROI{}, err
			}
		}
		g.Geom = orb.Clone(geom)
		bbox = len(geom) == 1 && isRectangle(geom[0])
	default:
		return ROI{}, failure.Validationf("roi: unsupported geometry type %s", g.Geom.GeoJSONType())
	}
	return ROI{original: g, bbox: bbox}, nil
}

// FromWKT parses a WKT polygon or multipolygon expressed in crs.
func FromWKT(s string, crs coord.CRS) (ROI, error) {
	geom, err := wkt.Unmarshal(s)
	if err != nil {
		return ROI{}, failure.Validationf("roi: parsing WKT: %w", err)
	}
	return New(coord.Geometry{Geom: geom, CRS: crs})
}

// Original returns the geometry as supplied.
func (r ROI) Original() coord.Geometry { return r.original }

// IsBoundingBox reports whether the ROI is an axis-aligned rectangle.
func (r ROI) IsBoundingBox() bool { return r.bbox }

// BindNative reprojects the ROI into the native CRS of the data. The safe
// variant of a bounding box is the envelope of the reprojected rectangle.
func (r ROI) BindNative(native coord.CRS) (Native, error) {
	if native.IsZero() {
		return Native{}, failure.Validationf("roi: native %w", coord.ErrNoCRS)
	}
	in, err := r.original.To(native)
	if err != nil {
		return Native{}, failure.New(failure.Processing, "bind-native", err)
	}
	safe := in
	if r.bbox {
		safe = envelopeGeometry(in)
	}
	return Native{ROI: r, native: native, inNative: in, safeInNative: safe}, nil
}

// Native is an ROI bound to the native CRS of the data.
type Native struct {
	ROI
	native       coord.CRS
	inNative     coord.Geometry
	safeInNative coord.Geometry
}

// NativeCRS is the CRS the ROI is bound to for reads.
func (n Native) NativeCRS() coord.CRS { return n.native }

// InNative is the precise ROI in the native CRS.
func (n Native) InNative() coord.Geometry { return n.inNative }

// SafeInNative drives reads in the native CRS.
func (n Native) SafeInNative() coord.Geometry { return n.safeInNative }

// SafeEnvelope is the envelope of SafeInNative.
func (n Native) SafeEnvelope() coord.Envelope { return n.safeInNative.Envelope() }

// BindTarget completes the binding with the output CRS. The safe target
// variant is derived from the safe native one so it covers everything that
// was read. The precise target geometry comes straight from the original
// when native and target agree, otherwise it is transformed forward from
// the native geometry.
func (n Native) BindTarget(target coord.CRS) (Target, error) {
	if target.IsZero() {
		return Target{}, failure.Validationf("roi: target %w", coord.ErrNoCRS)
	}
	tr, err := coord.FindTransform(n.native, target)
	if err != nil {
		return Target{}, failure.New(failure.Processing, "bind-target", err)
	}

	safe, err := n.safeInNative.To(target)
	if err != nil {
		return Target{}, failure.New(failure.Processing, "bind-target", err)
	}
	if n.bbox {
		safe = envelopeGeometry(safe)
	}

	var precise coord.Geometry
	if tr.IsIdentity() {
		precise, err = n.original.To(target)
		if err != nil {
			return Target{}, failure.New(failure.Processing, "bind-target", err)
		}
	} else {
		precise = coord.Geometry{Geom: coord.TransformGeometry(tr, n.inNative.Geom), CRS: target}
	}

	return Target{
		Native:       n,
		target:       target,
		inTarget:     precise,
		safeInTarget: safe,
		crsEqual:     tr.IsIdentity(),
	}, nil
}

// Target is an ROI bound to both the native and the output CRS.
type Target struct {
	Native
	target       coord.CRS
	inTarget     coord.Geometry
	safeInTarget coord.Geometry
	crsEqual     bool
}

// TargetCRS is the output CRS.
func (t Target) TargetCRS() coord.CRS { return t.target }

// InTarget is the precise ROI in the output CRS.
func (t Target) InTarget() coord.Geometry { return t.inTarget }

// SafeInTarget covers everything read through SafeInNative, in the output CRS.
func (t Target) SafeInTarget() coord.Geometry { return t.safeInTarget }

// SafeTargetEnvelope is the envelope of SafeInTarget.
func (t Target) SafeTargetEnvelope() coord.Envelope { return t.safeInTarget.Envelope() }

// CRSEqual reports whether native and target CRS are related by identity.
func (t Target) CRSEqual() bool { return t.crsEqual }

// TargetROI returns the geometry used to trim the output: the precise
// polygon when clip is set, otherwise the envelope of the safe target ROI.
func (t Target) TargetROI(clip bool) coord.Geometry {
	if clip {
		return t.inTarget
	}
	return envelopeGeometry(t.safeInTarget)
}

func envelopeGeometry(g coord.Geometry) coord.Geometry {
	return coord.Geometry{Geom: g.Geom.Bound().ToPolygon(), CRS: g.CRS}
}

func validPolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return failure.Validationf("roi: empty polygon")
	}
	for i, r := range p {
		if len(r) < 4 {
			return failure.Validationf("roi: ring %d has %d points, need at least 4", i, len(r))
		}
		if !r.Closed() {
			return failure.Validationf("roi: ring %d is not closed", i)
		}
		for _, pt := range r {
			if !finite(pt) {
				return failure.Validationf("roi: ring %d has non-finite coordinate %v", i, pt)
			}
		}
		if selfIntersects(r) {
			return failure.Validationf("roi: ring %d intersects itself", i)
		}
	}
	if b := p[0].Bound(); b.Min[0] >= b.Max[0] || b.Min[1] >= b.Max[1] {
		return failure.Validationf("roi: polygon has no area")
	}
	return nil
}

// selfIntersects reports whether two non-adjacent edges of the closed ring r
// touch or cross. Repeated consecutive vertices are ignored.
func selfIntersects(r orb.Ring) bool {
	var edges [][2]orb.Point
	for i := 0; i+1 < len(r); i++ {
		if r[i] != r[i+1] {
			edges = append(edges, [2]orb.Point{r[i], r[i+1]})
		}
	}
	n := len(edges)
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			if filter.SegmentsIntersect(edges[i][0], edges[i][1], edges[j][0], edges[j][1]) {
				return true
			}
		}
	}
	return false
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// isRectangle reports whether p is a single ring whose edges are all
// horizontal or vertical and whose vertices sit on its bound.
func isRectangle(p orb.Polygon) bool {
	if len(p) != 1 || len(p[0]) != 5 {
		return false
	}
	r := p[0]
	b := r.Bound()
	for i, pt := range r {
		if (pt[0] != b.Min[0] && pt[0] != b.Max[0]) || (pt[1] != b.Min[1] && pt[1] != b.Max[1]) {
			return false
		}
		if i > 0 {
			prev := r[i-1]
			if prev[0] != pt[0] && prev[1] != pt[1] {
				return false
			}
		}
	}
	return true
}
