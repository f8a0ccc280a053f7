package coord

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// densifySteps is the number of sub-segments each edge is split into before
// reprojection, so curved edges in the destination CRS are not under-covered.
const densifySteps = 16

// Geometry is a geometry bound to the CRS its coordinates are expressed in.
type Geometry struct {
	Geom orb.Geometry
	CRS  CRS
}

// NewGeometry binds g to crs. A nil geometry or a missing CRS is rejected.
func NewGeometry(g orb.Geometry, crs CRS) (Geometry, error) {
	if crs.IsZero() {
		return Geometry{}, ErrNoCRS
	}
	return Geometry{Geom: g, CRS: crs}, nil
}

// Envelope returns the bounding box of the geometry in its own CRS.
func (g Geometry) Envelope() Envelope {
	return Envelope{Bound: g.Geom.Bound(), CRS: g.CRS}
}

// To reprojects the geometry into dst. Edges are densified first.
func (g Geometry) To(dst CRS) (Geometry, error) {
	t, err := FindTransform(g.CRS, dst)
	if err != nil {
		return Geometry{}, err
	}
	return Geometry{Geom: TransformGeometry(t, g.Geom), CRS: dst}, nil
}

// TransformGeometry applies t to a copy of geom. Bounds are converted to
// polygons so rotation introduced by the transform is preserved.
func TransformGeometry(t *Transform, geom orb.Geometry) orb.Geometry {
	if b, ok := geom.(orb.Bound); ok {
		geom = b.ToPolygon()
	}
	if t.IsIdentity() {
		return orb.Clone(geom)
	}
	return project.Geometry(Densify(geom, densifySteps), t.ForwardPoint)
}

// Densify returns a copy of geom with every segment split into n pieces.
func Densify(geom orb.Geometry, n int) orb.Geometry {
	switch g := geom.(type) {
	case orb.Point:
		return g
	case orb.MultiPoint:
		return orb.Clone(g)
	case orb.LineString:
		return densifyPath(g, n)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(g))
		for i, ls := range g {
			out[i] = densifyPath(ls, n)
		}
		return out
	case orb.Ring:
		return orb.Ring(densifyPath(orb.LineString(g), n))
	case orb.Polygon:
		return densifyPolygon(g, n)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(g))
		for i, p := range g {
			out[i] = densifyPolygon(p, n)
		}
		return out
	case orb.Bound:
		return densifyPolygon(g.ToPolygon(), n)
	case orb.Collection:
		out := make(orb.Collection, len(g))
		for i, c := range g {
			out[i] = Densify(c, n)
		}
		return out
	}
	return orb.Clone(geom)
}

func densifyPolygon(p orb.Polygon, n int) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		out[i] = orb.Ring(densifyPath(orb.LineString(r), n))
	}
	return out
}

func densifyPath(ls orb.LineString, n int) orb.LineString {
	if len(ls) < 2 || n <= 1 {
		return append(orb.LineString(nil), ls...)
	}
	out := make(orb.LineString, 0, (len(ls)-1)*n+1)
	for i := 0; i < len(ls)-1; i++ {
		a, b := ls[i], ls[i+1]
		for k := 0; k < n; k++ {
			f := float64(k) / float64(n)
			out = append(out, orb.Point{a[0] + (b[0]-a[0])*f, a[1] + (b[1]-a[1])*f})
		}
	}
	return append(out, ls[len(ls)-1])
}

// Envelope is an axis-aligned bounding box bound to a CRS.
type Envelope struct {
	orb.Bound
	CRS CRS
}

// NewEnvelope builds an envelope from corner coordinates.
func NewEnvelope(minX, minY, maxX, maxY float64, crs CRS) Envelope {
	return Envelope{Bound: orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}, CRS: crs}
}

func (e Envelope) Width() float64  { return e.Max[0] - e.Min[0] }
func (e Envelope) Height() float64 { return e.Max[1] - e.Min[1] }

// IsEmpty reports whether the envelope covers no area.
func (e Envelope) IsEmpty() bool {
	return !(e.Width() > 0 && e.Height() > 0)
}

// Geometry returns the envelope as a polygon bound to the same CRS.
func (e Envelope) Geometry() Geometry {
	return Geometry{Geom: e.Bound.ToPolygon(), CRS: e.CRS}
}

// To reprojects the envelope into dst and returns the envelope of the
// densified result. The returned box always contains the reprojected boundary.
func (e Envelope) To(dst CRS) (Envelope, error) {
	t, err := FindTransform(e.CRS, dst)
	if err != nil {
		return Envelope{}, err
	}
	if t.IsIdentity() {
		return Envelope{Bound: e.Bound, CRS: dst}, nil
	}
	g := TransformGeometry(t, e.Bound.ToPolygon())
	return Envelope{Bound: g.Bound(), CRS: dst}, nil
}

// Intersection returns the overlap of two envelopes in the same CRS.
// ok is false when they do not overlap.
func (e Envelope) Intersection(o Envelope) (Envelope, bool) {
	minX := math.Max(e.Min[0], o.Min[0])
	minY := math.Max(e.Min[1], o.Min[1])
	maxX := math.Min(e.Max[0], o.Max[0])
	maxY := math.Min(e.Max[1], o.Max[1])
	if minX >= maxX || minY >= maxY {
		return Envelope{CRS: e.CRS}, false
	}
	return NewEnvelope(minX, minY, maxX, maxY, e.CRS), true
}

// Union returns the smallest envelope covering both.
func (e Envelope) Union(o Envelope) Envelope {
	return Envelope{Bound: e.Bound.Union(o.Bound), CRS: e.CRS}
}

// Contains reports whether o lies inside e, allowing a relative tolerance
// to absorb floating point noise from repeated reprojection.
func (e Envelope) Contains(o Envelope, relTol float64) bool {
	tx := relTol * math.Max(e.Width(), o.Width())
	ty := relTol * math.Max(e.Height(), o.Height())
	return o.Min[0] >= e.Min[0]-tx && o.Min[1] >= e.Min[1]-ty &&
		o.Max[0] <= e.Max[0]+tx && o.Max[1] <= e.Max[1]+ty
}
