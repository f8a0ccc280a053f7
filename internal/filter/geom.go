package filter

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// GeometriesIntersect reports whether two planar geometries share at least
// one point. Boundaries touching counts as intersecting.
func GeometriesIntersect(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	pa, sa, ga := decompose(a)
	pb, sb, gb := decompose(b)

	for _, p := range pa {
		if containedInAny(gb, p) || onAnySegment(sb, p) || containsPoint(pb, p) {
			return true
		}
	}
	for _, p := range pb {
		if containedInAny(ga, p) || onAnySegment(sa, p) {
			return true
		}
	}
	for _, s := range sa {
		for _, t := range sb {
			if SegmentsIntersect(s[0], s[1], t[0], t[1]) {
				return true
			}
		}
	}
	// One side fully inside a polygon of the other, no crossings.
	for _, s := range sa {
		if containedInAny(gb, s[0]) {
			return true
		}
	}
	for _, s := range sb {
		if containedInAny(ga, s[0]) {
			return true
		}
	}
	return false
}

// decompose splits a geometry into lone points, segments and polygons.
// Polygon rings contribute their edges to the segments as well.
func decompose(g orb.Geometry) (pts []orb.Point, segs [][2]orb.Point, polys []orb.Polygon) {
	addPath := func(ls []orb.Point) {
		for i := 0; i+1 < len(ls); i++ {
			segs = append(segs, [2]orb.Point{ls[i], ls[i+1]})
		}
		if len(ls) == 1 {
			pts = append(pts, ls[0])
		}
	}
	addPoly := func(p orb.Polygon) {
		polys = append(polys, p)
		for _, r := range p {
			addPath(r)
		}
	}
	switch t := g.(type) {
	case orb.Point:
		pts = append(pts, t)
	case orb.MultiPoint:
		pts = append(pts, t...)
	case orb.LineString:
		addPath(t)
	case orb.MultiLineString:
		for _, ls := range t {
			addPath(ls)
		}
	case orb.Ring:
		addPoly(orb.Polygon{t})
	case orb.Polygon:
		addPoly(t)
	case orb.MultiPolygon:
		for _, p := range t {
			addPoly(p)
		}
	case orb.Bound:
		addPoly(t.ToPolygon())
	case orb.Collection:
		for _, c := range t {
			p, s, g := decompose(c)
			pts = append(pts, p...)
			segs = append(segs, s...)
			polys = append(polys, g...)
		}
	}
	return
}

func containedInAny(polys []orb.Polygon, p orb.Point) bool {
	for _, poly := range polys {
		if planar.PolygonContains(poly, p) {
			return true
		}
	}
	return false
}

func containsPoint(pts []orb.Point, p orb.Point) bool {
	for _, q := range pts {
		if q.Equal(p) {
			return true
		}
	}
	return false
}

func onAnySegment(segs [][2]orb.Point, p orb.Point) bool {
	for _, s := range segs {
		if cross(s[0], s[1], p) == 0 && onSegment(s[0], s[1], p) {
			return true
		}
	}
	return false
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// onSegment assumes c is collinear with ab.
func onSegment(a, b, c orb.Point) bool {
	return min(a[0], b[0]) <= c[0] && c[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= c[1] && c[1] <= max(a[1], b[1])
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// SegmentsIntersect is the classic orientation test, including touching and
// collinear overlap.
func SegmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := sign(cross(q1, q2, p1))
	d2 := sign(cross(q1, q2, p2))
	d3 := sign(cross(p1, p2, q1))
	d4 := sign(cross(p1, p2, q2))
	if d1*d2 < 0 && d3*d4 < 0 {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

// SegmentIntersection returns the crossing parameter t along p1->p2 of a
// proper intersection with q1->q2.
func SegmentIntersection(p1, p2, q1, q2 orb.Point) (t float64, ok bool) {
	r := orb.Point{p2[0] - p1[0], p2[1] - p1[1]}
	s := orb.Point{q2[0] - q1[0], q2[1] - q1[1]}
	den := r[0]*s[1] - r[1]*s[0]
	if den == 0 {
		return 0, false
	}
	qp := orb.Point{q1[0] - p1[0], q1[1] - p1[1]}
	t = (qp[0]*s[1] - qp[1]*s[0]) / den
	u := (qp[0]*r[1] - qp[1]*r[0]) / den
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}
