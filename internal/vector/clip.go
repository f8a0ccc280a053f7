package vector

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/pspoerri/geoextract/internal/filter"
)

// ClipGeometry trims g to region and returns nil when nothing is left.
//
// Without precise, g is clipped to the bounding box of region. With
// precise, points are kept when region contains them, lines are split where
// they cross region's boundary and only the inside pieces are kept, and
// polygons are intersected with region. Parts of a polygon that only touch
// region along an edge or at a vertex are dropped.
func ClipGeometry(g, region orb.Geometry, precise bool) orb.Geometry {
	if g == nil || region == nil {
		return nil
	}
	b := region.Bound()
	if !precise {
		return clip.Geometry(b, orb.Clone(g))
	}
	if !b.Intersects(g.Bound()) {
		return nil
	}

	switch v := g.(type) {
	case orb.Point:
		if contains(region, v) {
			return v
		}
		return nil
	case orb.MultiPoint:
		var out orb.MultiPoint
		for _, p := range v {
			if contains(region, p) {
				out = append(out, p)
			}
		}
		return single(out)
	case orb.LineString:
		return lines(splitLine(v, region))
	case orb.MultiLineString:
		var out orb.MultiLineString
		for _, ls := range v {
			out = append(out, splitLine(ls, region)...)
		}
		return lines(out)
	case orb.Ring:
		return ClipGeometry(orb.Polygon{v}, region, true)
	case orb.Bound:
		return ClipGeometry(v.ToPolygon(), region, true)
	case orb.Polygon, orb.MultiPolygon:
		if r, ok := region.(orb.Bound); ok {
			return areal(clip.Geometry(r, orb.Clone(v)))
		}
		return intersectPolygons(v, region)
	case orb.Collection:
		var out orb.Collection
		for _, part := range v {
			if c := ClipGeometry(part, region, true); c != nil {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

// intersectPolygons computes the exact overlap of two areal geometries.
func intersectPolygons(g, region orb.Geometry) orb.Geometry {
	a, err := toGeom(g)
	if err != nil {
		return nil
	}
	b, err := toGeom(region)
	if err != nil {
		return nil
	}
	res, err := geom.Intersection(a, b)
	if err != nil || res.IsEmpty() {
		return nil
	}
	out, err := wkb.Unmarshal(res.AsBinary())
	if err != nil {
		return nil
	}
	return areal(out)
}

func toGeom(g orb.Geometry) (geom.Geometry, error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return geom.Geometry{}, err
	}
	return geom.UnmarshalWKB(data)
}

// areal keeps the polygonal parts of g.
func areal(g orb.Geometry) orb.Geometry {
	var out orb.MultiPolygon
	var collect func(orb.Geometry)
	collect = func(g orb.Geometry) {
		switch v := g.(type) {
		case orb.Polygon:
			if len(v) > 0 && len(v[0]) >= 4 && planar.Area(v) != 0 {
				out = append(out, v)
			}
		case orb.MultiPolygon:
			for _, p := range v {
				collect(p)
			}
		case orb.Collection:
			for _, part := range v {
				collect(part)
			}
		}
	}
	collect(g)
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func single(mp orb.MultiPoint) orb.Geometry {
	switch len(mp) {
	case 0:
		return nil
	case 1:
		return mp[0]
	}
	return mp
}

func lines(mls orb.MultiLineString) orb.Geometry {
	switch len(mls) {
	case 0:
		return nil
	case 1:
		return mls[0]
	}
	return mls
}

func contains(region orb.Geometry, p orb.Point) bool {
	switch r := region.(type) {
	case orb.Polygon:
		return planar.PolygonContains(r, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(r, p)
	case orb.Bound:
		return r.Contains(p)
	}
	return false
}

// splitLine cuts ls at every crossing with region's rings and keeps the
// pieces whose midpoints lie inside region. Touching pieces are merged.
func splitLine(ls orb.LineString, region orb.Geometry) orb.MultiLineString {
	edges := ringEdges(region)
	var out orb.MultiLineString
	var cur orb.LineString
	flush := func() {
		if len(cur) > 1 {
			out = append(out, cur)
		}
		cur = nil
	}

	for i := 0; i+1 < len(ls); i++ {
		a, b := ls[i], ls[i+1]
		ts := []float64{0, 1}
		for _, e := range edges {
			if t, ok := filter.SegmentIntersection(a, b, e[0], e[1]); ok && t > 0 && t < 1 {
				ts = append(ts, t)
			}
		}
		sort.Float64s(ts)
		for k := 0; k+1 < len(ts); k++ {
			if ts[k+1]-ts[k] < 1e-12 {
				continue
			}
			p, q := lerp(a, b, ts[k]), lerp(a, b, ts[k+1])
			if !contains(region, lerp(p, q, 0.5)) {
				flush()
				continue
			}
			if len(cur) == 0 {
				cur = append(cur, p)
			} else if last := cur[len(cur)-1]; !near(last, p) {
				flush()
				cur = append(cur, p)
			}
			cur = append(cur, q)
		}
	}
	flush()
	return out
}

func ringEdges(region orb.Geometry) [][2]orb.Point {
	var polys []orb.Polygon
	switch r := region.(type) {
	case orb.Polygon:
		polys = []orb.Polygon{r}
	case orb.MultiPolygon:
		polys = r
	case orb.Bound:
		polys = []orb.Polygon{r.ToPolygon()}
	}
	var edges [][2]orb.Point
	for _, p := range polys {
		for _, ring := range p {
			for i := 0; i+1 < len(ring); i++ {
				edges = append(edges, [2]orb.Point{ring[i], ring[i+1]})
			}
		}
	}
	return edges
}

func lerp(a, b orb.Point, t float64) orb.Point {
	return orb.Point{a[0] + (b[0]-a[0])*t, a[1] + (b[1]-a[1])*t}
}

func near(a, b orb.Point) bool {
	return math.Abs(a[0]-b[0]) < 1e-12 && math.Abs(a[1]-b[1]) < 1e-12
}
