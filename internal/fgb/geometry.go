package fgb

import (
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

func geometryType(g orb.Geometry) flattypes.GeometryType {
	switch g.(type) {
	case orb.Point:
		return flattypes.GeometryTypePoint
	case orb.MultiPoint:
		return flattypes.GeometryTypeMultiPoint
	case orb.LineString:
		return flattypes.GeometryTypeLineString
	case orb.MultiLineString:
		return flattypes.GeometryTypeMultiLineString
	case orb.Ring, orb.Polygon, orb.Bound:
		return flattypes.GeometryTypePolygon
	case orb.MultiPolygon:
		return flattypes.GeometryTypeMultiPolygon
	case orb.Collection:
		return flattypes.GeometryTypeGeometryCollection
	}
	return flattypes.GeometryTypeUnknown
}

// toFGB builds the flatbuffer geometry; nil for unsupported types.
func toFGB(g orb.Geometry, b *flatbuffers.Builder) *writer.Geometry {
	out := writer.NewGeometry(b)
	out.SetType(geometryType(g))
	switch v := g.(type) {
	case orb.Point:
		out.SetXY([]float64{v[0], v[1]})
	case orb.MultiPoint:
		out.SetXY(flatten(v))
	case orb.LineString:
		out.SetXY(flatten(v))
	case orb.MultiLineString:
		xy, ends := flattenParts(len(v), func(i int) []orb.Point { return v[i] })
		out.SetXY(xy)
		out.SetEnds(ends)
	case orb.Ring:
		out.SetXY(flatten(v))
		out.SetEnds([]uint32{uint32(len(v))})
	case orb.Bound:
		return toFGB(v.ToPolygon(), b)
	case orb.Polygon:
		xy, ends := flattenParts(len(v), func(i int) []orb.Point { return v[i] })
		out.SetXY(xy)
		out.SetEnds(ends)
	case orb.MultiPolygon:
		parts := make([]writer.Geometry, 0, len(v))
		for _, p := range v {
			parts = append(parts, *toFGB(p, b))
		}
		out.SetParts(parts)
	case orb.Collection:
		parts := make([]writer.Geometry, 0, len(v))
		for _, c := range v {
			if pg := toFGB(c, b); pg != nil {
				parts = append(parts, *pg)
			}
		}
		out.SetParts(parts)
	default:
		return nil
	}
	return out
}

func flatten(pts []orb.Point) []float64 {
	xy := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		xy = append(xy, p[0], p[1])
	}
	return xy
}

func flattenParts(n int, part func(int) []orb.Point) ([]float64, []uint32) {
	var xy []float64
	ends := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		xy = append(xy, flatten(part(i))...)
		ends = append(ends, uint32(len(xy)/2))
	}
	return xy, ends
}

// fromFGB converts a stored geometry back to orb.
func fromFGB(g *flattypes.Geometry) orb.Geometry {
	switch g.Type() {
	case flattypes.GeometryTypePoint:
		pts := points(g, 0, g.XyLength()/2)
		if len(pts) == 0 {
			return nil
		}
		return pts[0]
	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(points(g, 0, g.XyLength()/2))
	case flattypes.GeometryTypeLineString:
		return orb.LineString(points(g, 0, g.XyLength()/2))
	case flattypes.GeometryTypeMultiLineString:
		var out orb.MultiLineString
		for _, r := range spans(g) {
			out = append(out, orb.LineString(points(g, r[0], r[1])))
		}
		return out
	case flattypes.GeometryTypePolygon:
		return polygon(g)
	case flattypes.GeometryTypeMultiPolygon:
		var out orb.MultiPolygon
		if g.PartsLength() == 0 {
			return orb.MultiPolygon{polygon(g)}
		}
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				out = append(out, polygon(&part))
			}
		}
		return out
	case flattypes.GeometryTypeGeometryCollection:
		var out orb.Collection
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				if c := fromFGB(&part); c != nil {
					out = append(out, c)
				}
			}
		}
		return out
	}
	return nil
}

func polygon(g *flattypes.Geometry) orb.Polygon {
	var out orb.Polygon
	for _, r := range spans(g) {
		out = append(out, orb.Ring(points(g, r[0], r[1])))
	}
	return out
}

// spans splits the coordinate list at the ends array; without ends the
// whole list is one part.
func spans(g *flattypes.Geometry) [][2]int {
	n := g.XyLength() / 2
	if g.EndsLength() == 0 {
		return [][2]int{{0, n}}
	}
	out := make([][2]int, 0, g.EndsLength())
	start := 0
	for i := 0; i < g.EndsLength(); i++ {
		end := min(int(g.Ends(i)), n)
		out = append(out, [2]int{start, end})
		start = end
	}
	return out
}

func points(g *flattypes.Geometry, from, to int) []orb.Point {
	if to <= from {
		return nil
	}
	pts := make([]orb.Point, 0, to-from)
	for i := from; i < to; i++ {
		pts = append(pts, orb.Point{g.Xy(2 * i), g.Xy(2*i + 1)})
	}
	return pts
}
