// Package filter implements attribute and spatial predicates over features
// and a simplifier that normalizes filter trees before they reach a source.
package filter

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Filter selects features. Spatial predicates assume the feature geometry
// and the filter geometry share a CRS; callers reproject the filter first.
type Filter interface {
	Match(f *geojson.Feature) bool
	String() string
}

type constant bool

// Include matches everything, Exclude matches nothing.
const (
	Include constant = true
	Exclude constant = false
)

func (c constant) Match(*geojson.Feature) bool { return bool(c) }

func (c constant) String() string {
	if c {
		return "INCLUDE"
	}
	return "EXCLUDE"
}

// And matches when every child matches.
type And []Filter

func (a And) Match(f *geojson.Feature) bool {
	for _, c := range a {
		if !c.Match(f) {
			return false
		}
	}
	return true
}

func (a And) String() string { return join("AND", a) }

// Or matches when any child matches.
type Or []Filter

func (o Or) Match(f *geojson.Feature) bool {
	for _, c := range o {
		if c.Match(f) {
			return true
		}
	}
	return false
}

func (o Or) String() string { return join("OR", o) }

func join(op string, fs []Filter) string {
	parts := make([]string, len(fs))
	for i, c := range fs {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

// Not negates its child.
type Not struct{ Filter Filter }

func (n Not) Match(f *geojson.Feature) bool { return !n.Filter.Match(f) }
func (n Not) String() string                { return "NOT " + n.Filter.String() }

// Equals matches features whose property equals Value. Numbers compare by
// value regardless of their Go type.
type Equals struct {
	Property string
	Value    any
}

func (e Equals) Match(f *geojson.Feature) bool {
	if f == nil {
		return false
	}
	v, ok := f.Properties[e.Property]
	if !ok {
		return false
	}
	return equalValues(v, e.Value)
}

func (e Equals) String() string { return fmt.Sprintf("%s = %v", e.Property, e.Value) }

// In matches features whose property equals any of Values.
type In struct {
	Property string
	Values   []any
}

func (in In) Match(f *geojson.Feature) bool {
	if f == nil {
		return false
	}
	v, ok := f.Properties[in.Property]
	if !ok {
		return false
	}
	for _, want := range in.Values {
		if equalValues(v, want) {
			return true
		}
	}
	return false
}

func (in In) String() string { return fmt.Sprintf("%s IN %v", in.Property, in.Values) }

func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Intersects matches features whose geometry intersects Geometry.
type Intersects struct {
	Geometry orb.Geometry
}

func (i Intersects) Match(f *geojson.Feature) bool {
	if f == nil || f.Geometry == nil || i.Geometry == nil {
		return false
	}
	return GeometriesIntersect(f.Geometry, i.Geometry)
}

func (i Intersects) String() string {
	b := i.Geometry.Bound()
	return fmt.Sprintf("INTERSECTS(%s [%g %g, %g %g])", i.Geometry.GeoJSONType(), b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}

// BBox matches features whose bounding box overlaps Bound.
type BBox struct {
	Bound orb.Bound
}

func (b BBox) Match(f *geojson.Feature) bool {
	if f == nil || f.Geometry == nil {
		return false
	}
	return f.Geometry.Bound().Intersects(b.Bound)
}

func (b BBox) String() string {
	return fmt.Sprintf("BBOX(%g %g, %g %g)", b.Bound.Min[0], b.Bound.Min[1], b.Bound.Max[0], b.Bound.Max[1])
}

// SpatialBound returns the bounding box of the spatial predicates that every
// match must satisfy, so sources can narrow a scan with an index.
func SpatialBound(f Filter) (orb.Bound, bool) {
	switch t := f.(type) {
	case Intersects:
		if t.Geometry == nil {
			return orb.Bound{}, false
		}
		return t.Geometry.Bound(), true
	case BBox:
		return t.Bound, true
	case And:
		var out orb.Bound
		found := false
		for _, c := range t {
			b, ok := SpatialBound(c)
			if !ok {
				continue
			}
			if !found {
				out, found = b, true
				continue
			}
			out = intersectBounds(out, b)
		}
		return out, found
	}
	return orb.Bound{}, false
}

func intersectBounds(a, b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{max(a.Min[0], b.Min[0]), max(a.Min[1], b.Min[1])},
		Max: orb.Point{min(a.Max[0], b.Max[0]), min(a.Max[1], b.Max[1])},
	}
}
