package vector

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/pspoerri/geoextract/internal/coord"
)

// mapIterator applies fn to every feature of the wrapped iterator. A nil
// result drops the feature.
type mapIterator struct {
	Iterator
	fn  func(*geojson.Feature) *geojson.Feature
	cur *geojson.Feature
}

func (m *mapIterator) Next() bool {
	for m.Iterator.Next() {
		if m.cur = m.fn(m.Iterator.Feature()); m.cur != nil {
			return true
		}
	}
	m.cur = nil
	return false
}

func (m *mapIterator) Feature() *geojson.Feature { return m.cur }

// withGeometry returns a shallow copy of f carrying g.
func withGeometry(f *geojson.Feature, g orb.Geometry) *geojson.Feature {
	return &geojson.Feature{ID: f.ID, Type: f.Type, Geometry: g, Properties: f.Properties}
}

// Reproject transforms every feature geometry with t. Vertices are mapped
// one to one; an identity transform returns it unchanged.
func Reproject(it Iterator, t *coord.Transform) Iterator {
	if t.IsIdentity() {
		return it
	}
	return &mapIterator{Iterator: it, fn: func(f *geojson.Feature) *geojson.Feature {
		if f.Geometry == nil {
			return f
		}
		return withGeometry(f, project.Geometry(orb.Clone(f.Geometry), t.ForwardPoint))
	}}
}

// Clip trims every feature to region, dropping those left empty. See
// ClipGeometry for the rules.
func Clip(it Iterator, region orb.Geometry, precise bool) Iterator {
	return &mapIterator{Iterator: it, fn: func(f *geojson.Feature) *geojson.Feature {
		if f.Geometry == nil {
			return nil
		}
		g := ClipGeometry(f.Geometry, region, precise)
		if g == nil {
			return nil
		}
		return withGeometry(f, g)
	}}
}
