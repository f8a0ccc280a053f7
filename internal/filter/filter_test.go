package filter

import (
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func feature(g orb.Geometry, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(g)
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

var square = orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}

func TestIntersects(t *testing.T) {
	tests := []struct {
		name string
		geom orb.Geometry
		want bool
	}{
		{"point inside", orb.Point{5, 5}, true},
		{"point on edge", orb.Point{10, 5}, true},
		{"point outside", orb.Point{11, 5}, false},
		{"line crossing", orb.LineString{{-5, 5}, {15, 5}}, true},
		{"line inside", orb.LineString{{2, 2}, {3, 3}}, true},
		{"line outside", orb.LineString{{-5, -5}, {-1, 20}}, false},
		{"polygon containing", orb.Polygon{{{-1, -1}, {20, -1}, {20, 20}, {-1, 20}, {-1, -1}}}, true},
		{"polygon disjoint", orb.Polygon{{{11, 0}, {20, 0}, {20, 9}, {11, 0}}}, false},
		{"triangle corner overlap", orb.Polygon{{{8, 8}, {12, 8}, {12, 12}, {8, 8}}}, true},
	}
	f := Intersects{Geometry: square}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Match(feature(tt.geom, nil)); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEquals(t *testing.T) {
	f := feature(orb.Point{0, 0}, map[string]any{"crs": "EPSG:2056", "level": float64(2)})
	if !(Equals{Property: "crs", Value: "EPSG:2056"}).Match(f) {
		t.Error("string equality failed")
	}
	if !(Equals{Property: "level", Value: 2}).Match(f) {
		t.Error("numeric equality across types failed")
	}
	if (Equals{Property: "missing", Value: 1}).Match(f) {
		t.Error("missing property matched")
	}
	if !(In{Property: "crs", Values: []any{"EPSG:4326", "EPSG:2056"}}).Match(f) {
		t.Error("IN failed")
	}
}

func TestSimplify(t *testing.T) {
	a := Equals{Property: "a", Value: 1}
	b := Equals{Property: "b", Value: 2}
	c := Equals{Property: "c", Value: 3}

	tests := []struct {
		name string
		in   Filter
		want Filter
	}{
		{"nil", nil, Include},
		{"flatten", And{a, And{b, And{c}}}, And{a, b, c}},
		{"drop include", And{Include, a, Include}, a},
		{"exclude absorbs and", And{a, Exclude, b}, Exclude},
		{"empty and", And{}, Include},
		{"include absorbs or", Or{a, Include}, Include},
		{"drop exclude in or", Or{Exclude, a, Or{b}}, Or{a, b}},
		{"double negation", Not{Not{a}}, a},
		{"not include", Not{And{Include}}, Exclude},
		{"nested or in and kept", And{a, Or{b, c}}, And{a, Or{b, c}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Simplify(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Simplify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConjoin(t *testing.T) {
	roi := Intersects{Geometry: square}
	got := Conjoin(roi, nil, Include)
	if !reflect.DeepEqual(got, roi) {
		t.Errorf("Conjoin = %v", got)
	}
}

func TestSpatialBound(t *testing.T) {
	f := And{
		Equals{Property: "x", Value: 1},
		Intersects{Geometry: square},
		BBox{Bound: orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{20, 20}}},
	}
	b, ok := SpatialBound(f)
	if !ok {
		t.Fatal("no bound")
	}
	want := orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{10, 10}}
	if b != want {
		t.Errorf("bound = %v, want %v", b, want)
	}
	if _, ok := SpatialBound(Or{Intersects{Geometry: square}}); ok {
		t.Error("OR should not yield a bound")
	}
}

func TestSegmentIntersection(t *testing.T) {
	tt, ok := SegmentIntersection(orb.Point{0, 0}, orb.Point{10, 0}, orb.Point{4, -1}, orb.Point{4, 1})
	if !ok || tt != 0.4 {
		t.Errorf("t = %v ok = %v", tt, ok)
	}
	if _, ok := SegmentIntersection(orb.Point{0, 0}, orb.Point{1, 0}, orb.Point{0, 1}, orb.Point{1, 1}); ok {
		t.Error("parallel segments intersect")
	}
}
