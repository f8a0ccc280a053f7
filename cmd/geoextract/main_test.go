package main

import (
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func TestFilterFlag(t *testing.T) {
	var f filterFlag
	if f.Filter() != nil {
		t.Fatal("empty flag should give a nil filter")
	}
	for _, s := range []string{"kind=a|b", "year=2020"} {
		if err := f.Set(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Set("novalue"); err == nil {
		t.Error("Set accepted a value without '='")
	}

	feat := func(kind string, year float64) *geojson.Feature {
		g := geojson.NewFeature(orb.Point{0, 0})
		g.Properties["kind"] = kind
		g.Properties["year"] = year
		return g
	}
	tests := []struct {
		name string
		f    *geojson.Feature
		want bool
	}{
		{"both match", feat("b", 2020), true},
		{"wrong kind", feat("c", 2020), false},
		{"wrong year", feat("a", 2021), false},
	}
	flt := f.Filter()
	for _, tt := range tests {
		if got := flt.Match(tt.f); got != tt.want {
			t.Errorf("%s: Match = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseBands(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"", nil, false},
		{"0", []int{0}, false},
		{"2, 1,0", []int{2, 1, 0}, false},
		{"a", nil, true},
	}
	for _, tt := range tests {
		got, err := parseBands(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseBands(%q) err = %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseBands(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.in); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
