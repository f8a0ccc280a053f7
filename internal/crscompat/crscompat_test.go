package crscompat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/roi"
)

var lv95 = coord.MustLookup(2056)

type fakeReader struct{ crs coord.CRS }

func (f fakeReader) CRS() coord.CRS            { return f.crs }
func (f fakeReader) Grid() raster.GridGeometry { return raster.GridGeometry{CRS: f.crs} }
func (f fakeReader) Envelope() coord.Envelope  { return coord.Envelope{CRS: f.crs} }
func (f fakeReader) Levels() []raster.Level    { return nil }
func (f fakeReader) Bands() []raster.Band      { return nil }
func (f fakeReader) Close() error              { return nil }

func (f fakeReader) Read(context.Context, raster.ReadParams) (*raster.Raster, error) {
	return nil, errors.New("not readable")
}

type fakeCatalog struct {
	desc     raster.Descriptors
	granules []raster.Granule
	queries  []filter.Filter
}

func (c *fakeCatalog) Descriptors() raster.Descriptors { return c.desc }
func (c *fakeCatalog) IndexCRS() coord.CRS             { return coord.WGS84() }

func (c *fakeCatalog) Granules(_ context.Context, f filter.Filter) ([]raster.Granule, error) {
	c.queries = append(c.queries, f)
	var out []raster.Granule
	for _, g := range c.granules {
		if f.Match(g.Feature()) {
			out = append(out, g)
		}
	}
	return out, nil
}

func square(x, y, d float64) orb.Polygon {
	return orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x + d, y + d}}.ToPolygon()
}

func catalog() *fakeCatalog {
	return &fakeCatalog{
		desc: raster.Descriptors{Resolution: "res", CRS: "crs"},
		granules: []raster.Granule{
			{ID: "ch", Footprint: square(7, 46, 1), Attributes: map[string]any{"crs": "EPSG:2056", "year": 2020.0}},
			{ID: "utm", Footprint: square(8, 46, 1), Attributes: map[string]any{"crs": "EPSG:32632", "year": 2021.0}},
		},
	}
}

func roiAt(t *testing.T, x, y float64) *roi.ROI {
	t.Helper()
	r, err := roi.New(coord.Geometry{Geom: square(x, y, 0.2), CRS: coord.WGS84()})
	if err != nil {
		t.Fatal(err)
	}
	return &r
}

func TestResolve(t *testing.T) {
	utm := coord.MustLookup(32632)
	all := func(int) bool { return true }
	tests := []struct {
		name    string
		mutate  func(*Request)
		want    bool
		reason  string
		queried bool
	}{
		{"granule in target CRS", func(*Request) {}, true, "granules stored", true},
		{"flag off", func(r *Request) { r.MinimizeReprojections = false }, false, "not requested", false},
		{"no roi", func(r *Request) { r.ROI = nil }, false, "no region", false},
		{"no target", func(r *Request) { r.Target = coord.CRS{} }, false, "no target", false},
		{"target is native", func(r *Request) { r.Target = lv95 }, false, "native", false},
		{"format unsupported", func(r *Request) { r.SupportedCRS = func(int) bool { return false } }, false, "format", false},
		{"roi misses target granules", func(r *Request) { r.ROI = roiAt(t, 7.4, 46.4) }, false, "no granule", true},
		{"caller filter excludes", func(r *Request) { r.Filter = filter.Equals{Property: "year", Value: 2020} }, false, "no granule", true},
		{"plain reader", func(r *Request) { r.Source.Granules = nil }, false, "per-granule", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := catalog()
			req := Request{
				MinimizeReprojections: true,
				ROI:                   roiAt(t, 8.4, 46.4),
				Target:                utm,
				Source:                raster.Source{Reader: fakeReader{crs: lv95}, Granules: cat},
				SupportedCRS:          all,
			}
			tt.mutate(&req)
			d, err := Resolve(context.Background(), req)
			if err != nil {
				t.Fatal(err)
			}
			if d.UseTarget != tt.want {
				t.Errorf("UseTarget = %v, want %v (%s)", d.UseTarget, tt.want, d.Reason)
			}
			if !strings.Contains(d.Reason, tt.reason) {
				t.Errorf("reason = %q, want it to mention %q", d.Reason, tt.reason)
			}
			if (len(cat.queries) > 0) != tt.queried {
				t.Errorf("queried = %d, want %v", len(cat.queries), tt.queried)
			}
		})
	}
}

func TestResolve_QueryShape(t *testing.T) {
	cat := catalog()
	d, err := Resolve(context.Background(), Request{
		MinimizeReprojections: true,
		ROI:                   roiAt(t, 8.4, 46.4),
		Target:                coord.MustLookup(32632),
		Source:                raster.Source{Reader: fakeReader{crs: lv95}, Granules: cat},
		Filter:                filter.And{filter.Include, filter.Equals{Property: "year", Value: 2021}},
	})
	if err != nil || !d.UseTarget {
		t.Fatalf("decision = %+v, %v", d, err)
	}
	and, ok := d.Query.(filter.And)
	if !ok || len(and) != 3 {
		t.Fatalf("query = %v, want a flat AND of three terms", d.Query)
	}
	if _, ok := and[0].(filter.Intersects); !ok {
		t.Errorf("first term = %v, want the ROI intersects", and[0])
	}
	if !strings.Contains(d.Query.String(), "crs = EPSG:32632") {
		t.Errorf("query %q lacks the CRS term", d.Query.String())
	}
}

// Decisions are not cached: a changed index changes the next answer.
func TestResolve_NotCached(t *testing.T) {
	cat := catalog()
	req := Request{
		MinimizeReprojections: true,
		ROI:                   roiAt(t, 8.4, 46.4),
		Target:                coord.MustLookup(32632),
		Source:                raster.Source{Reader: fakeReader{crs: lv95}, Granules: cat},
	}
	if d, _ := Resolve(context.Background(), req); !d.UseTarget {
		t.Fatal("first decision false")
	}
	cat.granules = cat.granules[:1]
	if d, _ := Resolve(context.Background(), req); d.UseTarget {
		t.Error("second decision reused the first")
	}
}
