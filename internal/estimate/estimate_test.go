package estimate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/failure"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/limits"
	"github.com/pspoerri/geoextract/internal/metrics"
	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/resolution"
	"github.com/pspoerri/geoextract/internal/roi"
	"github.com/pspoerri/geoextract/internal/vector"
)

var lv95 = coord.MustLookup(2056)

// gridReader answers metadata only; reading pixels fails the test.
type gridReader struct {
	t     *testing.T
	grid  raster.GridGeometry
	bands []raster.Band
}

func (g *gridReader) CRS() coord.CRS            { return g.grid.CRS }
func (g *gridReader) Grid() raster.GridGeometry { return g.grid }
func (g *gridReader) Envelope() coord.Envelope  { return g.grid.Envelope() }
func (g *gridReader) Bands() []raster.Band      { return g.bands }
func (g *gridReader) Close() error              { return nil }

func (g *gridReader) Levels() []raster.Level {
	rx, ry := g.grid.Resolution()
	return []raster.Level{{ResX: rx, ResY: ry, Width: g.grid.Width, Height: g.grid.Height}}
}

func (g *gridReader) Read(context.Context, raster.ReadParams) (*raster.Raster, error) {
	g.t.Error("estimate read pixels")
	return nil, errors.New("unexpected read")
}

// rgb is 1000x1000 pixels of 1 m with three 8 bit bands.
func rgb(t *testing.T) raster.Source {
	return raster.Source{Reader: &gridReader{
		t:     t,
		grid:  raster.NorthUp(2600000, 1200000, 1, 1, 1000, 1000, lv95),
		bands: []raster.Band{{BitsPerSample: 8}, {BitsPerSample: 8}, {BitsPerSample: 8}},
	}}
}

func native(t *testing.T, b orb.Bound, crs coord.CRS) *roi.Native {
	t.Helper()
	r, err := roi.New(coord.Geometry{Geom: b, CRS: crs})
	if err != nil {
		t.Fatal(err)
	}
	n, err := r.BindNative(lv95)
	if err != nil {
		t.Fatal(err)
	}
	return &n
}

func TestRaster(t *testing.T) {
	quarter := orb.Bound{Min: orb.Point{2600000, 1199500}, Max: orb.Point{2600500, 1200000}}
	outside := orb.Bound{Min: orb.Point{2700000, 1100000}, Max: orb.Point{2700100, 1100100}}
	tests := []struct {
		name     string
		lim      limits.Snapshot
		roi      orb.Bound
		bands    []int
		width    int
		accepted bool
		pixels   uint64
		bytes    uint64
	}{
		{"unlimited", limits.Unlimited, orb.Bound{}, nil, 0, true, 1000000, 3000000},
		{"write limit", limits.Snapshot{MaxWriteBytes: 2999999}, orb.Bound{}, nil, 0, false, 1000000, 3000000},
		{"write limit exact", limits.Snapshot{MaxWriteBytes: 3000000}, orb.Bound{}, nil, 0, true, 1000000, 3000000},
		{"pixel limit", limits.Snapshot{MaxRasterPixels: 999999}, orb.Bound{}, nil, 0, false, 1000000, 3000000},
		{"roi reduces", limits.Snapshot{MaxWriteBytes: 1000000}, quarter, nil, 0, true, 250000, 750000},
		{"band selection", limits.Snapshot{MaxWriteBytes: 1000000}, orb.Bound{}, []int{1}, 0, true, 1000000, 1000000},
		{"explicit size", limits.Snapshot{MaxRasterPixels: 10000}, orb.Bound{}, nil, 100, true, 10000, 30000},
		{"no overlap", limits.Snapshot{MaxWriteBytes: 1}, outside, nil, 0, true, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := resolution.Request{Source: rgb(t), Width: tt.width}
			if !tt.roi.IsZero() {
				req.ROI = native(t, tt.roi, lv95)
			}
			e := Estimator{Limits: tt.lim}
			d, err := e.Raster(context.Background(), RasterInput{Plan: req, Bands: tt.bands})
			if err != nil {
				t.Fatal(err)
			}
			if d.Accepted != tt.accepted {
				t.Errorf("Accepted = %v (%s), want %v", d.Accepted, d.Reason, tt.accepted)
			}
			if d.Raster.PixelArea != tt.pixels || d.Raster.ByteSize != tt.bytes {
				t.Errorf("cost = %+v, want %d pixels %d bytes", *d.Raster, tt.pixels, tt.bytes)
			}
		})
	}
}

func TestRaster_GridCeiling(t *testing.T) {
	src := raster.Source{Reader: &gridReader{
		t:     t,
		grid:  raster.NorthUp(2600000, 1200000, 1, 1, 50000, 50000, lv95),
		bands: []raster.Band{{BitsPerSample: 1}},
	}}
	e := Estimator{}
	d, err := e.Raster(context.Background(), RasterInput{Plan: resolution.Request{Source: src}})
	if err != nil {
		t.Fatal(err)
	}
	if d.Accepted {
		t.Fatal("2.5e9 pixels accepted without limits")
	}

	d, err = e.Raster(context.Background(), RasterInput{
		Plan:   resolution.Request{Source: src, Width: 46340},
		Target: coord.WGS84(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Accepted || d.Raster.TargetPixelArea != d.Raster.PixelArea {
		t.Errorf("explicit size below the ceiling: %+v %s", *d.Raster, d.Reason)
	}
}

func TestRaster_BadBand(t *testing.T) {
	e := Estimator{}
	_, err := e.Raster(context.Background(), RasterInput{Plan: resolution.Request{Source: rgb(t)}, Bands: []int{3}})
	if !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestRaster_WriteLimitZeroAcceptsAll(t *testing.T) {
	for _, w := range []int{10, 500, 1000, 5000} {
		e := Estimator{}
		d, err := e.Raster(context.Background(), RasterInput{Plan: resolution.Request{Source: rgb(t), Width: w}})
		if err != nil {
			t.Fatal(err)
		}
		if !d.Accepted {
			t.Errorf("width %d rejected with unlimited limits: %s", w, d.Reason)
		}
	}
}

// pointLayer places n points on a 100 column grid, 10 m apart, with a
// "kind" property cycling through a, b.
func pointLayer(n int) *vector.Memory {
	fs := make([]*geojson.Feature, n)
	for i := range fs {
		f := geojson.NewFeature(orb.Point{2600000 + float64(i%100)*10, 1200000 + float64(i/100)*10})
		f.Properties["kind"] = string(rune('a' + i%2))
		fs[i] = f
	}
	return vector.NewMemory(vector.Schema{Name: "points", CRS: lv95, GeometryType: "Point"}, fs)
}

func TestVector(t *testing.T) {
	layer := pointLayer(10000)
	half := orb.Bound{Min: orb.Point{2599999, 1199999}, Max: orb.Point{2601000, 1200495}}
	tests := []struct {
		name     string
		roi      orb.Bound
		filter   filter.Filter
		limit    uint64
		accepted bool
		count    uint64
	}{
		{"unlimited", orb.Bound{}, nil, 0, true, 10000},
		{"5000 over 1000", half, nil, 1000, false, 5000},
		{"filter", orb.Bound{}, filter.Equals{Property: "kind", Value: "a"}, 5000, true, 5000},
		{"roi and filter", half, filter.Equals{Property: "kind", Value: "b"}, 2500, true, 2500},
		{"limit exceeded by one", orb.Bound{}, nil, 9999, false, 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := VectorInput{Source: layer, Filter: tt.filter}
			if !tt.roi.IsZero() {
				in.ROI = native(t, tt.roi, lv95)
			}
			e := Estimator{Limits: limits.Snapshot{MaxFeatures: tt.limit}}
			d, err := e.Vector(context.Background(), in)
			if err != nil {
				t.Fatal(err)
			}
			if d.Accepted != tt.accepted || d.Vector.FeatureCount != tt.count {
				t.Errorf("got accepted=%v count=%d, want %v %d", d.Accepted, d.Vector.FeatureCount, tt.accepted, tt.count)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	layer := pointLayer(5000)
	rec := metrics.New(false)
	e := Estimator{Limits: limits.Snapshot{MaxFeatures: 1000}, Metrics: rec}
	err := Check(e.Vector(context.Background(), VectorInput{Source: layer}))
	if !errors.Is(err, failure.ErrLimitExceeded) {
		t.Fatalf("err = %v, want limit exceeded", err)
	}
	if failure.KindOf(err) != failure.LimitExceeded {
		t.Errorf("kind = %v", failure.KindOf(err))
	}

	e.Limits = limits.Unlimited
	if err := Check(e.Vector(context.Background(), VectorInput{Source: layer})); err != nil {
		t.Fatal(err)
	}

	want := `
# HELP geoextract_estimate_decisions_total Cost estimator decisions by kind (raster|vector) and outcome (accepted|rejected).
# TYPE geoextract_estimate_decisions_total counter
geoextract_estimate_decisions_total{kind="vector",outcome="accepted"} 1
geoextract_estimate_decisions_total{kind="vector",outcome="rejected"} 1
`
	if err := testutil.GatherAndCompare(rec.Gatherer(), strings.NewReader(want), "geoextract_estimate_decisions_total"); err != nil {
		t.Error(err)
	}
}

func TestVector_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := Estimator{}
	_, err := e.Vector(ctx, VectorInput{Source: pointLayer(5000)})
	if !failure.IsCanceled(err) {
		t.Fatalf("err = %v, want canceled", err)
	}
}
