package mosaic

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/pspoerri/geoextract/internal/cog"
	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/encode"
	"github.com/pspoerri/geoextract/internal/fgb"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/raster"
)

var lv95 = coord.MustLookup(2056)

func writeConst(t *testing.T, path string, g raster.GridGeometry, v float64) {
	t.Helper()
	r := raster.New(g, []raster.Band{{BitsPerSample: 8}})
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			r.Set(0, col, row, v)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := &encode.GeoTIFFEncoder{Overviews: 1}
	if err := enc.Encode(context.Background(), f, r); err != nil {
		t.Fatal(err)
	}
}

// twoGranules writes a 200 m LV95 granule holding 1 and, east of it, a UTM
// 32N granule holding 2.
func twoGranules(t *testing.T) (dir, a, b string) {
	t.Helper()
	dir = t.TempDir()
	a = filepath.Join(dir, "a.tif")
	b = filepath.Join(dir, "b.tif")
	writeConst(t, a, raster.NorthUp(2600000, 1200000, 10, 10, 20, 20, lv95), 1)

	tr, err := coord.FindTransform(lv95, coord.MustLookup(32632))
	if err != nil {
		t.Fatal(err)
	}
	x, y := tr.Forward(2600200, 1200000)
	writeConst(t, b, raster.NorthUp(x, y, 20, 20, 10, 10, coord.MustLookup(32632)), 2)
	return dir, a, b
}

func openGranules(t *testing.T, paths ...string) []Granule {
	t.Helper()
	var out []Granule
	for _, p := range paths {
		r, err := cog.Open(p, nil)
		if err != nil {
			t.Fatal(err)
		}
		g := Granule{Reader: r}
		g.ID = filepath.Base(p)
		g.Attributes = map[string]any{"crs": r.CRS().Identifier()}
		out = append(out, g)
	}
	return out
}

func TestNew_GridCoversAllGranules(t *testing.T) {
	_, a, b := twoGranules(t)
	m, err := New(lv95, coord.WGS84(), DefaultDescriptors, openGranules(t, a, b))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	if rx, ry := m.Grid().Resolution(); rx != 10 || ry != 10 {
		t.Errorf("resolution = %v x %v, want the finest granule's 10", rx, ry)
	}
	env := m.Envelope()
	if env.Min[0] > 2600000+1e-6 || env.Max[0] < 2600390 {
		t.Errorf("envelope = %v", env.Bound)
	}
	if m.IndexCRS().Code() != 4326 || m.CRS().Code() != 2056 {
		t.Errorf("crs = %v index = %v", m.CRS(), m.IndexCRS())
	}
	if src := m.Source(); !src.Structured() {
		t.Error("mosaic source is not structured")
	}
}

func TestRead_Composites(t *testing.T) {
	_, a, b := twoGranules(t)
	m, err := New(lv95, coord.CRS{}, DefaultDescriptors, openGranules(t, a, b))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	out, err := m.Read(context.Background(), raster.ReadParams{Grid: m.Grid()})
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := out.Sample(0, 5, 5); !ok || v != 1 {
		t.Errorf("LV95 granule pixel = %v,%v want 1", v, ok)
	}
	col, row := m.Grid().ToGrid(2600300, 1199900)
	if v, ok := out.Sample(0, int(col), int(row)); !ok || v != 2 {
		t.Errorf("UTM granule pixel = %v,%v want 2", v, ok)
	}

	if _, err := m.Read(context.Background(), raster.ReadParams{Grid: m.Grid(), Level: 1}); err == nil {
		t.Error("level 1 accepted")
	}
	if _, err := m.Read(context.Background(), raster.ReadParams{Grid: m.Grid(), Bands: []int{1}}); !errors.Is(err, raster.ErrBandIndex) {
		t.Errorf("band 1: err = %v", err)
	}
}

func TestInCRS(t *testing.T) {
	_, a, b := twoGranules(t)
	m, err := New(lv95, coord.CRS{}, DefaultDescriptors, openGranules(t, a, b))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	utm := coord.MustLookup(32632)
	src, err := m.InCRS(utm)
	if err != nil {
		t.Fatal(err)
	}
	if !src.Reader.CRS().Equal(utm) || !src.Structured() {
		t.Fatalf("view crs = %v structured = %v", src.Reader.CRS(), src.Structured())
	}
	if rx, _ := src.Reader.Grid().Resolution(); math.Abs(rx-10) > 0.5 {
		t.Errorf("view resolution = %v, want about 10", rx)
	}
	if err := src.Reader.Close(); err != nil {
		t.Fatal(err)
	}
	// The view does not own the granule readers.
	if _, err := m.Read(context.Background(), raster.ReadParams{Grid: m.Grid()}); err != nil {
		t.Fatalf("read after closing view: %v", err)
	}

	same, err := m.InCRS(lv95)
	if err != nil || same.Reader != raster.Reader(m) {
		t.Errorf("InCRS(native) = %v, %v", same.Reader, err)
	}
}

func TestRead_Canceled(t *testing.T) {
	_, a, b := twoGranules(t)
	m, err := New(lv95, coord.CRS{}, DefaultDescriptors, openGranules(t, a, b))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Read(ctx, raster.ReadParams{Grid: m.Grid()}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestGranules_Filter(t *testing.T) {
	_, a, b := twoGranules(t)
	m, err := New(lv95, coord.WGS84(), DefaultDescriptors, openGranules(t, a, b))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	tr, _ := coord.FindTransform(lv95, coord.WGS84())
	inA := tr.ForwardPoint(orb.Point{2600100, 1199900})
	tests := []struct {
		name string
		f    filter.Filter
		want int
	}{
		{"nil", nil, 2},
		{"include", filter.Include, 2},
		{"crs", filter.Equals{Property: "crs", Value: "EPSG:32632"}, 1},
		{"spatial", filter.Intersects{Geometry: inA}, 1},
		{"exclude", filter.Exclude, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Granules(context.Background(), tt.f)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d granules, want %d", len(got), tt.want)
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(lv95, coord.CRS{}, DefaultDescriptors, nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty: err = %v", err)
	}

	dir, a, _ := twoGranules(t)
	rgb := filepath.Join(dir, "rgb.tif")
	r := raster.New(raster.NorthUp(2600000, 1200000, 10, 10, 4, 4, lv95),
		[]raster.Band{{BitsPerSample: 8}, {BitsPerSample: 8}, {BitsPerSample: 8}})
	f, err := os.Create(rgb)
	if err != nil {
		t.Fatal(err)
	}
	if err := (&encode.GeoTIFFEncoder{}).Encode(context.Background(), f, r); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, err := New(lv95, coord.CRS{}, DefaultDescriptors, openGranules(t, a, rgb)); !errors.Is(err, ErrBandCount) {
		t.Errorf("band mismatch: err = %v", err)
	}
}

func TestPickLevel(t *testing.T) {
	_, a, _ := twoGranules(t)
	r, err := cog.Open(a, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	tests := []struct {
		res  float64
		want int
	}{
		{10, 0},
		{15, 0},
		{20, 1},
		{80, 1},
	}
	for _, tt := range tests {
		g := raster.NorthUp(2600000, 1200000, tt.res, tt.res, int(200/tt.res), int(200/tt.res), lv95)
		got, err := pickLevel(r, g)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("res %v: level %d, want %d", tt.res, got, tt.want)
		}
	}
}

func TestOpen_Index(t *testing.T) {
	dir, a, b := twoGranules(t)
	features, err := BuildIndex(context.Background(), []string{a, b}, dir, coord.WGS84())
	if err != nil {
		t.Fatal(err)
	}
	if got := features[0].Properties[LocationAttr]; got != "a.tif" {
		t.Errorf("location = %v, want a.tif", got)
	}
	if got := features[1].Properties["crs"]; got != "EPSG:32632" {
		t.Errorf("crs = %v", got)
	}

	fc := geojson.NewFeatureCollection()
	fc.Features = features
	data, err := fc.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	jsonIndex := filepath.Join(dir, "index.geojson")
	if err := os.WriteFile(jsonIndex, data, 0o644); err != nil {
		t.Fatal(err)
	}

	fgbIndex := filepath.Join(dir, "index.fgb")
	out, err := os.Create(fgbIndex)
	if err != nil {
		t.Fatal(err)
	}
	if err := fgb.Write(out, features, fgb.Options{Name: "index", EPSG: 4326}); err != nil {
		t.Fatal(err)
	}
	out.Close()

	for _, idx := range []string{jsonIndex, fgbIndex} {
		t.Run(filepath.Ext(idx), func(t *testing.T) {
			m, err := Open(context.Background(), idx, Options{CRS: lv95, Descriptors: DefaultDescriptors, Cache: cog.NewTileCache(8)})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer m.Close()
			if m.IndexCRS().Code() != 4326 {
				t.Errorf("index CRS = %v", m.IndexCRS())
			}
			gs, err := m.Granules(context.Background(), filter.Equals{Property: "crs", Value: "EPSG:32632"})
			if err != nil || len(gs) != 1 {
				t.Fatalf("granules = %d, %v", len(gs), err)
			}
			rx, ry, ok := gs[0].Resolution(m.Descriptors())
			if !ok || math.Abs(rx-20) > 1e-9 || math.Abs(ry-20) > 1e-9 {
				t.Errorf("resolution = %v %v %v", rx, ry, ok)
			}
			if crs, err := gs[0].CRS(m.Descriptors()); err != nil || crs.Code() != 32632 {
				t.Errorf("granule CRS = %v, %v", crs, err)
			}
		})
	}
}

func TestOpen_MissingLocation(t *testing.T) {
	dir := t.TempDir()
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}))
	data, _ := fc.MarshalJSON()
	idx := filepath.Join(dir, "index.geojson")
	if err := os.WriteFile(idx, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), idx, Options{}); err == nil {
		t.Error("index without locations opened")
	}
}
