package cog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/math/f64"
	"golang.org/x/image/tiff"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/encode"
	"github.com/pspoerri/geoextract/internal/raster"
)

func lv95Grid(w, h int) raster.GridGeometry {
	return raster.NorthUp(2600000, 1200000, 10, 10, w, h, coord.MustLookup(2056))
}

// synthetic fills band b with 1000*b + row*w + col.
func synthetic(g raster.GridGeometry, bands []raster.Band) *raster.Raster {
	r := raster.New(g, bands)
	for b := range bands {
		for row := 0; row < g.Height; row++ {
			for col := 0; col < g.Width; col++ {
				r.Set(b, col, row, float64(1000*b+row*g.Width+col))
			}
		}
	}
	return r
}

func writeGeoTIFF(t *testing.T, r *raster.Raster, enc *encode.GeoTIFFEncoder) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.tif")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := enc.Encode(context.Background(), f, r); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return path
}

func readAll(t *testing.T, rd *Reader, level int, g raster.GridGeometry) *raster.Raster {
	t.Helper()
	out, err := rd.Read(context.Background(), raster.ReadParams{Grid: g, Level: level})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return out
}

func TestOpen_StripsFloat(t *testing.T) {
	g := lv95Grid(30, 20)
	src := synthetic(g, []raster.Band{{BitsPerSample: 32, Float: true}})
	path := writeGeoTIFF(t, src, &encode.GeoTIFFEncoder{})

	rd, err := Open(path, NewTileCache(16))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()

	if rd.EPSG() != 2056 || rd.CRS().Code() != 2056 {
		t.Errorf("EPSG = %d, CRS = %v", rd.EPSG(), rd.CRS())
	}
	if rd.Grid().GridToCRS != g.GridToCRS || rd.Grid().Width != 30 || rd.Grid().Height != 20 {
		t.Errorf("grid = %v, want %v", rd.Grid(), g)
	}
	if b := rd.Bands(); len(b) != 1 || !b[0].Float || b[0].BitsPerSample != 32 || !b[0].HasNoData || !math.IsNaN(b[0].NoData) {
		t.Errorf("bands = %+v", b)
	}
	if lv := rd.Levels(); len(lv) != 1 || lv[0].ResX != 10 || lv[0].ResY != 10 {
		t.Errorf("levels = %+v", lv)
	}

	out := readAll(t, rd, 0, g)
	for row := 0; row < 20; row++ {
		for col := 0; col < 30; col++ {
			v, ok := out.Sample(0, col, row)
			if !ok || v != src.At(0, col, row) {
				t.Fatalf("(%d,%d) = %v,%v want %v", col, row, v, ok, src.At(0, col, row))
			}
		}
	}
}

func TestOpen_TiledOverviews(t *testing.T) {
	g := lv95Grid(40, 24)
	bands := []raster.Band{{BitsPerSample: 16}, {BitsPerSample: 16}}
	src := synthetic(g, bands)
	cache := NewTileCache(64)
	path := writeGeoTIFF(t, src, &encode.GeoTIFFEncoder{
		Deflate: true, Predictor: true, TileSize: 16, Overviews: 2,
	})

	rd, err := Open(path, cache)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	lv := rd.Levels()
	if len(lv) != 3 {
		t.Fatalf("levels = %+v", lv)
	}
	if lv[1].Width != 20 || lv[1].Height != 12 || lv[1].ResX != 20 || lv[2].Width != 10 {
		t.Errorf("levels = %+v", lv)
	}

	full := readAll(t, rd, 0, g)
	for _, p := range [][2]int{{0, 0}, {39, 23}, {17, 9}, {16, 16}} {
		for b := range bands {
			if v, _ := full.Sample(b, p[0], p[1]); v != src.At(b, p[0], p[1]) {
				t.Errorf("band %d %v = %v, want %v", b, p, v, src.At(b, p[0], p[1]))
			}
		}
	}

	// Overview pixels come from the odd source pixels.
	ovGrid := g.Scaled(2, 2, 20, 12)
	ov := readAll(t, rd, 1, ovGrid)
	for _, p := range [][2]int{{0, 0}, {19, 11}, {7, 3}} {
		want := src.At(1, 2*p[0]+1, 2*p[1]+1)
		if v, _ := ov.Sample(1, p[0], p[1]); v != want {
			t.Errorf("overview %v = %v, want %v", p, v, want)
		}
	}

	if cache.Len() == 0 {
		t.Error("no tiles cached")
	}
	if err := rd.Close(); err != nil {
		t.Fatal(err)
	}
	if cache.Len() != 0 {
		t.Errorf("cache holds %d tiles after Close", cache.Len())
	}
	if _, err := rd.Read(context.Background(), raster.ReadParams{Grid: g}); err == nil {
		t.Error("Read after Close succeeded")
	}
}

func TestRead_BandSelectionAndLevelRange(t *testing.T) {
	g := lv95Grid(8, 8)
	bands := []raster.Band{{BitsPerSample: 8}, {BitsPerSample: 8}, {BitsPerSample: 8}}
	src := synthetic(g, bands)
	for b := range bands {
		for row := 0; row < 8; row++ {
			for col := 0; col < 8; col++ {
				src.Set(b, col, row, float64(10*b+col))
			}
		}
	}
	rd, err := Open(writeGeoTIFF(t, src, &encode.GeoTIFFEncoder{}), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()

	out, err := rd.Read(context.Background(), raster.ReadParams{Grid: g, Bands: []int{2, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Bands) != 2 || out.At(0, 3, 1) != 23 || out.At(1, 3, 1) != 3 {
		t.Errorf("bands = %d, values %v %v", len(out.Bands), out.At(0, 3, 1), out.At(1, 3, 1))
	}
	if _, err := rd.Read(context.Background(), raster.ReadParams{Grid: g, Bands: []int{3}}); !errors.Is(err, raster.ErrBandIndex) {
		t.Errorf("band 3: err = %v", err)
	}
	if _, err := rd.Read(context.Background(), raster.ReadParams{Grid: g, Level: 1}); err == nil {
		t.Error("level 1 accepted")
	}
}

func TestRead_NoData(t *testing.T) {
	g := lv95Grid(4, 4)
	src := synthetic(g, []raster.Band{{BitsPerSample: 16, Signed: true, NoData: -9999, HasNoData: true}})
	src.Invalidate(2, 1)
	rd, err := Open(writeGeoTIFF(t, src, &encode.GeoTIFFEncoder{}), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()

	out := readAll(t, rd, 0, g)
	if out.IsValid(2, 1) {
		t.Error("nodata pixel read as valid")
	}
	if out.ValidCount() != 15 {
		t.Errorf("valid = %d, want 15", out.ValidCount())
	}
}

func TestOpen_RotatedGrid(t *testing.T) {
	g := raster.GridGeometry{
		Width: 6, Height: 5, CRS: coord.MustLookup(2056),
		GridToCRS: f64.Aff3{10, 2, 2600000, 2, -10, 1200000},
	}
	src := synthetic(g, []raster.Band{{BitsPerSample: 8}})
	rd, err := Open(writeGeoTIFF(t, src, &encode.GeoTIFFEncoder{}), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	if rd.Grid().GridToCRS != g.GridToCRS {
		t.Errorf("transform = %v, want %v", rd.Grid().GridToCRS, g.GridToCRS)
	}
}

func writePlainTIFF(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	path := filepath.Join(dir, "plain.tif")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpen_WorldFile(t *testing.T) {
	dir := t.TempDir()
	path := writePlainTIFF(t, dir)
	tfw := "2\n0\n0\n-2\n2600001\n1199999\n"
	if err := os.WriteFile(filepath.Join(dir, "plain.tfw"), []byte(tfw), 0o644); err != nil {
		t.Fatal(err)
	}

	rd, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()

	want := f64.Aff3{2, 0, 2600000, 0, -2, 1200000}
	if rd.Grid().GridToCRS != want {
		t.Errorf("transform = %v, want %v", rd.Grid().GridToCRS, want)
	}
	if rd.EPSG() != 2056 {
		t.Errorf("inferred EPSG = %d, want 2056", rd.EPSG())
	}
	out := readAll(t, rd, 0, rd.Grid())
	if v := out.At(0, 3, 2); v != 23 {
		t.Errorf("pixel = %v, want 23", v)
	}
}

func TestOpen_NotGeoreferenced(t *testing.T) {
	path := writePlainTIFF(t, t.TempDir())
	if _, err := Open(path, nil); !errors.Is(err, ErrNotGeoreferenced) {
		t.Errorf("err = %v, want ErrNotGeoreferenced", err)
	}
}

func TestOpen_Invalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.tif")
	if err := os.WriteFile(bad, []byte("not a tiff at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{bad, filepath.Join(dir, "missing.tif")} {
		if _, err := Open(p, nil); err == nil {
			t.Errorf("Open(%s) succeeded", p)
		}
	}
}

func TestSetCRS(t *testing.T) {
	g := lv95Grid(2, 2)
	g.CRS = coord.CRS{}
	src := synthetic(g, []raster.Band{{BitsPerSample: 8}})
	rd, err := Open(writeGeoTIFF(t, src, &encode.GeoTIFFEncoder{}), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	if rd.EPSG() != 2056 {
		t.Errorf("inferred EPSG = %d", rd.EPSG())
	}
	rd.SetCRS(coord.MustLookup(32632))
	if rd.CRS().Code() != 32632 || rd.Envelope().CRS.Code() != 32632 {
		t.Errorf("CRS after SetCRS = %v", rd.CRS())
	}
}

func TestParseWorldFile_Rotated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wld")
	if err := os.WriteFile(path, []byte("1 0.5 0.5 -1 100.25 200.75"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := parseWorldFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := f64.Aff3{1, 0.5, 100.25 - 0.75, 0.5, -1, 200.75 + 0.25}
	if got != want {
		t.Errorf("transform = %v, want %v", got, want)
	}
}

func TestParseGeoref_PixelIsPoint(t *testing.T) {
	ifd := &IFD{
		ModelPixelScale: []float64{2, 2, 0},
		ModelTiepoint:   []float64{0, 0, 0, 100, 200, 0},
		GeoKeys:         []uint16{1, 1, 0, 2, gkRasterType, 0, 1, rasterPixelIsPoint, gkProjectedCSType, 0, 1, 2056},
	}
	g := parseGeoref(ifd)
	if !g.ok || g.epsg != 2056 {
		t.Fatalf("georef = %+v", g)
	}
	if g.transform[2] != 99 || g.transform[5] != 201 {
		t.Errorf("origin = %v,%v want 99,201", g.transform[2], g.transform[5])
	}
}

func TestUndoHorizontal16(t *testing.T) {
	// Differenced row 10, +5, +5 in little-endian 16 bit.
	buf := []byte{10, 0, 5, 0, 5, 0}
	undoHorizontal(buf, binary.LittleEndian, 3, 1, 2)
	want := []byte{10, 0, 15, 0, 20, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf = %v, want %v", buf, want)
		}
	}
}

func TestDecodeTile_GrayJPEG(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	var raw bytes.Buffer
	if err := jpeg.Encode(&raw, img, nil); err != nil {
		t.Fatal(err)
	}
	ifd := &IFD{TileWidth: 16, TileHeight: 16, SamplesPerPixel: 1, Compression: compJPEG, BitsPerSample: []uint16{8}}
	tl, err := decodeTile(ifd, binary.LittleEndian, raw.Bytes(), 16)
	if err != nil {
		t.Fatal(err)
	}
	if v := tl.at(5, 5, 0); math.Abs(v-128) > 2 {
		t.Errorf("sample = %v, want ~128", v)
	}
}
