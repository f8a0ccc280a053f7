package cog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/resample"
)

// ErrNotGeoreferenced is returned when a TIFF has neither GeoTIFF tags nor a
// world file.
var ErrNotGeoreferenced = errors.New("cog: image is not georeferenced")

// Reader provides gridded access to a GeoTIFF or Cloud Optimized GeoTIFF.
// The file is memory-mapped; decoded tiles go through a shared TileCache.
type Reader struct {
	path   string
	data   []byte
	unmap  func() error
	bo     binary.ByteOrder
	levels []IFD
	grid   raster.GridGeometry
	epsg   int
	bands  []raster.Band
	cache  *TileCache

	mu     sync.Mutex
	closed bool
}

var _ raster.Reader = (*Reader)(nil)

// Open maps path and parses its structure. cache may be nil. A file whose
// CRS cannot be resolved still opens; CRS then reports the zero CRS and
// callers may supply one with SetCRS.
func Open(path string, cache *TileCache) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	data, unmap, err := mapFile(f, int(fi.Size()))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	r, err := newReader(path, data, cache)
	if err != nil {
		unmap()
		return nil, err
	}
	r.unmap = unmap
	return r, nil
}

func newReader(path string, data []byte, cache *TileCache) (*Reader, error) {
	ifds, bo, err := parseTIFF(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var levels []IFD
	for _, ifd := range ifds {
		if !ifd.IsMask() {
			levels = append(levels, ifd)
		}
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("%s: no image directories", path)
	}
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Width > levels[j].Width })
	for i := range levels {
		if err := levels[i].supported(); err != nil {
			return nil, fmt.Errorf("%s level %d: %w", path, i, err)
		}
		if levels[i].SamplesPerPixel != levels[0].SamplesPerPixel {
			return nil, fmt.Errorf("%s level %d: sample count differs from full resolution", path, i)
		}
	}

	first := &levels[0]
	geo := parseGeoref(first)
	if !geo.ok {
		wf := findWorldFile(path)
		if wf == "" {
			return nil, fmt.Errorf("%s: %w", path, ErrNotGeoreferenced)
		}
		if geo.transform, err = parseWorldFile(wf); err != nil {
			return nil, err
		}
	}
	if geo.epsg == 0 {
		geo.epsg = inferEPSG(geo.transform, int(first.Width), int(first.Height))
	}
	crs, _ := coord.Lookup(geo.epsg)

	r := &Reader{
		path:   path,
		data:   data,
		bo:     bo,
		levels: levels,
		epsg:   geo.epsg,
		cache:  cache,
		grid: raster.GridGeometry{
			Width:     int(first.Width),
			Height:    int(first.Height),
			GridToCRS: geo.transform,
			CRS:       crs,
		},
	}
	r.bands = bandInfo(first)
	return r, nil
}

func bandInfo(ifd *IFD) []raster.Band {
	nodata, hasNoData := 0.0, false
	if s := strings.TrimSpace(ifd.NoData); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			nodata, hasNoData = v, true
		}
	}
	bands := make([]raster.Band, ifd.SamplesPerPixel)
	for i := range bands {
		bands[i] = raster.Band{
			Name:          fmt.Sprintf("band%d", i+1),
			BitsPerSample: ifd.bits(),
			Float:         ifd.format() == fmtFloat,
			Signed:        ifd.format() != fmtUint,
			NoData:        nodata,
			HasNoData:     hasNoData,
		}
	}
	return bands
}

// Path returns the file path.
func (r *Reader) Path() string { return r.path }

// EPSG returns the EPSG code declared by the file, or inferred from its
// coordinates; 0 when neither worked.
func (r *Reader) EPSG() int { return r.epsg }

// SetCRS overrides the native CRS, for files whose GeoKeys are missing or
// use a code the registry does not know.
func (r *Reader) SetCRS(c coord.CRS) { r.grid.CRS = c }

func (r *Reader) CRS() coord.CRS            { return r.grid.CRS }
func (r *Reader) Grid() raster.GridGeometry { return r.grid }
func (r *Reader) Envelope() coord.Envelope  { return r.grid.Envelope() }
func (r *Reader) Bands() []raster.Band      { return r.bands }

// Directory returns the image directory of a level, for inspection.
func (r *Reader) Directory(level int) IFD { return r.levels[level] }

// Levels lists full resolution first, then overviews from fine to coarse.
func (r *Reader) Levels() []raster.Level {
	resX, resY := r.grid.Resolution()
	out := make([]raster.Level, len(r.levels))
	for i, ifd := range r.levels {
		sx := float64(r.grid.Width) / float64(ifd.Width)
		sy := float64(r.grid.Height) / float64(ifd.Height)
		out[i] = raster.Level{ResX: resX * sx, ResY: resY * sy, Width: int(ifd.Width), Height: int(ifd.Height)}
	}
	return out
}

func (r *Reader) levelGrid(level int) raster.GridGeometry {
	ifd := &r.levels[level]
	sx := float64(r.grid.Width) / float64(ifd.Width)
	sy := float64(r.grid.Height) / float64(ifd.Height)
	return r.grid.Scaled(sx, sy, int(ifd.Width), int(ifd.Height))
}

// Read renders the requested grid from one level of the pyramid.
func (r *Reader) Read(ctx context.Context, p raster.ReadParams) (*raster.Raster, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%s: reader is closed", r.path)
	}
	if p.Level < 0 || p.Level >= len(r.levels) {
		return nil, fmt.Errorf("%s: level %d out of range (have %d)", r.path, p.Level, len(r.levels))
	}
	bands, err := raster.PickBands(r.bands, p.Bands)
	if err != nil {
		return nil, err
	}
	s := &levelSampler{r: r, level: p.Level, ifd: &r.levels[p.Level]}
	out, err := resample.Render(ctx, p.Grid, r.levelGrid(p.Level), s, bands, p.Bands, p.Interp)
	if err != nil {
		return nil, err
	}
	if s.err != nil {
		out.Close()
		return nil, fmt.Errorf("%s: %w", r.path, s.err)
	}
	return out, nil
}

// Close unmaps the file and drops its cached tiles.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.cache.purge(r.path)
	r.data = nil
	if r.unmap != nil {
		return r.unmap()
	}
	return nil
}

// loadTile returns the decoded block at (col, row) of a level; nil with no
// error for sparse blocks that were never written.
func (r *Reader) loadTile(level, col, row int) (*tile, error) {
	key := tileKey{path: r.path, level: level, col: col, row: row}
	if t, ok := r.cache.get(key); ok {
		return t, nil
	}
	ifd := &r.levels[level]
	idx := row*ifd.TilesAcross() + col
	if idx >= len(ifd.TileOffsets) || idx >= len(ifd.TileByteCounts) {
		return nil, fmt.Errorf("block %d,%d at level %d: index %d out of range", col, row, level, idx)
	}
	off, n := ifd.TileOffsets[idx], ifd.TileByteCounts[idx]
	if off == 0 || n == 0 {
		return nil, nil
	}
	if off+n > uint64(len(r.data)) {
		return nil, fmt.Errorf("block %d,%d at level %d exceeds file size", col, row, level)
	}
	rows := int(ifd.TileHeight)
	if ifd.Striped {
		rows = min(rows, int(ifd.Height)-row*rows)
	}
	t, err := decodeTile(ifd, r.bo, r.data[off:off+n], rows)
	if err != nil {
		return nil, fmt.Errorf("block %d,%d at level %d: %w", col, row, level, err)
	}
	r.cache.put(key, t)
	return t, nil
}

// levelSampler exposes one pyramid level to the resampling kernels. The
// first decode error is kept and reported after rendering.
type levelSampler struct {
	r     *Reader
	level int
	ifd   *IFD
	err   error

	// last tile, to skip the cache lookup for runs within one block
	lastCol, lastRow int
	last             *tile
	hasLast          bool
}

func (s *levelSampler) Size() (int, int) { return int(s.ifd.Width), int(s.ifd.Height) }

func (s *levelSampler) Sample(band, col, row int) (float64, bool) {
	if s.err != nil || col < 0 || row < 0 || col >= int(s.ifd.Width) || row >= int(s.ifd.Height) {
		return 0, false
	}
	tw, th := int(s.ifd.TileWidth), int(s.ifd.TileHeight)
	tc, tr := col/tw, row/th
	if !s.hasLast || tc != s.lastCol || tr != s.lastRow {
		t, err := s.r.loadTile(s.level, tc, tr)
		if err != nil {
			s.err = err
			return 0, false
		}
		s.last, s.lastCol, s.lastRow, s.hasLast = t, tc, tr, true
	}
	t := s.last
	lx, ly := col-tc*tw, row-tr*th
	if t == nil || lx >= t.width || ly >= t.height || band >= t.spp {
		return 0, false
	}
	v := t.at(lx, ly, band)
	if math.IsNaN(v) {
		return 0, false
	}
	if b := s.r.bands[band]; b.HasNoData && v == b.NoData {
		return 0, false
	}
	return v, true
}
