// Package mosaic composes many gridded granules, each in its own CRS, into
// one structured reader with a queryable granule index.
package mosaic

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/filter"
	"github.com/pspoerri/geoextract/internal/raster"
)

var (
	ErrEmpty     = errors.New("mosaic: no granules")
	ErrBandCount = errors.New("mosaic: granules disagree on band count")
)

// DefaultDescriptors are the attribute names written by BuildIndex.
var DefaultDescriptors = raster.Descriptors{
	ResolutionX: "resx",
	ResolutionY: "resy",
	CRS:         "crs",
}

// Granule pairs an index entry with the reader for its data.
type Granule struct {
	raster.Granule
	Reader raster.Reader
}

// Mosaic is a structured reader. Its native grid covers the union of all
// granule envelopes in the mosaic CRS at the finest granule resolution.
type Mosaic struct {
	crs      coord.CRS
	indexCRS coord.CRS
	desc     raster.Descriptors
	granules []Granule
	grid     raster.GridGeometry
	bands    []raster.Band
	// view is set on mosaics derived by InCRS; they do not own the readers.
	view bool
}

var (
	_ raster.Reader         = (*Mosaic)(nil)
	_ raster.GranuleCatalog = (*Mosaic)(nil)
	_ raster.Retargeter     = (*Mosaic)(nil)
)

// New builds a mosaic. A zero crs takes the CRS of the first granule; a zero
// indexCRS uses crs. Granules without a footprint get one derived from
// their reader's envelope.
func New(crs, indexCRS coord.CRS, desc raster.Descriptors, granules []Granule) (*Mosaic, error) {
	if len(granules) == 0 {
		return nil, ErrEmpty
	}
	if crs.IsZero() {
		crs = granules[0].Reader.CRS()
	}
	if crs.IsZero() {
		return nil, fmt.Errorf("mosaic: %w", coord.ErrNoCRS)
	}
	if indexCRS.IsZero() {
		indexCRS = crs
	}

	m := &Mosaic{
		crs:      crs,
		indexCRS: indexCRS,
		desc:     desc,
		granules: make([]Granule, len(granules)),
		bands:    granules[0].Reader.Bands(),
	}
	var union coord.Envelope
	resX, resY := math.Inf(1), math.Inf(1)
	for i, g := range granules {
		if g.Reader.CRS().IsZero() {
			return nil, fmt.Errorf("mosaic: granule %s: %w", g.ID, coord.ErrNoCRS)
		}
		if len(g.Reader.Bands()) != len(m.bands) {
			return nil, fmt.Errorf("%w: granule %s has %d, want %d", ErrBandCount, g.ID, len(g.Reader.Bands()), len(m.bands))
		}
		native := g.Reader.Envelope()
		env, err := native.To(crs)
		if err != nil {
			return nil, fmt.Errorf("mosaic: granule %s: %w", g.ID, err)
		}
		if len(g.Footprint) == 0 {
			fp, err := native.Geometry().To(indexCRS)
			if err != nil {
				return nil, fmt.Errorf("mosaic: granule %s: %w", g.ID, err)
			}
			g.Footprint = fp.Geom.(orb.Polygon)
		}
		if g.ID == "" {
			g.ID = fmt.Sprintf("granule-%d", i)
		}
		m.granules[i] = g

		if i == 0 {
			union = env
		} else {
			union = union.Union(env)
		}
		// Native resolution scaled by how much the envelope stretched.
		rx, ry := g.Reader.Grid().Resolution()
		resX = math.Min(resX, rx*env.Width()/native.Width())
		resY = math.Min(resY, ry*env.Height()/native.Height())
	}

	grid, err := raster.GridForEnvelope(union, resX, resY)
	if err != nil {
		return nil, fmt.Errorf("mosaic: %w", err)
	}
	m.grid = grid
	return m, nil
}

// Source returns the mosaic as a structured source.
func (m *Mosaic) Source() raster.Source { return raster.Source{Reader: m, Granules: m} }

func (m *Mosaic) CRS() coord.CRS                  { return m.crs }
func (m *Mosaic) Grid() raster.GridGeometry       { return m.grid }
func (m *Mosaic) Envelope() coord.Envelope        { return m.grid.Envelope() }
func (m *Mosaic) Bands() []raster.Band            { return m.bands }
func (m *Mosaic) Descriptors() raster.Descriptors { return m.desc }
func (m *Mosaic) IndexCRS() coord.CRS             { return m.indexCRS }

// Levels reports the mosaic grid only. Each granule picks its own overview
// when read.
func (m *Mosaic) Levels() []raster.Level {
	rx, ry := m.grid.Resolution()
	return []raster.Level{{ResX: rx, ResY: ry, Width: m.grid.Width, Height: m.grid.Height}}
}

// Granules returns the index entries matching f, in index order.
func (m *Mosaic) Granules(ctx context.Context, f filter.Filter) ([]raster.Granule, error) {
	if f == nil {
		f = filter.Include
	}
	var out []raster.Granule
	for _, g := range m.granules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.Match(g.Feature()) {
			out = append(out, g.Granule)
		}
	}
	return out, nil
}

// Read renders every granule overlapping p.Grid into one raster. Where
// granules overlap, the first one in index order wins.
func (m *Mosaic) Read(ctx context.Context, p raster.ReadParams) (*raster.Raster, error) {
	if p.Level != 0 {
		return nil, fmt.Errorf("mosaic: level %d out of range (have 1)", p.Level)
	}
	bands, err := raster.PickBands(m.bands, p.Bands)
	if err != nil {
		return nil, err
	}
	out := raster.New(p.Grid, bands)

	want, err := p.Grid.Envelope().To(m.indexCRS)
	if err != nil {
		return nil, fmt.Errorf("mosaic: %w", err)
	}
	for _, g := range m.granules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !g.Footprint.Bound().Intersects(want.Bound) {
			continue
		}
		level, err := pickLevel(g.Reader, p.Grid)
		if err != nil {
			return nil, fmt.Errorf("mosaic: granule %s: %w", g.ID, err)
		}
		part, err := g.Reader.Read(ctx, raster.ReadParams{Grid: p.Grid, Level: level, Bands: p.Bands, Interp: p.Interp})
		if err != nil {
			return nil, fmt.Errorf("mosaic: granule %s: %w", g.ID, err)
		}
		fill(out, part)
		part.Close()
	}
	return out, nil
}

// fill copies pixels valid in src and missing in dst. Both share a grid.
func fill(dst, src *raster.Raster) {
	for row := 0; row < dst.Grid.Height; row++ {
		for col := 0; col < dst.Grid.Width; col++ {
			if dst.IsValid(col, row) || !src.IsValid(col, row) {
				continue
			}
			for b := range dst.Bands {
				dst.Set(b, col, row, src.At(b, col, row))
			}
		}
	}
}

// pickLevel returns the coarsest overview of r that is still at least as
// fine as grid, measured in r's CRS.
func pickLevel(r raster.Reader, grid raster.GridGeometry) (int, error) {
	levels := r.Levels()
	if len(levels) < 2 {
		return 0, nil
	}
	env, err := grid.Envelope().To(r.CRS())
	if err != nil {
		return 0, err
	}
	want := math.Min(env.Width()/float64(grid.Width), env.Height()/float64(grid.Height))
	best := 0
	for i, l := range levels {
		if math.Max(l.ResX, l.ResY) <= want*(1+1e-9) {
			best = i
		}
	}
	return best, nil
}

// InCRS returns a view of the same granules with crs as the mosaic CRS.
// Granules stored in crs are then read without reprojection. The view shares
// the granule readers; closing it is a no-op.
func (m *Mosaic) InCRS(crs coord.CRS) (raster.Source, error) {
	if crs.Equal(m.crs) {
		return m.Source(), nil
	}
	v, err := New(crs, m.indexCRS, m.desc, m.granules)
	if err != nil {
		return raster.Source{}, err
	}
	v.view = true
	return v.Source(), nil
}

// Close closes every granule reader.
func (m *Mosaic) Close() error {
	if m.view {
		return nil
	}
	var errs []error
	for _, g := range m.granules {
		if err := g.Reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("granule %s: %w", g.ID, err))
		}
	}
	return errors.Join(errs...)
}
