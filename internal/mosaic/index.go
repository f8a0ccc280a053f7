package mosaic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/pspoerri/geoextract/internal/cog"
	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/fgb"
	"github.com/pspoerri/geoextract/internal/raster"
)

// LocationAttr holds the granule path, relative to the index file.
const LocationAttr = "location"

// Options configure Open.
type Options struct {
	// CRS of the mosaic; zero takes the first granule's.
	CRS coord.CRS
	// IndexCRS overrides the CRS of the index footprints. GeoJSON indexes
	// default to EPSG:4326, FlatGeobuf ones to the header's CRS.
	IndexCRS    coord.CRS
	Descriptors raster.Descriptors
	Cache       *cog.TileCache
	Log         *zerolog.Logger
}

// BuildIndex describes each GeoTIFF as an index feature: its footprint in
// indexCRS and the DefaultDescriptors attributes. Locations are stored
// relative to dir when possible.
func BuildIndex(ctx context.Context, paths []string, dir string, indexCRS coord.CRS) ([]*geojson.Feature, error) {
	out := make([]*geojson.Feature, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := cog.Open(p, nil)
		if err != nil {
			return nil, err
		}
		f, err := describe(r, indexCRS)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		loc := p
		if rel, err := filepath.Rel(dir, p); err == nil && !strings.HasPrefix(rel, "..") {
			loc = rel
		}
		f.ID = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		f.Properties[LocationAttr] = filepath.ToSlash(loc)
		out = append(out, f)
	}
	return out, nil
}

func describe(r *cog.Reader, indexCRS coord.CRS) (*geojson.Feature, error) {
	if r.CRS().IsZero() {
		return nil, coord.ErrNoCRS
	}
	fp, err := r.Envelope().Geometry().To(indexCRS)
	if err != nil {
		return nil, err
	}
	f := geojson.NewFeature(fp.Geom)
	rx, ry := r.Grid().Resolution()
	f.Properties[DefaultDescriptors.ResolutionX] = rx
	f.Properties[DefaultDescriptors.ResolutionY] = ry
	f.Properties[DefaultDescriptors.CRS] = r.CRS().Identifier()
	return f, nil
}

// Open loads a GeoJSON or FlatGeobuf index and opens every granule it lists.
func Open(ctx context.Context, index string, opts Options) (*Mosaic, error) {
	log := opts.Log
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	features, indexCRS, err := readIndex(index)
	if err != nil {
		return nil, err
	}
	if !opts.IndexCRS.IsZero() {
		indexCRS = opts.IndexCRS
	}

	dir := filepath.Dir(index)
	granules := make([]Granule, 0, len(features))
	closeAll := func() {
		for _, g := range granules {
			g.Reader.Close()
		}
	}
	for i, f := range features {
		if err := ctx.Err(); err != nil {
			closeAll()
			return nil, err
		}
		g, err := openGranule(f, dir, opts)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("%s feature %d: %w", index, i, err)
		}
		granules = append(granules, g)
	}
	log.Debug().Str("index", index).Int("granules", len(granules)).Str("index_crs", indexCRS.String()).Msg("mosaic index loaded")

	m, err := New(opts.CRS, indexCRS, opts.Descriptors, granules)
	if err != nil {
		closeAll()
		return nil, err
	}
	return m, nil
}

func openGranule(f *geojson.Feature, dir string, opts Options) (Granule, error) {
	loc, _ := f.Properties[LocationAttr].(string)
	if loc == "" {
		return Granule{}, fmt.Errorf("missing %q attribute", LocationAttr)
	}
	if !filepath.IsAbs(loc) {
		loc = filepath.Join(dir, filepath.FromSlash(loc))
	}
	r, err := cog.Open(loc, opts.Cache)
	if err != nil {
		return Granule{}, err
	}

	g := Granule{Reader: r}
	g.ID = fmt.Sprint(f.ID)
	if f.ID == nil {
		g.ID = strings.TrimSuffix(filepath.Base(loc), filepath.Ext(loc))
	}
	g.Attributes = map[string]any(f.Properties)
	switch geom := f.Geometry.(type) {
	case orb.Polygon:
		g.Footprint = geom
	case orb.MultiPolygon:
		if len(geom) == 1 {
			g.Footprint = geom[0]
		}
	}
	// A declared granule CRS wins over what the file itself says.
	if opts.Descriptors.Heterogeneous() {
		if crs, err := g.CRS(opts.Descriptors); err == nil && !crs.Equal(r.CRS()) {
			r.SetCRS(crs)
		}
	}
	return g, nil
}

func readIndex(path string) ([]*geojson.Feature, coord.CRS, error) {
	if strings.EqualFold(filepath.Ext(path), ".fgb") {
		f, err := fgb.Open(path)
		if err != nil {
			return nil, coord.CRS{}, err
		}
		defer f.Close()
		crs := coord.WGS84()
		if code := f.Header().EPSG; code > 0 {
			if c, err := coord.Lookup(code); err == nil {
				crs = c
			}
		}
		features, err := f.All()
		return features, crs, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, coord.CRS{}, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, coord.CRS{}, fmt.Errorf("%s: %w", path, err)
	}
	return fc.Features, coord.WGS84(), nil
}
