// Package vector provides feature sources and the streaming wrappers the
// vector extractor chains on top of them: reprojection and clipping.
package vector

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/fgb"
	"github.com/pspoerri/geoextract/internal/filter"
)

// Schema describes a feature source.
type Schema struct {
	Name         string
	CRS          coord.CRS
	GeometryType string
}

// Iterator streams features. Next returns false at the end or on error;
// Err tells them apart.
type Iterator interface {
	Next() bool
	Feature() *geojson.Feature
	Err() error
	Close() error
}

// Source is a queryable feature collection.
type Source interface {
	Schema() Schema
	// Query streams features matching f; nil matches everything.
	Query(ctx context.Context, f filter.Filter) (Iterator, error)
	// Count returns the number of features matching f without handing
	// them out.
	Count(ctx context.Context, f filter.Filter) (uint64, error)
}

// Memory is a source backed by a slice.
type Memory struct {
	schema   Schema
	features []*geojson.Feature
}

// NewMemory wraps features. They must not be modified afterwards.
func NewMemory(schema Schema, features []*geojson.Feature) *Memory {
	return &Memory{schema: schema, features: features}
}

func (m *Memory) Schema() Schema { return m.schema }

func (m *Memory) Query(ctx context.Context, f filter.Filter) (Iterator, error) {
	return &sliceIterator{ctx: ctx, features: m.features, filter: orInclude(f), pos: -1}, nil
}

func (m *Memory) Count(ctx context.Context, f filter.Filter) (uint64, error) {
	return countMatches(ctx, m.features, orInclude(f))
}

func (m *Memory) Close() error { return nil }

func countMatches(ctx context.Context, features []*geojson.Feature, f filter.Filter) (uint64, error) {
	var n uint64
	for i, feat := range features {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if f.Match(feat) {
			n++
		}
	}
	return n, nil
}

func orInclude(f filter.Filter) filter.Filter {
	if f == nil {
		return filter.Include
	}
	return filter.Simplify(f)
}

type sliceIterator struct {
	ctx      context.Context
	features []*geojson.Feature
	filter   filter.Filter
	pos      int
	err      error
}

func (it *sliceIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.pos+1 < len(it.features) {
		it.pos++
		if it.pos%1024 == 0 {
			if err := it.ctx.Err(); err != nil {
				it.err = err
				return false
			}
		}
		if it.filter.Match(it.features[it.pos]) {
			return true
		}
	}
	return false
}

func (it *sliceIterator) Feature() *geojson.Feature { return it.features[it.pos] }
func (it *sliceIterator) Err() error                { return it.err }

func (it *sliceIterator) Close() error {
	it.features = nil
	return nil
}

// OpenGeoJSON loads a FeatureCollection. GeoJSON carries no CRS of its own,
// so crs defaults to EPSG:4326 when zero.
func OpenGeoJSON(path string, crs coord.CRS) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if crs.IsZero() {
		crs = coord.WGS84()
	}
	gt := ""
	if len(fc.Features) > 0 && fc.Features[0].Geometry != nil {
		gt = fc.Features[0].Geometry.GeoJSONType()
	}
	return NewMemory(Schema{Name: path, CRS: crs, GeometryType: gt}, fc.Features), nil
}

// FlatGeobuf is a source over an indexed FlatGeobuf file. Spatial filters
// narrow the scan through the file's R-tree.
type FlatGeobuf struct {
	file   *fgb.File
	schema Schema
}

// OpenFlatGeobuf opens path. The header CRS wins; fallback is used when the
// header has none.
func OpenFlatGeobuf(path string, fallback coord.CRS) (*FlatGeobuf, error) {
	f, err := fgb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	h := f.Header()
	crs := fallback
	if h.EPSG > 0 {
		if crs, err = coord.Lookup(h.EPSG); err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	name := h.Name
	if name == "" {
		name = path
	}
	return &FlatGeobuf{file: f, schema: Schema{Name: name, CRS: crs, GeometryType: h.GeometryType}}, nil
}

func (s *FlatGeobuf) Schema() Schema { return s.schema }

func (s *FlatGeobuf) candidates(f filter.Filter) ([]*geojson.Feature, error) {
	b, ok := filter.SpatialBound(f)
	if !ok {
		b = s.file.Bound()
	}
	feats, err := s.file.Search(b)
	if errors.Is(err, fgb.ErrNoIndex) && s.file.Header().FeaturesCount == 0 {
		return nil, nil
	}
	return feats, err
}

func (s *FlatGeobuf) Query(ctx context.Context, f filter.Filter) (Iterator, error) {
	f = orInclude(f)
	feats, err := s.candidates(f)
	if err != nil {
		return nil, err
	}
	return &sliceIterator{ctx: ctx, features: feats, filter: f, pos: -1}, nil
}

// Count decodes the index candidates to evaluate f on them; the features
// are dropped right away.
func (s *FlatGeobuf) Count(ctx context.Context, f filter.Filter) (uint64, error) {
	f = orInclude(f)
	feats, err := s.candidates(f)
	if err != nil {
		return 0, err
	}
	return countMatches(ctx, feats, f)
}

func (s *FlatGeobuf) Close() error { return s.file.Close() }
