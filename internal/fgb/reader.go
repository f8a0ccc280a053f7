package fgb

import (
	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// File is an opened FlatGeobuf dataset.
type File struct {
	fgb *flatgeobuf.FlatGeoBuf
}

// Open opens a FlatGeobuf file on disk.
func Open(path string) (*File, error) {
	f, err := flatgeobuf.New(path)
	if err != nil {
		return nil, err
	}
	return &File{fgb: f}, nil
}

// FromBytes opens an in-memory FlatGeobuf dataset.
func FromBytes(data []byte) (*File, error) {
	f, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, err
	}
	return &File{fgb: f}, nil
}

// Header returns the file metadata.
func (f *File) Header() Header {
	if f.fgb == nil {
		return Header{}
	}
	h := f.fgb.Header()
	out := Header{
		Name:          string(h.Name()),
		GeometryType:  flattypes.EnumNamesGeometryType[h.GeometryType()],
		FeaturesCount: h.FeaturesCount(),
		HasIndex:      h.IndexNodeSize() > 0,
	}
	if h.EnvelopeLength() >= 4 {
		out.Envelope = [4]float64{h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3)}
	}
	var crs flattypes.Crs
	if h.Crs(&crs) != nil {
		out.EPSG = int(crs.Code())
	}
	for i := 0; i < h.ColumnsLength(); i++ {
		var col flattypes.Column
		if h.Columns(&col, i) {
			out.Columns = append(out.Columns, Column{
				Name: string(col.Name()),
				Type: flattypes.EnumNamesColumnType[col.Type()],
			})
		}
	}
	return out
}

// Bound returns the header envelope.
func (f *File) Bound() orb.Bound {
	e := f.Header().Envelope
	return orb.Bound{Min: orb.Point{e[0], e[1]}, Max: orb.Point{e[2], e[3]}}
}

// Search returns the features whose boxes intersect b, using the index.
func (f *File) Search(b orb.Bound) ([]*geojson.Feature, error) {
	if f.fgb == nil {
		return nil, ErrClosed
	}
	h := f.fgb.Header()
	if h.IndexNodeSize() == 0 {
		return nil, ErrNoIndex
	}
	found, err := f.fgb.Search(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	if err != nil {
		return nil, err
	}
	out := make([]*geojson.Feature, 0, len(found))
	for _, ff := range found {
		if gf := toFeature(ff, h); gf != nil {
			out = append(out, gf)
		}
	}
	return out, nil
}

// All returns every feature. Files without an index can only be listed
// when empty.
func (f *File) All() ([]*geojson.Feature, error) {
	if f.fgb == nil {
		return nil, ErrClosed
	}
	h := f.Header()
	if h.FeaturesCount == 0 {
		return nil, nil
	}
	return f.Search(f.Bound())
}

// Close drops the reference to the mapped data.
func (f *File) Close() error {
	f.fgb = nil
	return nil
}

func toFeature(ff *flattypes.Feature, h *flattypes.Header) *geojson.Feature {
	var g flattypes.Geometry
	if ff.Geometry(&g) == nil {
		return nil
	}
	geom := fromFGB(&g)
	if geom == nil {
		return nil
	}
	out := geojson.NewFeature(geom)
	if n := ff.PropertiesLength(); n > 0 && h.ColumnsLength() > 0 {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(ff.Properties(i))
		}
		out.Properties = decodeProperties(data, h)
	}
	return out
}
