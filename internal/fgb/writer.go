package fgb

import (
	"io"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb/geojson"
)

// Write encodes features into w. Features without a geometry, or with one
// FlatGeobuf cannot store, are skipped.
func Write(w io.Writer, features []*geojson.Feature, opts Options) error {
	if len(features) == 0 {
		return ErrNoFeatures
	}

	geomType := flattypes.GeometryTypeUnknown
	for i, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		t := geometryType(f.Geometry)
		if i == 0 || geomType == flattypes.GeometryTypeUnknown {
			geomType = t
		} else if t != geomType {
			geomType = flattypes.GeometryTypeUnknown
			break
		}
	}

	b := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(b)
	header.SetGeometryType(geomType)
	if opts.Name != "" {
		header.SetName(opts.Name)
	}

	s := inferSchema(features)
	if len(s.names) > 0 {
		cols := make([]*writer.Column, len(s.names))
		for i, name := range s.names {
			c := writer.NewColumn(b)
			c.SetName(name)
			c.SetTitle(name)
			c.SetType(s.types[i])
			c.SetNullable(true)
			cols[i] = c
		}
		header.SetColumns(cols)
	}

	if opts.EPSG > 0 {
		crs := writer.NewCrs(b)
		crs.SetOrg("EPSG")
		crs.SetCode(int32(opts.EPSG))
		header.SetCrs(crs)
	}

	gen := &generator{features: features, schema: s}
	_, err := writer.NewWriter(header, !opts.NoIndex, gen, nil).Write(w)
	return err
}

// generator feeds features to the FlatGeobuf writer one at a time.
type generator struct {
	features []*geojson.Feature
	schema   *schema
	next     int
}

func (g *generator) Generate() *writer.Feature {
	for g.next < len(g.features) {
		f := g.features[g.next]
		g.next++
		if f == nil || f.Geometry == nil {
			continue
		}
		b := flatbuffers.NewBuilder(1024)
		geom := toFGB(f.Geometry, b)
		if geom == nil {
			continue
		}
		out := writer.NewFeature(b)
		out.SetGeometry(geom)
		if props := g.schema.encode(f.Properties); len(props) > 0 {
			out.SetProperties(props)
		}
		return out
	}
	return nil
}
