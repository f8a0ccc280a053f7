package encode

import (
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/fgb"
)

// FeatureWriter receives features one at a time. Close completes the
// document; it does not close the underlying writer.
type FeatureWriter interface {
	Write(f *geojson.Feature) error
	Close() error
}

// FeatureEncoder writes features in one output format.
type FeatureEncoder interface {
	Mime() string
	Extension() string
	NewWriter(w io.Writer, crs coord.CRS) (FeatureWriter, error)
}

// NewFeature returns the feature encoder for mime.
func NewFeature(mime string) (FeatureEncoder, error) {
	switch Normalize(mime) {
	case MimeGeoJSON:
		return GeoJSONEncoder{}, nil
	case MimeFlatGeobuf:
		return FlatGeobufEncoder{}, nil
	}
	return nil, fmt.Errorf("unsupported feature format: %q (supported: %s, %s)", mime, MimeGeoJSON, MimeFlatGeobuf)
}

// GeoJSONEncoder streams a FeatureCollection, one write per feature.
type GeoJSONEncoder struct{}

func (GeoJSONEncoder) Mime() string      { return MimeGeoJSON }
func (GeoJSONEncoder) Extension() string { return ".geojson" }

func (GeoJSONEncoder) NewWriter(w io.Writer, crs coord.CRS) (FeatureWriter, error) {
	head := `{"type":"FeatureCollection",`
	if !crs.IsZero() && crs.Code() != 4326 {
		head += fmt.Sprintf(`"crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::%d"}},`, crs.Code())
	}
	head += `"features":[`
	if _, err := io.WriteString(w, head); err != nil {
		return nil, err
	}
	return &geojsonWriter{w: w}, nil
}

type geojsonWriter struct {
	w     io.Writer
	n     int
	ended bool
}

func (g *geojsonWriter) Write(f *geojson.Feature) error {
	data, err := f.MarshalJSON()
	if err != nil {
		return err
	}
	if g.n > 0 {
		data = append([]byte{','}, data...)
	}
	g.n++
	_, err = g.w.Write(data)
	return err
}

func (g *geojsonWriter) Close() error {
	if g.ended {
		return nil
	}
	g.ended = true
	_, err := io.WriteString(g.w, "]}\n")
	return err
}

// FlatGeobufEncoder collects features and writes an indexed FlatGeobuf file
// on Close, since the index and column schema precede the features.
type FlatGeobufEncoder struct{}

func (FlatGeobufEncoder) Mime() string      { return MimeFlatGeobuf }
func (FlatGeobufEncoder) Extension() string { return ".fgb" }

func (FlatGeobufEncoder) NewWriter(w io.Writer, crs coord.CRS) (FeatureWriter, error) {
	return &fgbWriter{w: w, epsg: crs.Code()}, nil
}

type fgbWriter struct {
	w        io.Writer
	epsg     int
	features []*geojson.Feature
	ended    bool
}

func (f *fgbWriter) Write(feat *geojson.Feature) error {
	f.features = append(f.features, feat)
	return nil
}

func (f *fgbWriter) Close() error {
	if f.ended {
		return nil
	}
	f.ended = true
	return fgb.Write(f.w, f.features, fgb.Options{EPSG: f.epsg})
}
