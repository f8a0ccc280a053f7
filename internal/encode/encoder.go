// Package encode writes rasters and features in the output formats a client
// can request, selected by mime type.
package encode

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/raster"
)

// Output mime types.
const (
	MimePNG        = "image/png"
	MimeJPEG       = "image/jpeg"
	MimeWebP       = "image/webp"
	MimeTIFF       = "image/tiff"
	MimeGeoTIFF    = "image/geotiff"
	MimeTerrarium  = "image/x-terrarium"
	MimeGeoJSON    = "application/geo+json"
	MimeFlatGeobuf = "application/flatgeobuf"
)

// Params are raster write parameters.
type Params struct {
	// Quality applies to lossy formats, 1-100; 0 selects 85.
	Quality int
	// Compression names the GeoTIFF/TIFF block compression: "none" or "deflate".
	Compression string
	// CompressionLevel is the deflate level 1-9; 0 selects the default.
	CompressionLevel int
	// TileSize writes square GeoTIFF tiles; 0 writes strips.
	TileSize int
	// Overviews is the number of 2x reduced levels added to a GeoTIFF.
	Overviews int
}

// RasterEncoder writes a raster in one output format.
type RasterEncoder interface {
	Mime() string
	Extension() string
	Encode(ctx context.Context, w io.Writer, r *raster.Raster) error
}

// Normalize maps mime aliases and short format names to a canonical mime.
func Normalize(mime string) string {
	m := strings.ToLower(strings.TrimSpace(mime))
	if strings.Contains(m, "geotiff") {
		return MimeGeoTIFF
	}
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	switch m {
	case "png":
		return MimePNG
	case "jpeg", "jpg", "image/jpg":
		return MimeJPEG
	case "webp":
		return MimeWebP
	case "tiff", "tif":
		return MimeTIFF
	case "terrarium":
		return MimeTerrarium
	case "geojson", "json", "application/json":
		return MimeGeoJSON
	case "fgb", "flatgeobuf":
		return MimeFlatGeobuf
	}
	return m
}

// NewRaster returns the raster encoder for mime.
func NewRaster(mime string, p Params) (RasterEncoder, error) {
	switch Normalize(mime) {
	case MimePNG:
		return &PNGEncoder{Level: p.CompressionLevel}, nil
	case MimeJPEG:
		return &JPEGEncoder{Quality: p.Quality}, nil
	case MimeWebP:
		return &WebPEncoder{Quality: p.Quality}, nil
	case MimeTIFF:
		return &TIFFEncoder{Deflate: p.Compression == "deflate"}, nil
	case MimeGeoTIFF:
		e, err := newGeoTIFFEncoder(p)
		if err != nil {
			return nil, err
		}
		return e, nil
	case MimeTerrarium:
		return &TerrariumEncoder{Level: p.CompressionLevel}, nil
	}
	return nil, fmt.Errorf("unsupported raster format: %q (supported: %s, %s, %s, %s, %s, %s)",
		mime, MimePNG, MimeJPEG, MimeWebP, MimeTIFF, MimeGeoTIFF, MimeTerrarium)
}

// SupportedCRS reports whether a format can carry data in the given CRS
// without reprojection. Formats without georeferencing accept any CRS;
// georeferenced formats accept what the CRS registry can describe.
func SupportedCRS(mime string, code int) bool {
	switch Normalize(mime) {
	case MimeGeoTIFF, MimeFlatGeobuf:
		_, err := coord.Lookup(code)
		return err == nil
	case MimeGeoJSON:
		// RFC 7946 coordinates are always lon/lat.
		return code == 4326
	}
	return true
}
