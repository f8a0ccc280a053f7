package encode

import (
	"context"
	"io"

	"golang.org/x/image/tiff"

	"github.com/pspoerri/geoextract/internal/raster"
)

// TIFFEncoder writes a plain 8-bit TIFF without georeferencing.
type TIFFEncoder struct {
	Deflate bool
}

func (e *TIFFEncoder) Encode(_ context.Context, w io.Writer, r *raster.Raster) error {
	opts := &tiff.Options{Compression: tiff.Uncompressed}
	if e.Deflate {
		opts.Compression = tiff.Deflate
		opts.Predictor = true
	}
	return tiff.Encode(w, Image(r), opts)
}

func (e *TIFFEncoder) Mime() string      { return MimeTIFF }
func (e *TIFFEncoder) Extension() string { return ".tif" }
