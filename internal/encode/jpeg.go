package encode

import (
	"context"
	"image/jpeg"
	"io"

	"github.com/pspoerri/geoextract/internal/raster"
)

// JPEGEncoder writes rasters as JPEG. Pixels without data become black.
type JPEGEncoder struct {
	Quality int // 1-100, default 85
}

func (e *JPEGEncoder) Encode(_ context.Context, w io.Writer, r *raster.Raster) error {
	quality := e.Quality
	if quality <= 0 {
		quality = 85
	}
	return jpeg.Encode(w, Image(r), &jpeg.Options{Quality: quality})
}

func (e *JPEGEncoder) Mime() string      { return MimeJPEG }
func (e *JPEGEncoder) Extension() string { return ".jpg" }
