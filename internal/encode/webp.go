package encode

import (
	"context"
	"io"

	"github.com/gen2brain/webp"

	"github.com/pspoerri/geoextract/internal/raster"
)

// WebPEncoder writes rasters as lossy WebP using a pure-Go (WASM-based)
// encoder; a system libwebp is used through purego when available.
type WebPEncoder struct {
	Quality int
}

func (e *WebPEncoder) Encode(_ context.Context, w io.Writer, r *raster.Raster) error {
	quality := e.Quality
	if quality <= 0 {
		quality = 85
	}
	return webp.Encode(w, Image(r), webp.Options{Quality: quality})
}

func (e *WebPEncoder) Mime() string      { return MimeWebP }
func (e *WebPEncoder) Extension() string { return ".webp" }
