package encode

import (
	"context"
	"image/png"
	"io"

	"github.com/pspoerri/geoextract/internal/raster"
)

// PNGEncoder writes rasters as 8-bit PNG.
type PNGEncoder struct {
	// Level 1-9 maps onto the png package's speed/size presets; 0 is default.
	Level int
}

func (e *PNGEncoder) Encode(_ context.Context, w io.Writer, r *raster.Raster) error {
	enc := &png.Encoder{CompressionLevel: pngLevel(e.Level)}
	return enc.Encode(w, Image(r))
}

func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.DefaultCompression
	case level <= 3:
		return png.BestSpeed
	case level >= 8:
		return png.BestCompression
	}
	return png.DefaultCompression
}

func (e *PNGEncoder) Mime() string      { return MimePNG }
func (e *PNGEncoder) Extension() string { return ".png" }
