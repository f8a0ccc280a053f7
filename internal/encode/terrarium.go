package encode

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/pspoerri/geoextract/internal/raster"
)

// TerrariumEncoder writes the first band as Terrarium-encoded elevation PNG.
type TerrariumEncoder struct {
	Level int
}

func (e *TerrariumEncoder) Encode(_ context.Context, w io.Writer, r *raster.Raster) error {
	width, height := r.Size()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			v, ok := r.Sample(0, col, row)
			if !ok {
				v = math.NaN()
			}
			img.SetRGBA(col, row, ElevationToTerrarium(v))
		}
	}
	enc := &png.Encoder{CompressionLevel: pngLevel(e.Level)}
	return enc.Encode(w, img)
}

func (e *TerrariumEncoder) Mime() string      { return MimeTerrarium }
func (e *TerrariumEncoder) Extension() string { return ".png" }

// ElevationToTerrarium converts an elevation in meters to Terrarium RGB:
// elevation = (R*256 + G + B/256) - 32768. NaN becomes transparent.
func ElevationToTerrarium(elevation float64) color.RGBA {
	if math.IsNaN(elevation) || math.IsInf(elevation, 0) {
		return color.RGBA{}
	}
	v := math.Max(0, math.Min(elevation+32768, 65535.996))
	r := math.Floor(v / 256)
	g := math.Floor(v - r*256)
	b := math.Floor((v - r*256 - g) * 256)
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(math.Min(b, 255)), A: 255}
}

// TerrariumToElevation inverts ElevationToTerrarium. Transparent pixels
// yield NaN.
func TerrariumToElevation(c color.RGBA) float64 {
	if c.A == 0 {
		return math.NaN()
	}
	return float64(c.R)*256 + float64(c.G) + float64(c.B)/256 - 32768
}
