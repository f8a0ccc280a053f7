package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
	"golang.org/x/image/tiff"
)

// DecodeImage reads back the output of an image encoder.
func DecodeImage(data []byte, mime string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch Normalize(mime) {
	case MimePNG, MimeTerrarium:
		return png.Decode(r)
	case MimeJPEG:
		return jpeg.Decode(r)
	case MimeWebP:
		return webp.Decode(r)
	case MimeTIFF:
		return tiff.Decode(r)
	}
	return nil, fmt.Errorf("unsupported decode format: %q", mime)
}
