package cog

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"

	"golang.org/x/image/tiff/lzw"
)

const (
	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3
)

// supported reports whether the directory can be decoded by decodeTile.
func (ifd *IFD) supported() error {
	switch ifd.Compression {
	case compNone, compLZW, compDeflate, compDeflateP, compJPEG:
	default:
		return fmt.Errorf("unsupported compression %d", ifd.Compression)
	}
	if ifd.PlanarConfig != 1 && ifd.SamplesPerPixel > 1 {
		return fmt.Errorf("planar configuration %d is not supported", ifd.PlanarConfig)
	}
	bits := ifd.bits()
	for _, b := range ifd.BitsPerSample {
		if int(b) != bits {
			return fmt.Errorf("mixed bits per sample %v", ifd.BitsPerSample)
		}
	}
	switch ifd.format() {
	case fmtUint, fmtInt:
		if bits != 8 && bits != 16 && bits != 32 {
			return fmt.Errorf("unsupported integer sample size %d", bits)
		}
	case fmtFloat:
		if bits != 32 && bits != 64 {
			return fmt.Errorf("unsupported float sample size %d", bits)
		}
	default:
		return fmt.Errorf("unsupported sample format %d", ifd.format())
	}
	if ifd.Compression == compJPEG && bits != 8 {
		return fmt.Errorf("JPEG tiles must be 8 bit, got %d", bits)
	}
	return nil
}

func (ifd *IFD) bits() int {
	if len(ifd.BitsPerSample) == 0 {
		return 1
	}
	return int(ifd.BitsPerSample[0])
}

func (ifd *IFD) format() int {
	if len(ifd.SampleFormat) == 0 {
		return fmtUint
	}
	return int(ifd.SampleFormat[0])
}

// decodeTile turns the raw bytes of tile (or strip) index into samples.
// rows is the number of image rows the block covers.
func decodeTile(ifd *IFD, bo binary.ByteOrder, raw []byte, rows int) (*tile, error) {
	spp := int(ifd.SamplesPerPixel)
	t := &tile{width: int(ifd.TileWidth), height: rows, spp: spp}

	if ifd.Compression == compJPEG {
		return decodeJPEG(ifd, raw, t)
	}

	var buf []byte
	var err error
	switch ifd.Compression {
	case compNone:
		buf = raw
		if ifd.Predictor != predictorNone {
			// raw aliases the read-only mapping.
			buf = append([]byte(nil), raw...)
		}
	case compLZW:
		buf, err = inflate(lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8))
	case compDeflate, compDeflateP:
		var zr io.ReadCloser
		if zr, err = zlib.NewReader(bytes.NewReader(raw)); err == nil {
			buf, err = inflate(zr)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}

	bps := ifd.bits() / 8
	rowBytes := t.width * spp * bps
	if avail := len(buf) / rowBytes; avail < rows {
		// Short final strips are legal; short tiles are not.
		if !ifd.Striped {
			return nil, fmt.Errorf("tile holds %d bytes, want %d", len(buf), rowBytes*rows)
		}
		t.height = avail
	}
	buf = buf[:rowBytes*t.height]

	switch ifd.Predictor {
	case predictorNone:
	case predictorHorizontal:
		undoHorizontal(buf, bo, t.width, spp, bps)
	case predictorFloat:
		if ifd.format() != fmtFloat {
			return nil, fmt.Errorf("floating point predictor on integer samples")
		}
		buf = undoFloat(buf, t.width*spp, bps, bo)
	default:
		return nil, fmt.Errorf("unsupported predictor %d", ifd.Predictor)
	}

	t.data = make([]float64, t.width*t.height*spp)
	conv := sampleReader(ifd.format(), bps, bo)
	for i := range t.data {
		t.data[i] = conv(buf[i*bps:])
	}
	return t, nil
}

func inflate(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}

// sampleReader returns a function that reads one sample as float64.
func sampleReader(format, bps int, bo binary.ByteOrder) func([]byte) float64 {
	switch {
	case format == fmtFloat && bps == 4:
		return func(b []byte) float64 { return float64(math.Float32frombits(bo.Uint32(b))) }
	case format == fmtFloat:
		return func(b []byte) float64 { return math.Float64frombits(bo.Uint64(b)) }
	case format == fmtInt && bps == 1:
		return func(b []byte) float64 { return float64(int8(b[0])) }
	case format == fmtInt && bps == 2:
		return func(b []byte) float64 { return float64(int16(bo.Uint16(b))) }
	case format == fmtInt:
		return func(b []byte) float64 { return float64(int32(bo.Uint32(b))) }
	case bps == 1:
		return func(b []byte) float64 { return float64(b[0]) }
	case bps == 2:
		return func(b []byte) float64 { return float64(bo.Uint16(b)) }
	default:
		return func(b []byte) float64 { return float64(bo.Uint32(b)) }
	}
}

// undoHorizontal reverses predictor 2 in place.
func undoHorizontal(buf []byte, bo binary.ByteOrder, width, spp, bps int) {
	rowBytes := width * spp * bps
	for off := 0; off+rowBytes <= len(buf); off += rowBytes {
		row := buf[off : off+rowBytes]
		for i := spp; i < width*spp; i++ {
			p, c := (i-spp)*bps, i*bps
			switch bps {
			case 1:
				row[c] += row[p]
			case 2:
				bo.PutUint16(row[c:], bo.Uint16(row[c:])+bo.Uint16(row[p:]))
			case 4:
				bo.PutUint32(row[c:], bo.Uint32(row[c:])+bo.Uint32(row[p:]))
			}
		}
	}
}

// undoFloat reverses predictor 3: bytes are differenced across the row and
// stored as byte planes, most significant plane first. The result is
// re-encoded in bo so the normal sample path can read it.
func undoFloat(buf []byte, samples, bps int, bo binary.ByteOrder) []byte {
	rowBytes := samples * bps
	out := make([]byte, len(buf))
	for off := 0; off+rowBytes <= len(buf); off += rowBytes {
		row := buf[off : off+rowBytes]
		for i := 1; i < rowBytes; i++ {
			row[i] += row[i-1]
		}
		for s := 0; s < samples; s++ {
			var bits uint64
			for b := 0; b < bps; b++ {
				bits = bits<<8 | uint64(row[b*samples+s])
			}
			dst := out[off+s*bps:]
			if bps == 4 {
				bo.PutUint32(dst, uint32(bits))
			} else {
				bo.PutUint64(dst, bits)
			}
		}
	}
	return out
}

// decodeJPEG decodes a JPEG-compressed tile, splicing in shared tables.
func decodeJPEG(ifd *IFD, raw []byte, t *tile) (*tile, error) {
	data := raw
	if len(ifd.JPEGTables) > 4 && len(raw) > 2 {
		// Tables end with EOI and the tile starts with SOI; drop both.
		tables := ifd.JPEGTables[:len(ifd.JPEGTables)-2]
		data = make([]byte, 0, len(tables)+len(raw)-2)
		data = append(data, tables...)
		data = append(data, raw[2:]...)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding JPEG tile: %w", err)
	}

	b := img.Bounds()
	if b.Dx() < t.width {
		t.width = b.Dx()
	}
	if b.Dy() < t.height {
		t.height = b.Dy()
	}
	t.data = make([]float64, t.width*t.height*t.spp)
	for y := 0; y < t.height; y++ {
		for x := 0; x < t.width; x++ {
			px := t.data[(y*t.width+x)*t.spp:]
			switch im := img.(type) {
			case *image.Gray:
				px[0] = float64(im.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			default:
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				rgb := [3]float64{float64(r >> 8), float64(g >> 8), float64(bl >> 8)}
				for s := 0; s < t.spp && s < 3; s++ {
					px[s] = rgb[s]
				}
			}
		}
	}
	return t, nil
}
