package cog

import (
	"encoding/binary"
	"fmt"
	"math"
)

// TIFF tag IDs.
const (
	tagNewSubfileType     = 254
	tagImageWidth         = 256
	tagImageLength        = 257
	tagBitsPerSample      = 258
	tagCompression        = 259
	tagPhotometric        = 262
	tagStripOffsets       = 273
	tagSamplesPerPixel    = 277
	tagRowsPerStrip       = 278
	tagStripByteCounts    = 279
	tagPlanarConfig       = 284
	tagPredictor          = 317
	tagTileWidth          = 322
	tagTileLength         = 323
	tagTileOffsets        = 324
	tagTileByteCounts     = 325
	tagSampleFormat       = 339
	tagJPEGTables         = 347
	tagModelPixelScale    = 33550
	tagModelTiepoint      = 33922
	tagModelTransform     = 34264
	tagGeoKeyDirectory    = 34735
	tagGeoDoubleParams    = 34736
	tagGeoASCIIParams     = 34737
	tagGDALNoData         = 42113
	subfileReducedImage   = 1
	subfileTransparencyMk = 4
)

// TIFF field types.
const (
	dtByte   = 1
	dtASCII  = 2
	dtShort  = 3
	dtLong   = 4
	dtRation = 5
	dtSByte  = 6
	dtUndef  = 7
	dtSShort = 8
	dtSLong  = 9
	dtSRatio = 10
	dtFloat  = 11
	dtDouble = 12
	dtLong8  = 16
	dtSLong8 = 17
	dtIFD8   = 18
)

// Compression schemes understood by the decoder.
const (
	compNone     = 1
	compLZW      = 5
	compJPEG     = 7
	compDeflate  = 8
	compDeflateP = 32946
)

// Sample formats.
const (
	fmtUint  = 1
	fmtInt   = 2
	fmtFloat = 3
)

// IFD is one parsed image directory. Strip layouts are normalized to tiles
// one image wide, so the reader only deals with tiles.
type IFD struct {
	SubfileType     uint32
	Width           uint32
	Height          uint32
	TileWidth       uint32
	TileHeight      uint32
	BitsPerSample   []uint16
	SampleFormat    []uint16
	SamplesPerPixel uint16
	Compression     uint16
	Photometric     uint16
	PlanarConfig    uint16
	Predictor       uint16
	TileOffsets     []uint64
	TileByteCounts  []uint64
	Striped         bool
	JPEGTables      []byte
	ModelTiepoint   []float64
	ModelPixelScale []float64
	ModelTransform  []float64
	GeoKeys         []uint16
	GeoDoubleParams []float64
	GeoASCIIParams  string
	NoData          string
}

// TilesAcross returns the number of tiles in the horizontal direction.
func (ifd *IFD) TilesAcross() int {
	return int((ifd.Width + ifd.TileWidth - 1) / ifd.TileWidth)
}

// TilesDown returns the number of tiles in the vertical direction.
func (ifd *IFD) TilesDown() int {
	return int((ifd.Height + ifd.TileHeight - 1) / ifd.TileHeight)
}

// IsOverview reports whether the directory is a reduced-resolution copy.
func (ifd *IFD) IsOverview() bool { return ifd.SubfileType&subfileReducedImage != 0 }

// IsMask reports whether the directory is a transparency mask.
func (ifd *IFD) IsMask() bool { return ifd.SubfileType&subfileTransparencyMk != 0 }

// tiffFile decodes TIFF structures straight from the mapped bytes.
type tiffFile struct {
	data []byte
	bo   binary.ByteOrder
	big  bool
}

func (t *tiffFile) slice(off, n uint64) ([]byte, error) {
	if off+n < off || off+n > uint64(len(t.data)) {
		return nil, fmt.Errorf("range [%d:%d] exceeds file size %d", off, off+n, len(t.data))
	}
	return t.data[off : off+n], nil
}

// parseTIFF reads the header and walks the IFD chain.
func parseTIFF(data []byte) ([]IFD, binary.ByteOrder, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("file too short for a TIFF header")
	}
	t := &tiffFile{data: data}
	switch string(data[0:2]) {
	case "II":
		t.bo = binary.LittleEndian
	case "MM":
		t.bo = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("invalid TIFF byte order: %x", data[0:2])
	}

	var next uint64
	switch t.bo.Uint16(data[2:4]) {
	case 42:
		next = uint64(t.bo.Uint32(data[4:8]))
	case 43:
		if len(data) < 16 {
			return nil, nil, fmt.Errorf("file too short for a BigTIFF header")
		}
		t.big = true
		next = t.bo.Uint64(data[8:16])
	default:
		return nil, nil, fmt.Errorf("invalid TIFF magic: %d", t.bo.Uint16(data[2:4]))
	}

	var ifds []IFD
	seen := map[uint64]bool{}
	for next != 0 {
		if seen[next] {
			return nil, nil, fmt.Errorf("IFD loop at offset %d", next)
		}
		seen[next] = true
		ifd, n, err := t.readIFD(next)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing IFD at offset %d: %w", next, err)
		}
		ifds = append(ifds, ifd)
		next = n
	}
	return ifds, t.bo, nil
}

// rawEntry is one directory entry with its value bytes resolved.
type rawEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	value []byte
}

func (t *tiffFile) readIFD(off uint64) (IFD, uint64, error) {
	countSize, entrySize, nextSize, inline := uint64(2), uint64(12), uint64(4), uint64(4)
	if t.big {
		countSize, entrySize, nextSize, inline = 8, 20, 8, 8
	}
	hdr, err := t.slice(off, countSize)
	if err != nil {
		return IFD{}, 0, err
	}
	var n uint64
	if t.big {
		n = t.bo.Uint64(hdr)
	} else {
		n = uint64(t.bo.Uint16(hdr))
	}
	body, err := t.slice(off+countSize, n*entrySize+nextSize)
	if err != nil {
		return IFD{}, 0, err
	}

	entries := make([]rawEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		b := body[i*entrySize : (i+1)*entrySize]
		e := rawEntry{tag: t.bo.Uint16(b[0:2]), typ: t.bo.Uint16(b[2:4])}
		var field []byte
		if t.big {
			e.count = t.bo.Uint64(b[4:12])
			field = b[12:20]
		} else {
			e.count = uint64(t.bo.Uint32(b[4:8]))
			field = b[8:12]
		}
		size := e.count * uint64(typeSize(e.typ))
		if size <= inline {
			e.value = field[:size]
		} else {
			var at uint64
			if t.big {
				at = t.bo.Uint64(field)
			} else {
				at = uint64(t.bo.Uint32(field))
			}
			if e.value, err = t.slice(at, size); err != nil {
				return IFD{}, 0, fmt.Errorf("tag %d: %w", e.tag, err)
			}
		}
		entries = append(entries, e)
	}

	tail := body[n*entrySize:]
	var next uint64
	if t.big {
		next = t.bo.Uint64(tail)
	} else {
		next = uint64(t.bo.Uint32(tail))
	}
	return t.buildIFD(entries), next, nil
}

func typeSize(typ uint16) int {
	switch typ {
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat:
		return 4
	case dtRation, dtSRatio, dtDouble, dtLong8, dtSLong8, dtIFD8:
		return 8
	default:
		return 1
	}
}

func (t *tiffFile) buildIFD(entries []rawEntry) IFD {
	ifd := IFD{SamplesPerPixel: 1, PlanarConfig: 1, Predictor: 1, Compression: compNone}
	var rowsPerStrip uint32
	var stripOffsets, stripCounts []uint64

	for _, e := range entries {
		switch e.tag {
		case tagNewSubfileType:
			ifd.SubfileType = uint32(t.uint(e, 0))
		case tagImageWidth:
			ifd.Width = uint32(t.uint(e, 0))
		case tagImageLength:
			ifd.Height = uint32(t.uint(e, 0))
		case tagTileWidth:
			ifd.TileWidth = uint32(t.uint(e, 0))
		case tagTileLength:
			ifd.TileHeight = uint32(t.uint(e, 0))
		case tagRowsPerStrip:
			rowsPerStrip = uint32(t.uint(e, 0))
		case tagBitsPerSample:
			ifd.BitsPerSample = t.shorts(e)
		case tagSampleFormat:
			ifd.SampleFormat = t.shorts(e)
		case tagSamplesPerPixel:
			ifd.SamplesPerPixel = uint16(t.uint(e, 0))
		case tagCompression:
			ifd.Compression = uint16(t.uint(e, 0))
		case tagPhotometric:
			ifd.Photometric = uint16(t.uint(e, 0))
		case tagPlanarConfig:
			ifd.PlanarConfig = uint16(t.uint(e, 0))
		case tagPredictor:
			ifd.Predictor = uint16(t.uint(e, 0))
		case tagTileOffsets:
			ifd.TileOffsets = t.uints(e)
		case tagTileByteCounts:
			ifd.TileByteCounts = t.uints(e)
		case tagStripOffsets:
			stripOffsets = t.uints(e)
		case tagStripByteCounts:
			stripCounts = t.uints(e)
		case tagJPEGTables:
			ifd.JPEGTables = append([]byte(nil), e.value...)
		case tagModelTiepoint:
			ifd.ModelTiepoint = t.floats(e)
		case tagModelPixelScale:
			ifd.ModelPixelScale = t.floats(e)
		case tagModelTransform:
			ifd.ModelTransform = t.floats(e)
		case tagGeoKeyDirectory:
			ifd.GeoKeys = t.shorts(e)
		case tagGeoDoubleParams:
			ifd.GeoDoubleParams = t.floats(e)
		case tagGeoASCIIParams:
			ifd.GeoASCIIParams = asciiValue(e.value)
		case tagGDALNoData:
			ifd.NoData = asciiValue(e.value)
		}
	}

	if ifd.TileWidth == 0 || ifd.TileHeight == 0 {
		ifd.Striped = true
		if rowsPerStrip == 0 || rowsPerStrip > ifd.Height {
			rowsPerStrip = ifd.Height
		}
		ifd.TileWidth = ifd.Width
		ifd.TileHeight = rowsPerStrip
		ifd.TileOffsets = stripOffsets
		ifd.TileByteCounts = stripCounts
	}
	return ifd
}

func asciiValue(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (t *tiffFile) uint(e rawEntry, i int) uint64 {
	sz := typeSize(e.typ)
	if (i+1)*sz > len(e.value) {
		return 0
	}
	b := e.value[i*sz:]
	switch e.typ {
	case dtShort, dtSShort:
		return uint64(t.bo.Uint16(b))
	case dtLong, dtSLong:
		return uint64(t.bo.Uint32(b))
	case dtLong8, dtSLong8, dtIFD8:
		return t.bo.Uint64(b)
	default:
		return uint64(b[0])
	}
}

func (t *tiffFile) uints(e rawEntry) []uint64 {
	out := make([]uint64, e.count)
	for i := range out {
		out[i] = t.uint(e, i)
	}
	return out
}

func (t *tiffFile) shorts(e rawEntry) []uint16 {
	out := make([]uint16, e.count)
	for i := range out {
		out[i] = uint16(t.uint(e, i))
	}
	return out
}

func (t *tiffFile) floats(e rawEntry) []float64 {
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(t.bo.Uint64(e.value[i*8:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(t.bo.Uint32(e.value[i*4:])))
		default:
			out[i] = float64(t.uint(e, i))
		}
	}
	return out
}
