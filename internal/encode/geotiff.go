package encode

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/pspoerri/geoextract/internal/raster"
	"github.com/pspoerri/geoextract/internal/resample"
)

// GeoTIFFEncoder writes a little-endian GeoTIFF with GeoKeys, optional
// tiling, deflate compression and 2x overview levels.
type GeoTIFFEncoder struct {
	Deflate   bool
	Level     int
	TileSize  int
	Overviews int
	// Predictor applies horizontal differencing to integer samples.
	Predictor bool
}

func newGeoTIFFEncoder(p Params) (*GeoTIFFEncoder, error) {
	e := &GeoTIFFEncoder{Level: p.CompressionLevel, TileSize: p.TileSize, Overviews: p.Overviews}
	switch p.Compression {
	case "", "none":
	case "deflate":
		e.Deflate = true
	default:
		return nil, fmt.Errorf("geotiff: unsupported compression %q", p.Compression)
	}
	if p.TileSize < 0 || p.TileSize%16 != 0 {
		return nil, fmt.Errorf("geotiff: tile size %d is not a multiple of 16", p.TileSize)
	}
	return e, nil
}

func (e *GeoTIFFEncoder) Mime() string      { return MimeGeoTIFF }
func (e *GeoTIFFEncoder) Extension() string { return ".tif" }

const (
	tiffShort  = 3
	tiffLong   = 4
	tiffASCII  = 2
	tiffDouble = 12
)

// sampleLayout is the on-disk sample type shared by every band.
type sampleLayout struct {
	bits   int
	format int // 1 uint, 2 int, 3 float
}

func layoutFor(bands []raster.Band) sampleLayout {
	pick := func(b raster.Band) sampleLayout {
		switch {
		case b.Float && b.BitsPerSample <= 32:
			return sampleLayout{32, 3}
		case b.Float:
			return sampleLayout{64, 3}
		case b.BitsPerSample <= 8:
			return sampleLayout{8, signedFormat(b)}
		case b.BitsPerSample <= 16:
			return sampleLayout{16, signedFormat(b)}
		case b.BitsPerSample <= 32:
			return sampleLayout{32, signedFormat(b)}
		}
		return sampleLayout{64, 3}
	}
	l := pick(bands[0])
	for _, b := range bands[1:] {
		if pick(b) != l {
			return sampleLayout{64, 3}
		}
	}
	return l
}

func signedFormat(b raster.Band) int {
	if b.Signed {
		return 2
	}
	return 1
}

func (l sampleLayout) put(buf []byte, v float64) {
	bo := binary.LittleEndian
	if l.format == 3 {
		if l.bits == 32 {
			bo.PutUint32(buf, math.Float32bits(float32(v)))
		} else {
			bo.PutUint64(buf, math.Float64bits(v))
		}
		return
	}
	v = math.Round(v)
	if l.format == 2 {
		lim := math.Ldexp(1, l.bits-1)
		n := int64(math.Max(-lim, math.Min(lim-1, v)))
		switch l.bits {
		case 8:
			buf[0] = byte(int8(n))
		case 16:
			bo.PutUint16(buf, uint16(int16(n)))
		default:
			bo.PutUint32(buf, uint32(int32(n)))
		}
		return
	}
	n := uint64(math.Max(0, math.Min(math.Ldexp(1, l.bits)-1, v)))
	switch l.bits {
	case 8:
		buf[0] = byte(n)
	case 16:
		bo.PutUint16(buf, uint16(n))
	default:
		bo.PutUint32(buf, uint32(n))
	}
}

// Encode writes r and its overviews.
func (e *GeoTIFFEncoder) Encode(ctx context.Context, w io.Writer, r *raster.Raster) error {
	if len(r.Bands) == 0 {
		return fmt.Errorf("geotiff: raster has no bands")
	}
	levels := []*raster.Raster{r}
	for i := 0; i < e.Overviews; i++ {
		prev := levels[len(levels)-1]
		pw, ph := prev.Size()
		if pw < 2 || ph < 2 {
			break
		}
		ov, err := resample.Affine(ctx, prev, 2, 2, (pw+1)/2, (ph+1)/2, raster.Nearest)
		if err != nil {
			return err
		}
		levels = append(levels, ov)
	}

	layout := layoutFor(r.Bands)
	fill, nodataTag := fillValue(r.Bands[0], layout)

	type encoded struct {
		blocks [][]byte
		bw, bh int
	}
	images := make([]encoded, len(levels))
	for i, lv := range levels {
		if err := ctx.Err(); err != nil {
			return err
		}
		bw, bh := e.blockSize(lv, layout)
		blocks, err := e.encodeBlocks(lv, layout, fill, bw, bh)
		if err != nil {
			return err
		}
		images[i] = encoded{blocks: blocks, bw: bw, bh: bh}
	}

	// Layout: header, all block data, then the IFD chain.
	offset := uint32(8)
	blockOffsets := make([][]uint32, len(images))
	for i, im := range images {
		for _, b := range im.blocks {
			blockOffsets[i] = append(blockOffsets[i], offset)
			offset += uint32(len(b) + len(b)%2)
		}
	}

	var ifds bytes.Buffer
	ifdStart := offset
	for i, lv := range levels {
		im := images[i]
		counts := make([]uint32, len(im.blocks))
		for j, b := range im.blocks {
			counts[j] = uint32(len(b))
		}
		entries := e.entries(lv, i, layout, im.bw, im.bh, blockOffsets[i], counts, nodataTag)
		last := i == len(levels)-1
		if err := writeIFD(&ifds, offset, entries, last); err != nil {
			return err
		}
		offset = ifdStart + uint32(ifds.Len())
	}

	hdr := make([]byte, 8)
	copy(hdr, "II")
	binary.LittleEndian.PutUint16(hdr[2:], 42)
	binary.LittleEndian.PutUint32(hdr[4:], ifdStart)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	for _, im := range images {
		for _, b := range im.blocks {
			if _, err := w.Write(b); err != nil {
				return err
			}
			if len(b)%2 == 1 {
				if _, err := w.Write([]byte{0}); err != nil {
					return err
				}
			}
		}
	}
	_, err := w.Write(ifds.Bytes())
	return err
}

// fillValue is written for pixels without data. The tag text is empty when
// the value should not be declared as nodata.
func fillValue(b raster.Band, l sampleLayout) (float64, string) {
	switch {
	case b.HasNoData:
		return b.NoData, strconv.FormatFloat(b.NoData, 'g', -1, 64)
	case l.format == 3:
		return math.NaN(), "nan"
	}
	return 0, ""
}

func (e *GeoTIFFEncoder) blockSize(r *raster.Raster, l sampleLayout) (int, int) {
	w, h := r.Size()
	if e.TileSize > 0 {
		return e.TileSize, e.TileSize
	}
	rowBytes := w * len(r.Bands) * l.bits / 8
	rows := max(1, min(h, 65536/max(1, rowBytes)))
	return w, rows
}

func (e *GeoTIFFEncoder) encodeBlocks(r *raster.Raster, l sampleLayout, fill float64, bw, bh int) ([][]byte, error) {
	w, h := r.Size()
	spp := len(r.Bands)
	bps := l.bits / 8
	across := (w + bw - 1) / bw
	down := (h + bh - 1) / bh
	tiled := e.TileSize > 0

	var out [][]byte
	for br := 0; br < down; br++ {
		rows := bh
		if !tiled {
			rows = min(bh, h-br*bh)
		}
		for bc := 0; bc < across; bc++ {
			buf := make([]byte, bw*rows*spp*bps)
			for y := 0; y < rows; y++ {
				for x := 0; x < bw; x++ {
					col, row := bc*bw+x, br*bh+y
					inside := col < w && row < h && r.IsValid(col, row)
					for b := 0; b < spp; b++ {
						v := fill
						if inside {
							v = r.At(b, col, row)
						}
						l.put(buf[((y*bw+x)*spp+b)*bps:], v)
					}
				}
			}
			if e.Predictor && l.format != 3 {
				differencing(buf, bw, spp, bps)
			}
			if e.Deflate {
				var zb bytes.Buffer
				zw, err := zlib.NewWriterLevel(&zb, deflateLevel(e.Level))
				if err != nil {
					return nil, err
				}
				if _, err := zw.Write(buf); err != nil {
					return nil, err
				}
				if err := zw.Close(); err != nil {
					return nil, err
				}
				buf = zb.Bytes()
			}
			out = append(out, buf)
		}
	}
	return out, nil
}

func deflateLevel(level int) int {
	if level <= 0 || level > 9 {
		return zlib.DefaultCompression
	}
	return level
}

// differencing applies predictor 2 in place, last sample first.
func differencing(buf []byte, width, spp, bps int) {
	bo := binary.LittleEndian
	rowBytes := width * spp * bps
	for off := 0; off+rowBytes <= len(buf); off += rowBytes {
		row := buf[off : off+rowBytes]
		for i := width*spp - 1; i >= spp; i-- {
			c, p := i*bps, (i-spp)*bps
			switch bps {
			case 1:
				row[c] -= row[p]
			case 2:
				bo.PutUint16(row[c:], bo.Uint16(row[c:])-bo.Uint16(row[p:]))
			case 4:
				bo.PutUint32(row[c:], bo.Uint32(row[c:])-bo.Uint32(row[p:]))
			}
		}
	}
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shorts(tag uint16, vs ...uint16) tiffEntry {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return tiffEntry{tag, tiffShort, uint32(len(vs)), b}
}

func longs(tag uint16, vs ...uint32) tiffEntry {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], v)
	}
	return tiffEntry{tag, tiffLong, uint32(len(vs)), b}
}

func doubles(tag uint16, vs ...float64) tiffEntry {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return tiffEntry{tag, tiffDouble, uint32(len(vs)), b}
}

func ascii(tag uint16, s string) tiffEntry {
	b := append([]byte(s), 0)
	return tiffEntry{tag, tiffASCII, uint32(len(b)), b}
}

func repeat(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func (e *GeoTIFFEncoder) entries(r *raster.Raster, level int, l sampleLayout, bw, bh int, offsets, counts []uint32, nodata string) []tiffEntry {
	w, h := r.Size()
	spp := len(r.Bands)
	compression, predictor := uint16(1), uint16(1)
	if e.Deflate {
		compression = 8
	}
	if e.Predictor && l.format != 3 {
		predictor = 2
	}
	photometric, colorSamples := uint16(1), 1
	if spp >= 3 && l.bits == 8 && l.format == 1 {
		photometric, colorSamples = 2, 3
	}

	var subfile uint32
	if level > 0 {
		subfile = 1
	}
	out := []tiffEntry{
		longs(254, subfile),
		longs(256, uint32(w)),
		longs(257, uint32(h)),
		shorts(258, repeat(uint16(l.bits), spp)...),
		shorts(259, compression),
		shorts(262, photometric),
		shorts(277, uint16(spp)),
		shorts(284, 1),
		shorts(339, repeat(uint16(l.format), spp)...),
	}
	if predictor != 1 {
		out = append(out, shorts(317, predictor))
	}
	if extra := spp - colorSamples; extra > 0 {
		out = append(out, shorts(338, repeat(0, extra)...))
	}
	if e.TileSize > 0 {
		out = append(out,
			longs(322, uint32(bw)), longs(323, uint32(bh)),
			longs(324, offsets...), longs(325, counts...))
	} else {
		out = append(out, longs(273, offsets...), longs(278, uint32(bh)), longs(279, counts...))
	}
	if nodata != "" {
		out = append(out, ascii(42113, nodata))
	}
	if level == 0 {
		out = append(out, geoEntries(r.Grid)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tag < out[j].tag })
	return out
}

// geoEntries describes the grid with either pixel scale and tiepoint
// (north-up) or a full model transformation, plus the GeoKey directory.
func geoEntries(g raster.GridGeometry) []tiffEntry {
	t := g.GridToCRS
	var out []tiffEntry
	if g.IsNorthUp() {
		out = append(out,
			doubles(33550, t[0], -t[4], 0),
			doubles(33922, 0, 0, 0, t[2], t[5], 0))
	} else {
		out = append(out, doubles(34264,
			t[0], t[1], 0, t[2],
			t[3], t[4], 0, t[5],
			0, 0, 0, 0,
			0, 0, 0, 1))
	}

	modelType := uint16(1)
	if g.CRS.IsGeographic() {
		modelType = 2
	}
	keys := [][4]uint16{
		{1024, 0, 1, modelType},
		{1025, 0, 1, 1}, // PixelIsArea
	}
	if code := g.CRS.Code(); code > 0 && code < 65535 {
		key := uint16(3072)
		if g.CRS.IsGeographic() {
			key = 2048
		}
		keys = append(keys, [4]uint16{key, 0, 1, uint16(code)})
	}
	dir := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		dir = append(dir, k[:]...)
	}
	return append(out, shorts(34735, dir...))
}

// writeIFD appends one directory at absolute offset start. Values longer
// than four bytes follow the directory.
func writeIFD(buf *bytes.Buffer, start uint32, entries []tiffEntry, last bool) error {
	bo := binary.LittleEndian
	dirSize := uint32(2 + 12*len(entries) + 4)
	extra := start + dirSize

	var dir, tail bytes.Buffer
	var scratch [12]byte
	bo.PutUint16(scratch[:2], uint16(len(entries)))
	dir.Write(scratch[:2])
	for _, e := range entries {
		bo.PutUint16(scratch[0:], e.tag)
		bo.PutUint16(scratch[2:], e.typ)
		bo.PutUint32(scratch[4:], e.count)
		clear(scratch[8:])
		if len(e.data) <= 4 {
			copy(scratch[8:], e.data)
		} else {
			bo.PutUint32(scratch[8:], extra+uint32(tail.Len()))
			tail.Write(e.data)
			if tail.Len()%2 == 1 {
				tail.WriteByte(0)
			}
		}
		dir.Write(scratch[:12])
	}
	next := uint32(0)
	if !last {
		next = extra + uint32(tail.Len())
	}
	bo.PutUint32(scratch[:4], next)
	dir.Write(scratch[:4])

	if uint64(extra)+uint64(tail.Len()) > math.MaxUint32 {
		return fmt.Errorf("geotiff: output exceeds 4 GiB")
	}
	buf.Write(dir.Bytes())
	buf.Write(tail.Bytes())
	return nil
}
