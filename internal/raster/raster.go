package raster

import (
	"errors"
	"fmt"
	"math"

	"github.com/pspoerri/geoextract/internal/coord"
)

// Band describes one sample channel.
type Band struct {
	Name          string
	BitsPerSample int
	Float         bool
	Signed        bool
	NoData        float64
	HasNoData     bool
}

// Raster is a decoded, in-memory block of samples over a grid.
type Raster struct {
	Grid  GridGeometry
	Bands []Band
	// Data holds one row-major slice of Width*Height samples per band.
	Data [][]float64
	// Valid marks pixels that carry data. A nil mask means all pixels are valid.
	Valid []bool
}

// New allocates a raster with all pixels marked invalid.
func New(grid GridGeometry, bands []Band) *Raster {
	n := grid.Width * grid.Height
	data := make([][]float64, len(bands))
	for i := range data {
		data[i] = make([]float64, n)
	}
	return &Raster{
		Grid:  grid,
		Bands: append([]Band(nil), bands...),
		Data:  data,
		Valid: make([]bool, n),
	}
}

// Size implements resample.Source.
func (r *Raster) Size() (int, int) { return r.Grid.Width, r.Grid.Height }

// At returns the sample at (col,row) of band b.
func (r *Raster) At(b, col, row int) float64 {
	return r.Data[b][row*r.Grid.Width+col]
}

// Set stores v at (col,row) of band b and marks the pixel valid.
func (r *Raster) Set(b, col, row int, v float64) {
	i := row*r.Grid.Width + col
	r.Data[b][i] = v
	if r.Valid != nil {
		r.Valid[i] = true
	}
}

// IsValid reports whether (col,row) carries data.
func (r *Raster) IsValid(col, row int) bool {
	if r.Valid == nil {
		return true
	}
	return r.Valid[row*r.Grid.Width+col]
}

// Sample implements resample.Source: it returns the sample and whether it is
// usable (inside the grid, valid, not nodata).
func (r *Raster) Sample(b, col, row int) (float64, bool) {
	if col < 0 || row < 0 || col >= r.Grid.Width || row >= r.Grid.Height {
		return 0, false
	}
	if !r.IsValid(col, row) {
		return 0, false
	}
	v := r.At(b, col, row)
	if math.IsNaN(v) {
		return 0, false
	}
	if bd := r.Bands[b]; bd.HasNoData && v == bd.NoData {
		return 0, false
	}
	return v, true
}

// Invalidate marks (col,row) as carrying no data.
func (r *Raster) Invalidate(col, row int) {
	if r.Valid == nil {
		r.Valid = make([]bool, r.Grid.Width*r.Grid.Height)
		for i := range r.Valid {
			r.Valid[i] = true
		}
	}
	r.Valid[row*r.Grid.Width+col] = false
}

// ValidCount returns the number of pixels that carry data.
func (r *Raster) ValidCount() int {
	if r.Valid == nil {
		return r.Grid.Width * r.Grid.Height
	}
	n := 0
	for _, v := range r.Valid {
		if v {
			n++
		}
	}
	return n
}

// BitsPerPixel sums the sample sizes of all bands.
func (r *Raster) BitsPerPixel() int {
	return SumBits(r.Bands)
}

// SumBits returns the total bits per pixel of bands.
func SumBits(bands []Band) int {
	n := 0
	for _, b := range bands {
		n += b.BitsPerSample
	}
	return n
}

// ErrBandIndex reports a band index outside the declared band list.
var ErrBandIndex = errors.New("raster: band index out of range")

// PickBands returns the band metadata for idx; nil idx selects every band.
func PickBands(bands []Band, idx []int) ([]Band, error) {
	if idx == nil {
		return bands, nil
	}
	out := make([]Band, 0, len(idx))
	for _, i := range idx {
		if i < 0 || i >= len(bands) {
			return nil, fmt.Errorf("%w: %d (have %d)", ErrBandIndex, i, len(bands))
		}
		out = append(out, bands[i])
	}
	return out, nil
}

// SelectBands returns a raster sharing r's samples for the given band indices.
func (r *Raster) SelectBands(idx []int) (*Raster, error) {
	if len(idx) == 0 {
		return r, nil
	}
	out := &Raster{Grid: r.Grid, Valid: r.Valid}
	for _, i := range idx {
		if i < 0 || i >= len(r.Bands) {
			return nil, fmt.Errorf("%w: %d (have %d)", ErrBandIndex, i, len(r.Bands))
		}
		out.Bands = append(out.Bands, r.Bands[i])
		out.Data = append(out.Data, r.Data[i])
	}
	return out, nil
}

// Crop copies the pixels of r inside env into a new raster. ok is false when
// env does not overlap the grid.
func (r *Raster) Crop(env coord.Envelope) (*Raster, bool) {
	win, c0, r0, ok := r.Grid.Window(env)
	if !ok {
		return nil, false
	}
	if c0 == 0 && r0 == 0 && win.Width == r.Grid.Width && win.Height == r.Grid.Height {
		return r, true
	}
	out := New(win, r.Bands)
	for row := 0; row < win.Height; row++ {
		src := (row+r0)*r.Grid.Width + c0
		dst := row * win.Width
		for b := range r.Data {
			copy(out.Data[b][dst:dst+win.Width], r.Data[b][src:src+win.Width])
		}
		if r.Valid == nil {
			for i := 0; i < win.Width; i++ {
				out.Valid[dst+i] = true
			}
		} else {
			copy(out.Valid[dst:dst+win.Width], r.Valid[src:src+win.Width])
		}
	}
	return out, true
}

// Close drops the sample buffers. Rasters are registered with the resource
// manager as heavyweight intermediates.
func (r *Raster) Close() error {
	r.Data = nil
	r.Valid = nil
	return nil
}
