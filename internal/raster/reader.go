package raster

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/pspoerri/geoextract/internal/coord"
	"github.com/pspoerri/geoextract/internal/filter"
)

// Interpolation selects the resampling kernel.
type Interpolation int

const (
	Nearest Interpolation = iota
	Bilinear
	Bicubic
	Bicubic2
)

func (i Interpolation) String() string {
	switch i {
	case Bilinear:
		return "bilinear"
	case Bicubic:
		return "bicubic"
	case Bicubic2:
		return "bicubic2"
	default:
		return "nearest"
	}
}

// ParseInterpolation maps a name to an Interpolation. The empty string is nearest.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nearest", "nearest-neighbor":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	case "bicubic":
		return Bicubic, nil
	case "bicubic2":
		return Bicubic2, nil
	}
	return Nearest, fmt.Errorf("raster: unknown interpolation %q", s)
}

// Level is one resolution level of a reader; level 0 is full resolution.
type Level struct {
	ResX, ResY    float64
	Width, Height int
}

// ReadParams asks a reader for samples on Grid, taken from Level with the
// given kernel. Bands selects band indices; nil reads all bands.
type ReadParams struct {
	Grid   GridGeometry
	Level  int
	Bands  []int
	Interp Interpolation
}

// Reader is the base capability of every gridded source.
type Reader interface {
	CRS() coord.CRS
	// Grid is the full-resolution grid in the native CRS.
	Grid() GridGeometry
	Envelope() coord.Envelope
	Levels() []Level
	Bands() []Band
	Read(ctx context.Context, p ReadParams) (*Raster, error)
	Close() error
}

// Descriptors name the granule attributes that carry resolution and CRS
// information. Empty names mean the descriptor is absent.
type Descriptors struct {
	Resolution  string
	ResolutionX string
	ResolutionY string
	CRS         string
}

// HasResolution reports whether an isotropic or per-axis descriptor exists.
func (d Descriptors) HasResolution() bool {
	return d.Resolution != "" || (d.ResolutionX != "" && d.ResolutionY != "")
}

// Heterogeneous reports whether granules may carry their own CRS.
func (d Descriptors) Heterogeneous() bool { return d.CRS != "" }

// Granule is one constituent dataset of a mosaic, as listed by its index.
type Granule struct {
	ID string
	// Footprint is the granule outline in the index CRS.
	Footprint  orb.Polygon
	Attributes map[string]any
}

// Feature exposes the granule to attribute and spatial filters.
func (g Granule) Feature() *geojson.Feature {
	f := geojson.NewFeature(g.Footprint)
	f.ID = g.ID
	for k, v := range g.Attributes {
		f.Properties[k] = v
	}
	return f
}

// Resolution reads the granule's declared resolution through d.
func (g Granule) Resolution(d Descriptors) (resX, resY float64, ok bool) {
	if d.Resolution != "" {
		if v, ok := attrFloat(g.Attributes[d.Resolution]); ok {
			return v, v, true
		}
	}
	if d.ResolutionX != "" && d.ResolutionY != "" {
		x, okX := attrFloat(g.Attributes[d.ResolutionX])
		y, okY := attrFloat(g.Attributes[d.ResolutionY])
		if okX && okY {
			return x, y, true
		}
	}
	return 0, 0, false
}

// CRS resolves the granule CRS attribute through d.
func (g Granule) CRS(d Descriptors) (coord.CRS, error) {
	if d.CRS == "" {
		return coord.CRS{}, coord.ErrNoCRS
	}
	switch v := g.Attributes[d.CRS].(type) {
	case string:
		return coord.Parse(v)
	case int:
		return coord.Lookup(v)
	case int64:
		return coord.Lookup(int(v))
	case float64:
		return coord.Lookup(int(v))
	}
	return coord.CRS{}, coord.ErrNoCRS
}

func attrFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, n > 0
	case float32:
		return float64(n), n > 0
	case int:
		return float64(n), n > 0
	case int64:
		return float64(n), n > 0
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil && f > 0
	}
	return 0, false
}

// GranuleCatalog is the extended capability of structured (mosaic) readers.
type GranuleCatalog interface {
	Descriptors() Descriptors
	// IndexCRS is the CRS of granule footprints.
	IndexCRS() coord.CRS
	Granules(ctx context.Context, f filter.Filter) ([]Granule, error)
}

// Retargeter is implemented by catalogs that can present their granules
// with another CRS as the native one.
type Retargeter interface {
	InCRS(crs coord.CRS) (Source, error)
}

// Source is a reader together with its optional granule capability.
// Granules is nil for plain gridded readers.
type Source struct {
	Reader   Reader
	Granules GranuleCatalog
}

// Structured reports whether the source exposes granule metadata.
func (s Source) Structured() bool { return s.Granules != nil }
