package coord

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNoCRS is returned when a geometry or envelope is not bound to a CRS.
	ErrNoCRS = errors.New("coord: missing coordinate reference system")
	// ErrUnsupportedCRS is returned for EPSG codes without a known projection.
	ErrUnsupportedCRS = errors.New("coord: unsupported coordinate reference system")
)

// CRS is a coordinate reference system identified by its EPSG code.
// The zero value means "no CRS".
type CRS struct {
	code int
	proj Projection
}

// Lookup returns the CRS for an EPSG code.
func Lookup(code int) (CRS, error) {
	p := ForEPSG(code)
	if p == nil {
		return CRS{}, fmt.Errorf("%w: EPSG:%d", ErrUnsupportedCRS, code)
	}
	return CRS{code: code, proj: p}, nil
}

// MustLookup is like Lookup but panics on unknown codes. Meant for constants and tests.
func MustLookup(code int) CRS {
	c, err := Lookup(code)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse accepts "EPSG:4326", "epsg:4326", "urn:ogc:def:crs:EPSG::4326" or a bare code.
func Parse(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return CRS{}, fmt.Errorf("%w: %q", ErrUnsupportedCRS, s)
	}
	return Lookup(code)
}

// WGS84 returns EPSG:4326.
func WGS84() CRS { return CRS{code: 4326, proj: &WGS84Identity{}} }

func (c CRS) Code() int              { return c.code }
func (c CRS) IsZero() bool           { return c.proj == nil }
func (c CRS) Projection() Projection { return c.proj }

// Identifier returns the stable "EPSG:<code>" form used in granule attributes.
func (c CRS) Identifier() string {
	if c.IsZero() {
		return ""
	}
	return "EPSG:" + strconv.Itoa(c.code)
}

func (c CRS) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return c.Identifier()
}

// Equal reports whether both CRSs share the same EPSG code.
func (c CRS) Equal(o CRS) bool {
	return !c.IsZero() && !o.IsZero() && c.code == o.code
}

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (c CRS) IsGeographic() bool { return c.code == 4326 }
