package cog

import "golang.org/x/image/math/f64"

// GeoTIFF GeoKey IDs.
const (
	gkModelType       = 1024
	gkRasterType      = 1025
	gkGeographicType  = 2048
	gkProjectedCSType = 3072

	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// georef is the georeferencing recovered from an image directory.
type georef struct {
	transform f64.Aff3
	epsg      int
	ok        bool
}

// parseGeoref reads ModelTransformation, or ModelTiepoint plus
// ModelPixelScale, and the EPSG code from the GeoKey directory.
func parseGeoref(ifd *IFD) georef {
	var g georef
	keys := geoKeys(ifd.GeoKeys)

	switch {
	case len(ifd.ModelTransform) >= 8:
		m := ifd.ModelTransform
		g.transform = f64.Aff3{m[0], m[1], m[3], m[4], m[5], m[7]}
		g.ok = true
	case len(ifd.ModelTiepoint) >= 6 && len(ifd.ModelPixelScale) >= 2:
		sx, sy := ifd.ModelPixelScale[0], ifd.ModelPixelScale[1]
		tp := ifd.ModelTiepoint
		g.transform = f64.Aff3{sx, 0, tp[3] - tp[0]*sx, 0, -sy, tp[4] + tp[1]*sy}
		g.ok = sx > 0 && sy > 0
	}

	// PixelIsPoint anchors the tiepoint at the pixel center.
	if g.ok && keys[gkRasterType] == rasterPixelIsPoint {
		t := &g.transform
		t[2] -= 0.5 * (t[0] + t[1])
		t[5] -= 0.5 * (t[3] + t[4])
	}

	for _, k := range []uint16{gkProjectedCSType, gkGeographicType} {
		if v := keys[k]; v > 0 && v != userDefined {
			g.epsg = int(v)
			break
		}
	}
	return g
}

// geoKeys flattens the short-valued entries of a GeoKey directory.
// Header: version, revision, minor, count; then 4 shorts per key.
func geoKeys(dir []uint16) map[uint16]uint16 {
	keys := map[uint16]uint16{}
	if len(dir) < 4 {
		return keys
	}
	n := int(dir[3])
	for i := 0; i < n; i++ {
		base := 4 + i*4
		if base+3 >= len(dir) {
			break
		}
		// location 0 means the value is stored inline
		if dir[base+1] == 0 {
			keys[dir[base]] = dir[base+3]
		}
	}
	return keys
}
