package cog

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/math/f64"
)

// parseWorldFile reads a six-line world file. Lines are A, D, B, E, C, F
// where C, F locate the center of the upper-left pixel.
func parseWorldFile(path string) (f64.Aff3, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return f64.Aff3{}, fmt.Errorf("reading world file %s: %w", path, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 6 {
		return f64.Aff3{}, fmt.Errorf("world file %s: expected 6 values, got %d", path, len(fields))
	}
	var v [6]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(fields[i], 64); err != nil {
			return f64.Aff3{}, fmt.Errorf("world file %s value %d: %w", path, i+1, err)
		}
	}
	a, d, b, e, c, f := v[0], v[1], v[2], v[3], v[4], v[5]
	if a*e-b*d == 0 {
		return f64.Aff3{}, fmt.Errorf("world file %s: singular transform", path)
	}
	// Shift from the center to the corner of the first pixel.
	return f64.Aff3{a, b, c - 0.5*(a+b), d, e, f - 0.5*(d+e)}, nil
}

// findWorldFile looks for a world file next to the TIFF.
func findWorldFile(tiffPath string) string {
	ext := filepath.Ext(tiffPath)
	base := strings.TrimSuffix(tiffPath, ext)
	for _, c := range []string{".tfw", ".TFW", ".tifw", ".TIFW", ".wld"} {
		p := base + c
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// inferEPSG guesses a CRS from the coordinate range of an image that
// carries no GeoKeys: lon/lat, Swiss LV95 or Web Mercator.
func inferEPSG(t f64.Aff3, width, height int) int {
	minX, maxY := t[2], t[5]
	maxX := minX + float64(width)*t[0]
	minY := maxY + float64(height)*t[4]

	if minX >= -180 && maxX <= 360 && minY >= -90 && maxY <= 90 {
		return 4326
	}
	if minX >= 2400000 && maxX <= 2900000 && minY >= 1000000 && maxY <= 1400000 {
		return 2056
	}
	if math.Abs(minX) <= 20037508.34 && math.Abs(maxY) <= 20048966.10 {
		return 3857
	}
	return 0
}
