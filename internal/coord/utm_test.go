package coord

import (
	"math"
	"testing"
)

func TestUTM_CentralMeridian(t *testing.T) {
	u := NewUTM(32, false) // central meridian 9°E

	e, n := u.FromWGS84(9, 0)
	if math.Abs(e-500000) > 1e-3 || math.Abs(n) > 1e-3 {
		t.Errorf("FromWGS84(9, 0) = (%.4f, %.4f), want (500000, 0)", e, n)
	}

	// On the central meridian the scale is k0, so one degree of latitude near
	// the equator is ~0.9996 * 110574 m.
	_, n1 := u.FromWGS84(9, 1)
	if math.Abs(n1-110574.4*0.9996) > 5 {
		t.Errorf("northing at 1°N = %.1f, want ~%.1f", n1, 110574.4*0.9996)
	}
}

func TestUTM_KnownPoint(t *testing.T) {
	// Zurich, ETH main building: zone 32N, E 465'xxx N 5'247'xxx.
	u := NewUTM(32, false)
	e, n := u.FromWGS84(8.5480, 47.3764)
	if e < 465000 || e > 466500 {
		t.Errorf("easting = %.1f, want ~465.7 km", e)
	}
	if n < 5246500 || n > 5248500 {
		t.Errorf("northing = %.1f, want ~5247.5 km", n)
	}
}

func TestUTM_SouthernHemisphere(t *testing.T) {
	u := NewUTM(33, true)
	if u.EPSG() != 32733 {
		t.Fatalf("EPSG() = %d, want 32733", u.EPSG())
	}
	_, n := u.FromWGS84(15, -10)
	if n <= 0 || n >= utmFalseNorthing {
		t.Errorf("southern northing = %.1f, want in (0, 1e7)", n)
	}
	lon, lat := u.ToWGS84(u.FromWGS84(16.5, -33.9))
	if math.Abs(lon-16.5) > 1e-8 || math.Abs(lat+33.9) > 1e-8 {
		t.Errorf("roundtrip = (%.10f, %.10f), want (16.5, -33.9)", lon, lat)
	}
}

func TestUTM_RoundTripAcrossZone(t *testing.T) {
	u := NewUTM(31, false) // 0°..6°E
	for lon := 0.0; lon <= 6.0; lon += 0.75 {
		for lat := 0.0; lat <= 80; lat += 10 {
			gotLon, gotLat := u.ToWGS84(u.FromWGS84(lon, lat))
			if math.Abs(gotLon-lon) > 1e-7 || math.Abs(gotLat-lat) > 1e-7 {
				t.Errorf("roundtrip (%.2f, %.2f) -> (%.10f, %.10f)", lon, lat, gotLon, gotLat)
			}
		}
	}
}
