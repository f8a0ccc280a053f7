package coord

import "math"

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563

	utmK0            = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

// UTM implements the Projection interface for the WGS84 UTM zones
// (EPSG:326xx north, EPSG:327xx south) using the Krüger series.
// Accuracy is well below a millimeter inside the zone.
type UTM struct {
	Zone  int
	South bool

	lon0  float64 // central meridian, radians
	e     float64 // first eccentricity
	bigA  float64 // rectifying radius
	alpha [3]float64
	beta  [3]float64
	delta [3]float64
}

// NewUTM returns the projection for the given zone (1-60) and hemisphere.
func NewUTM(zone int, south bool) *UTM {
	n := wgs84F / (2 - wgs84F)
	n2, n3 := n*n, n*n*n
	return &UTM{
		Zone:  zone,
		South: south,
		lon0:  (float64(zone-1)*6 - 180 + 3) * math.Pi / 180,
		e:     math.Sqrt(wgs84F * (2 - wgs84F)),
		bigA:  wgs84A / (1 + n) * (1 + n2/4 + n2*n2/64),
		alpha: [3]float64{n/2 - 2*n2/3 + 5*n3/16, 13*n2/48 - 3*n3/5, 61 * n3 / 240},
		beta:  [3]float64{n/2 - 2*n2/3 + 37*n3/96, n2/48 + n3/15, 17 * n3 / 480},
		delta: [3]float64{2*n - 2*n2/3 - 2*n3, 7*n2/3 - 8*n3/5, 56 * n3 / 15},
	}
}

func (u *UTM) EPSG() int {
	if u.South {
		return 32700 + u.Zone
	}
	return 32600 + u.Zone
}

// FromWGS84 converts WGS84 longitude/latitude (degrees) to easting/northing.
func (u *UTM) FromWGS84(lon, lat float64) (easting, northing float64) {
	phi := lat * math.Pi / 180
	dLon := lon*math.Pi/180 - u.lon0

	sinPhi := math.Sin(phi)
	t := math.Sinh(math.Atanh(sinPhi) - u.e*math.Atanh(u.e*sinPhi))
	xiP := math.Atan2(t, math.Cos(dLon))
	etaP := math.Atanh(math.Sin(dLon) / math.Sqrt(1+t*t))

	xi, eta := xiP, etaP
	for j := 0; j < 3; j++ {
		k := 2 * float64(j+1)
		xi += u.alpha[j] * math.Sin(k*xiP) * math.Cosh(k*etaP)
		eta += u.alpha[j] * math.Cos(k*xiP) * math.Sinh(k*etaP)
	}

	easting = utmFalseEasting + utmK0*u.bigA*eta
	northing = utmK0 * u.bigA * xi
	if u.South {
		northing += utmFalseNorthing
	}
	return
}

// ToWGS84 converts easting/northing to WGS84 longitude/latitude (degrees).
func (u *UTM) ToWGS84(easting, northing float64) (lon, lat float64) {
	if u.South {
		northing -= utmFalseNorthing
	}
	xi := northing / (utmK0 * u.bigA)
	eta := (easting - utmFalseEasting) / (utmK0 * u.bigA)

	xiP, etaP := xi, eta
	for j := 0; j < 3; j++ {
		k := 2 * float64(j+1)
		xiP -= u.beta[j] * math.Sin(k*xi) * math.Cosh(k*eta)
		etaP -= u.beta[j] * math.Cos(k*xi) * math.Sinh(k*eta)
	}

	chi := math.Asin(math.Sin(xiP) / math.Cosh(etaP))
	phi := chi
	for j := 0; j < 3; j++ {
		phi += u.delta[j] * math.Sin(2*float64(j+1)*chi)
	}

	lon = (u.lon0 + math.Atan2(math.Sinh(etaP), math.Cos(xiP))) * 180 / math.Pi
	lat = phi * 180 / math.Pi
	return
}
