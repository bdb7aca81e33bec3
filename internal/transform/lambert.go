package transform

import "math"

// Belgian Lambert 2008 (EPSG:3812): Lambert Conformal Conic 2SP on the
// GRS80 ellipsoid. For the WGS84 output the ETRS89/WGS84 datum shift is
// negligible at asset-registration accuracy.
const (
	grs80A = 6378137.0
	grs80F = 1.0 / 298.257222101

	lb08Lat0 = (50.0 + 47.0/60 + 52.134/3600) * math.Pi / 180
	lb08Lon0 = (4.0 + 21.0/60 + 33.177/3600) * math.Pi / 180
	lb08Lat1 = (49.0 + 50.0/60) * math.Pi / 180
	lb08Lat2 = (51.0 + 10.0/60) * math.Pi / 180
	lb08FE   = 649328.0
	lb08FN   = 665262.0
)

type lambertConic struct {
	e  float64
	n  float64
	f  float64
	r0 float64
}

var lambert2008 = newLambertConic()

func newLambertConic() lambertConic {
	e2 := grs80F * (2 - grs80F)
	e := math.Sqrt(e2)

	m := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Cos(phi) / math.Sqrt(1-e2*s*s)
	}
	t := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Tan(math.Pi/4-phi/2) / math.Pow((1-e*s)/(1+e*s), e/2)
	}

	m1, m2 := m(lb08Lat1), m(lb08Lat2)
	t0, t1, t2 := t(lb08Lat0), t(lb08Lat1), t(lb08Lat2)

	n := (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	f := m1 / (n * math.Pow(t1, n))
	r0 := grs80A * f * math.Pow(t0, n)

	return lambertConic{e: e, n: n, f: f, r0: r0}
}

// Inverse converts Lambert 2008 easting/northing to WGS84 lon/lat degrees
func (lc lambertConic) Inverse(east, north float64) (lon, lat float64) {
	de := east - lb08FE
	dn := lc.r0 - (north - lb08FN)

	r := math.Sqrt(de*de + dn*dn)
	if lc.n < 0 {
		r = -r
	}
	tp := math.Pow(r/(grs80A*lc.f), 1/lc.n)
	theta := math.Atan2(de, dn)

	lonRad := theta/lc.n + lb08Lon0

	// Fixed-point iteration for the isometric latitude inverse; converges
	// in a handful of rounds at double precision.
	phi := math.Pi/2 - 2*math.Atan(tp)
	for i := 0; i < 8; i++ {
		s := math.Sin(phi)
		phi = math.Pi/2 - 2*math.Atan(tp*math.Pow((1-lc.e*s)/(1+lc.e*s), lc.e/2))
	}

	return lonRad * 180 / math.Pi, phi * 180 / math.Pi
}

// Forward converts WGS84 lon/lat degrees to Lambert 2008 easting/northing
func (lc lambertConic) Forward(lon, lat float64) (east, north float64) {
	phi := lat * math.Pi / 180
	lam := lon * math.Pi / 180

	s := math.Sin(phi)
	t := math.Tan(math.Pi/4-phi/2) / math.Pow((1-lc.e*s)/(1+lc.e*s), lc.e/2)
	r := grs80A * lc.f * math.Pow(t, lc.n)
	theta := lc.n * (lam - lb08Lon0)

	return lb08FE + r*math.Sin(theta), lb08FN + lc.r0 - r*math.Cos(theta)
}
