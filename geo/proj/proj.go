// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package proj implements coordinate transforms for the CRS table the
// service supports. Transforms compose as orb.Projection functions so
// they plug into orb/project and the rest of the pipeline.
package proj

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/zeebo/errs"
)

// Error is the default proj errs class.
var Error = errs.Class("proj")

type ellipsoid struct {
	a  float64 // semi-major axis
	f  float64 // flattening
	e2 float64 // first eccentricity squared
	e  float64
}

func newEllipsoid(a, f float64) ellipsoid {
	e2 := f * (2 - f)
	return ellipsoid{a: a, f: f, e2: e2, e: math.Sqrt(e2)}
}

var (
	wgs84    = newEllipsoid(6378137, 1/298.257223563)
	grs80    = newEllipsoid(6378137, 1/298.257222101)
	airy1830 = newEllipsoid(6377563.396, (6377563.396-6356256.909)/6377563.396)
)

// crs maps WGS84 geographic coordinates (lon/lat degrees) to and from
// the projected (or geographic) coordinate system.
type crs struct {
	forward orb.Projection
	inverse orb.Projection
}

var identity = func(p orb.Point) orb.Point { return p }

var registry = map[int]crs{
	4326:  {identity, identity},
	4171:  {identity, identity}, // RGF93 geographic, coincident with WGS84 at this precision
	3857:  {mercatorForward, mercatorInverse},
	2154:  newLambert93(),
	27700: newBritishNationalGrid(),
	25831: newTransverseMercator(grs80, 3, 0.9996, 0, 500000, 0, nil),
	25832: newTransverseMercator(grs80, 9, 0.9996, 0, 500000, 0, nil),
	32631: newTransverseMercator(wgs84, 3, 0.9996, 0, 500000, 0, nil),
	32632: newTransverseMercator(wgs84, 9, 0.9996, 0, 500000, 0, nil),
}

// Supported reports whether the EPSG code has a registered transform.
func Supported(epsg int) bool {
	_, ok := registry[epsg]
	return ok
}

// Transform returns a point transform from source to target EPSG.
func Transform(source, target int) (orb.Projection, error) {
	if source == target {
		return identity, nil
	}
	src, ok := registry[source]
	if !ok {
		return nil, Error.New("unsupported source EPSG:%d", source)
	}
	dst, ok := registry[target]
	if !ok {
		return nil, Error.New("unsupported target EPSG:%d", target)
	}
	return func(p orb.Point) orb.Point {
		return dst.forward(src.inverse(p))
	}, nil
}

// Web Mercator (spherical)

const webMercatorRadius = 6378137.0

func mercatorForward(p orb.Point) orb.Point {
	x := webMercatorRadius * rad(p[0])
	y := webMercatorRadius * math.Log(math.Tan(math.Pi/4+rad(p[1])/2))
	return orb.Point{x, y}
}

func mercatorInverse(p orb.Point) orb.Point {
	lon := deg(p[0] / webMercatorRadius)
	lat := deg(2*math.Atan(math.Exp(p[1]/webMercatorRadius)) - math.Pi/2)
	return orb.Point{lon, lat}
}

// Transverse Mercator (ellipsoidal, Snyder series)

type helmert struct {
	tx, ty, tz float64 // metres
	rx, ry, rz float64 // arc seconds
	s          float64 // ppm
	from, to   ellipsoid
}

func newTransverseMercator(ell ellipsoid, lon0Deg, k0, lat0Deg, fe, fn float64, shift *helmert) crs {
	lon0 := rad(lon0Deg)
	lat0 := rad(lat0Deg)
	m0 := meridionalArc(ell, lat0)
	e2, ep2 := ell.e2, ell.e2/(1-ell.e2)

	project := func(lon, lat float64) (float64, float64) {
		sin, cos := math.Sin(lat), math.Cos(lat)
		tan := sin / cos

		n := ell.a / math.Sqrt(1-e2*sin*sin)
		t := tan * tan
		c := ep2 * cos * cos
		a := (lon - lon0) * cos
		m := meridionalArc(ell, lat)

		x := fe + k0*n*(a+(1-t+c)*a*a*a/6+
			(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120)
		y := fn + k0*(m-m0+n*tan*(a*a/2+
			(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
			(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
		return x, y
	}

	forward := func(p orb.Point) orb.Point {
		lon, lat := rad(p[0]), rad(p[1])
		if shift != nil {
			lon, lat = shift.apply(lon, lat)
		}
		x, y := project(lon, lat)
		return orb.Point{x, y}
	}

	inverse := func(p orb.Point) orb.Point {
		m := m0 + (p[1]-fn)/k0
		mu := m / (ell.a * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))
		e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))

		phi1 := mu +
			(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
			(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
			(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
			(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

		sin1, cos1 := math.Sin(phi1), math.Cos(phi1)
		t1 := (sin1 / cos1) * (sin1 / cos1)
		c1 := ep2 * cos1 * cos1
		n1 := ell.a / math.Sqrt(1-e2*sin1*sin1)
		r1 := ell.a * (1 - e2) / math.Pow(1-e2*sin1*sin1, 1.5)
		d := (p[0] - fe) / (n1 * k0)

		lat := phi1 - (n1 * sin1 / cos1 / r1) * (d*d/2 -
			(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24 +
			(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
		lon := lon0 + (d-(1+2*t1+c1)*d*d*d/6+
			(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120)/cos1

		// The series footpoint drifts metres once the point sits far
		// from the central meridian, so refine against the forward
		// projection until the pair is self-consistent.
		for i := 0; i < 12; i++ {
			x, y := project(lon, lat)
			dx, dy := p[0]-x, p[1]-y
			if math.Abs(dx) < 1e-9 && math.Abs(dy) < 1e-9 {
				break
			}
			sin, cos := math.Sin(lat), math.Cos(lat)
			nu := ell.a / math.Sqrt(1-e2*sin*sin)
			rho := ell.a * (1 - e2) / math.Pow(1-e2*sin*sin, 1.5)
			lon += dx / (k0 * nu * cos)
			lat += dy / (k0 * rho)
		}

		if shift != nil {
			lon, lat = shift.applyInverse(lon, lat)
		}
		return orb.Point{deg(lon), deg(lat)}
	}

	return crs{forward, inverse}
}

func meridionalArc(ell ellipsoid, lat float64) float64 {
	e2 := ell.e2
	return ell.a * ((1-e2/4-3*e2*e2/64-5*e2*e2*e2/256)*lat -
		(3*e2/8+3*e2*e2/32+45*e2*e2*e2/1024)*math.Sin(2*lat) +
		(15*e2*e2/256+45*e2*e2*e2/1024)*math.Sin(4*lat) -
		(35*e2*e2*e2/3072)*math.Sin(6*lat))
}

// Lambert-93 (LCC 2SP on GRS80)

func newLambert93() crs {
	return newLambertConformalConic(grs80,
		rad(3), rad(46.5), rad(44), rad(49), 700000, 6600000)
}

func newLambertConformalConic(ell ellipsoid, lon0, lat0, lat1, lat2, fe, fn float64) crs {
	mf := func(lat float64) float64 {
		sin := math.Sin(lat)
		return math.Cos(lat) / math.Sqrt(1-ell.e2*sin*sin)
	}
	tf := func(lat float64) float64 {
		sin := math.Sin(lat)
		return math.Tan(math.Pi/4-lat/2) /
			math.Pow((1-ell.e*sin)/(1+ell.e*sin), ell.e/2)
	}

	m1, m2 := mf(lat1), mf(lat2)
	t0, t1, t2 := tf(lat0), tf(lat1), tf(lat2)
	n := (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	bigF := m1 / (n * math.Pow(t1, n))
	rho0 := ell.a * bigF * math.Pow(t0, n)

	forward := func(p orb.Point) orb.Point {
		lon, lat := rad(p[0]), rad(p[1])
		rho := ell.a * bigF * math.Pow(tf(lat), n)
		theta := n * (lon - lon0)
		return orb.Point{fe + rho*math.Sin(theta), fn + rho0 - rho*math.Cos(theta)}
	}

	inverse := func(p orb.Point) orb.Point {
		dx := p[0] - fe
		dy := rho0 - (p[1] - fn)
		rho := math.Copysign(math.Sqrt(dx*dx+dy*dy), n)
		theta := math.Atan2(dx, dy)
		t := math.Pow(rho/(ell.a*bigF), 1/n)

		lat := math.Pi/2 - 2*math.Atan(t)
		for i := 0; i < 8; i++ {
			sin := math.Sin(lat)
			lat = math.Pi/2 - 2*math.Atan(t*math.Pow((1-ell.e*sin)/(1+ell.e*sin), ell.e/2))
		}
		return orb.Point{deg(theta/n + lon0), deg(lat)}
	}

	return crs{forward, inverse}
}

// British National Grid (TM on Airy 1830 + Helmert from WGS84)

func newBritishNationalGrid() crs {
	shift := &helmert{
		tx: -446.448, ty: 125.157, tz: -542.060,
		rx: -0.1502, ry: -0.2470, rz: -0.8421,
		s:    20.4894,
		from: wgs84, to: airy1830,
	}
	return newTransverseMercator(airy1830, -2, 0.9996012717, 49, 400000, -100000, shift)
}

// apply converts WGS84 geographic radians to the target datum.
func (h *helmert) apply(lon, lat float64) (float64, float64) {
	x, y, z := geodeticToCartesian(h.from, lon, lat)
	x2, y2, z2 := h.transform(x, y, z, 1)
	return cartesianToGeodetic(h.to, x2, y2, z2)
}

// applyInverse converts target-datum geographic radians back to WGS84.
func (h *helmert) applyInverse(lon, lat float64) (float64, float64) {
	x, y, z := geodeticToCartesian(h.to, lon, lat)
	x2, y2, z2 := h.transform(x, y, z, -1)
	return cartesianToGeodetic(h.from, x2, y2, z2)
}

func (h *helmert) transform(x, y, z, sign float64) (float64, float64, float64) {
	const arcsec = math.Pi / 180 / 3600
	rx := sign * h.rx * arcsec
	ry := sign * h.ry * arcsec
	rz := sign * h.rz * arcsec
	s := 1 + sign*h.s*1e-6

	x2 := sign*h.tx + s*(x-rz*y+ry*z)
	y2 := sign*h.ty + s*(rz*x+y-rx*z)
	z2 := sign*h.tz + s*(-ry*x+rx*y+z)
	return x2, y2, z2
}

func geodeticToCartesian(ell ellipsoid, lon, lat float64) (x, y, z float64) {
	sin, cos := math.Sin(lat), math.Cos(lat)
	n := ell.a / math.Sqrt(1-ell.e2*sin*sin)
	x = n * cos * math.Cos(lon)
	y = n * cos * math.Sin(lon)
	z = n * (1 - ell.e2) * sin
	return x, y, z
}

func cartesianToGeodetic(ell ellipsoid, x, y, z float64) (lon, lat float64) {
	lon = math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)
	lat = math.Atan2(z, p*(1-ell.e2))
	for i := 0; i < 10; i++ {
		sin := math.Sin(lat)
		n := ell.a / math.Sqrt(1-ell.e2*sin*sin)
		lat = math.Atan2(z+ell.e2*n*sin, p)
	}
	return lon, lat
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
