// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package geomclean

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Validate checks a geometry against the validity rules the cleaner
// repairs: finite coordinates, closed non-degenerate rings, no
// self-intersections. It returns nil for valid geometries and an error
// describing the first problem found.
func Validate(g orb.Geometry) error {
	switch g := g.(type) {
	case orb.Point:
		return validatePoint(g)
	case orb.MultiPoint:
		for _, p := range g {
			if err := validatePoint(p); err != nil {
				return err
			}
		}
		return nil
	case orb.LineString:
		return validateLineString(g)
	case orb.MultiLineString:
		for _, ls := range g {
			if err := validateLineString(ls); err != nil {
				return err
			}
		}
		return nil
	case orb.Ring:
		return validateRing(g)
	case orb.Polygon:
		return validatePolygon(g)
	case orb.MultiPolygon:
		for _, p := range g {
			if err := validatePolygon(p); err != nil {
				return err
			}
		}
		return nil
	case orb.Collection:
		for _, member := range g {
			if err := Validate(member); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}
}

func validatePoint(p orb.Point) error {
	if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
		return fmt.Errorf("non-finite coordinate")
	}
	return nil
}

func validateLineString(ls orb.LineString) error {
	if len(ls) < 2 {
		return fmt.Errorf("linestring with fewer than 2 points")
	}
	for _, p := range ls {
		if err := validatePoint(p); err != nil {
			return err
		}
	}
	if !hasDistinctPoints(ls) {
		return fmt.Errorf("linestring with zero length")
	}
	return nil
}

func validatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("polygon without rings")
	}
	for _, ring := range p {
		if err := validateRing(ring); err != nil {
			return err
		}
	}
	return nil
}

func validateRing(ring orb.Ring) error {
	if len(ring) < 4 {
		return fmt.Errorf("ring with fewer than 4 points")
	}
	for _, p := range ring {
		if err := validatePoint(p); err != nil {
			return err
		}
	}
	if !ring.Closed() {
		return fmt.Errorf("ring not closed")
	}
	if ringArea(ring) == 0 {
		return fmt.Errorf("ring with zero area")
	}
	if i, j, at, crossed := ringSelfIntersection(ring); crossed {
		return fmt.Errorf("self-intersection between segments %d and %d at (%g, %g)", i, j, at[0], at[1])
	}
	return nil
}

func hasDistinctPoints(points []orb.Point) bool {
	for i := 1; i < len(points); i++ {
		if points[i] != points[0] {
			return true
		}
	}
	return false
}

// ringArea returns the signed shoelace area; positive for
// counter-clockwise rings.
func ringArea(ring orb.Ring) float64 {
	if len(ring) < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return sum / 2
}

// ringSelfIntersection finds the first proper crossing between two
// non-adjacent segments of a closed ring.
func ringSelfIntersection(ring orb.Ring) (i, j int, at orb.Point, found bool) {
	n := len(ring) - 1 // last point repeats the first
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// adjacent segments share a vertex and cannot cross properly
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if at, ok := segmentCrossing(ring[i], ring[i+1], ring[j], ring[j+1]); ok {
				return i, j, at, true
			}
		}
	}
	return 0, 0, orb.Point{}, false
}

// segmentCrossing returns the crossing point of two segments that
// properly intersect (crossing strictly inside both segments).
func segmentCrossing(a, b, c, d orb.Point) (orb.Point, bool) {
	d1 := cross(c, d, a)
	d2 := cross(c, d, b)
	d3 := cross(a, b, c)
	d4 := cross(a, b, d)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		// solve for the intersection point
		denom := (b[0]-a[0])*(d[1]-c[1]) - (b[1]-a[1])*(d[0]-c[0])
		if denom == 0 {
			return orb.Point{}, false
		}
		t := ((c[0]-a[0])*(d[1]-c[1]) - (c[1]-a[1])*(d[0]-c[0])) / denom
		return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}, true
	}
	return orb.Point{}, false
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}
