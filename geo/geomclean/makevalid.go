// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package geomclean

import (
	"math"

	"github.com/paulmach/orb"
)

// MakeValid attempts to repair an invalid geometry. It returns nil
// when nothing valid remains, which the cleaner counts as unfixable.
//
// Repairs applied: non-finite and duplicate consecutive points are
// dropped, open rings are closed, degenerate rings are removed, ring
// orientation is normalized (counter-clockwise exteriors), and rings
// with a single proper self-crossing are split at the crossing into
// two rings, turning a bowtie into a valid multi-polygon.
func MakeValid(g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	if Validate(g) == nil {
		return g
	}

	switch g := g.(type) {
	case orb.Point:
		return nil // a point is either valid or hopeless

	case orb.MultiPoint:
		var out orb.MultiPoint
		for _, p := range g {
			if validatePoint(p) == nil {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out

	case orb.LineString:
		return repairLineString(g)

	case orb.MultiLineString:
		var out orb.MultiLineString
		for _, ls := range g {
			if repaired := repairLineString(ls); repaired != nil {
				out = append(out, repaired.(orb.LineString))
			}
		}
		if len(out) == 0 {
			return nil
		}
		if len(out) == 1 {
			return out[0]
		}
		return out

	case orb.Polygon:
		return polygonsToGeometry(repairPolygon(g))

	case orb.MultiPolygon:
		var all []orb.Polygon
		for _, p := range g {
			all = append(all, repairPolygon(p)...)
		}
		return polygonsToGeometry(all)

	case orb.Collection:
		var out orb.Collection
		for _, member := range g {
			if repaired := MakeValid(member); repaired != nil {
				out = append(out, repaired)
			}
		}
		if len(out) == 0 {
			return nil
		}
		if len(out) == 1 {
			return out[0]
		}
		return out
	}
	return nil
}

func repairLineString(ls orb.LineString) orb.Geometry {
	cleaned := dropBadPoints(ls)
	if len(cleaned) < 2 || !hasDistinctPoints(cleaned) {
		return nil
	}
	return orb.LineString(cleaned)
}

// repairPolygon returns zero or more valid polygons rebuilt from a
// broken one.
func repairPolygon(p orb.Polygon) []orb.Polygon {
	if len(p) == 0 {
		return nil
	}

	exteriors := repairRing(p[0])
	if len(exteriors) == 0 {
		return nil
	}

	if len(exteriors) == 1 {
		out := orb.Polygon{orient(exteriors[0], true)}
		for _, hole := range p[1:] {
			repaired := repairRing(hole)
			if len(repaired) == 1 && validateRing(repaired[0]) == nil {
				out = append(out, orient(repaired[0], false))
			}
		}
		return []orb.Polygon{out}
	}

	// the exterior split into pieces; holes no longer have an
	// unambiguous owner and are dropped
	var out []orb.Polygon
	for _, ring := range exteriors {
		out = append(out, orb.Polygon{orient(ring, true)})
	}
	return out
}

// repairRing cleans a ring and splits a single self-crossing into two
// rings. Degenerate results are discarded.
func repairRing(ring orb.Ring) []orb.Ring {
	cleaned := orb.Ring(dropBadPoints(ring))
	if len(cleaned) < 3 {
		return nil
	}
	if !cleaned.Closed() {
		cleaned = append(cleaned, cleaned[0])
	}
	if len(cleaned) < 4 || math.Abs(ringArea(cleaned)) == 0 {
		return nil
	}

	i, j, at, crossed := ringSelfIntersection(cleaned)
	if !crossed {
		return []orb.Ring{cleaned}
	}

	first, second := splitRingAt(cleaned, i, j, at)
	var out []orb.Ring
	for _, piece := range []orb.Ring{first, second} {
		if len(piece) >= 4 && validateRing(piece) == nil {
			out = append(out, piece)
		}
	}
	return out
}

// splitRingAt splits a closed ring at the crossing point between
// segments i and j (i < j), producing two closed rings.
func splitRingAt(ring orb.Ring, i, j int, at orb.Point) (orb.Ring, orb.Ring) {
	open := ring[:len(ring)-1]

	first := orb.Ring{at}
	first = append(first, open[i+1:j+1]...)
	first = append(first, at)

	second := orb.Ring{at}
	second = append(second, open[j+1:]...)
	second = append(second, open[:i+1]...)
	second = append(second, at)

	return first, second
}

func dropBadPoints(points []orb.Point) []orb.Point {
	out := make([]orb.Point, 0, len(points))
	for _, p := range points {
		if validatePoint(p) != nil {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out
}

// orient returns the ring wound counter-clockwise when ccw is true,
// clockwise otherwise.
func orient(ring orb.Ring, ccw bool) orb.Ring {
	if (ringArea(ring) > 0) == ccw {
		return ring
	}
	reversed := make(orb.Ring, len(ring))
	for i, p := range ring {
		reversed[len(ring)-1-i] = p
	}
	return reversed
}

func polygonsToGeometry(polygons []orb.Polygon) orb.Geometry {
	switch len(polygons) {
	case 0:
		return nil
	case 1:
		return polygons[0]
	default:
		return orb.MultiPolygon(polygons)
	}
}
