// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package geomclean_test

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/geomclean"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

// bowtie is the classic self-intersecting quad.
func bowtie() orb.Polygon {
	return orb.Polygon{orb.Ring{
		{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0},
	}}
}

func dataset(geoms ...orb.Geometry) *geo.Dataset {
	ds := &geo.Dataset{EPSG: 4326}
	for _, g := range geoms {
		ds.Features = append(ds.Features, geo.Feature{Geometry: g})
	}
	return ds
}

func TestValidate(t *testing.T) {
	assert.NoError(t, geomclean.Validate(orb.Point{2.35, 48.85}))
	assert.NoError(t, geomclean.Validate(square(0, 0, 1)))
	assert.NoError(t, geomclean.Validate(orb.LineString{{0, 0}, {1, 1}}))

	assert.Error(t, geomclean.Validate(orb.Point{math.NaN(), 0}))
	assert.Error(t, geomclean.Validate(orb.LineString{{0, 0}}))
	assert.Error(t, geomclean.Validate(orb.LineString{{1, 1}, {1, 1}}))
	assert.Error(t, geomclean.Validate(orb.Polygon{}))
	assert.Error(t, geomclean.Validate(orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}}}))
	assert.Error(t, geomclean.Validate(bowtie()))
}

func TestCleanCounterInvariant(t *testing.T) {
	ds := dataset(
		square(0, 0, 1),
		nil,
		bowtie(),
		square(0, 0, 1), // duplicate of the first
		orb.Point{1, 2},
		nil,
	)

	out, stats := geomclean.Clean(ds)

	assert.Equal(t, 6, stats.TotalInput)
	assert.Equal(t, 2, stats.NullGeometry)
	assert.Equal(t, stats.TotalInput,
		stats.NullGeometry+stats.Unfixable+stats.DuplicatesRemoved+stats.TotalOutput)
	assert.Equal(t, len(out.Features), stats.TotalOutput)
}

func TestCleanDropsEmptyGeometries(t *testing.T) {
	ds := dataset(
		square(0, 0, 1),
		orb.MultiPoint{},
		orb.MultiLineString{},
		orb.MultiPolygon{},
	)

	out, stats := geomclean.Clean(ds)

	// empty geometries fall with the null drop
	assert.Equal(t, 3, stats.NullGeometry)
	assert.Equal(t, 0, stats.InvalidBefore)
	require.Len(t, out.Features, 1)
	assert.Equal(t, stats.TotalInput,
		stats.NullGeometry+stats.Unfixable+stats.DuplicatesRemoved+stats.TotalOutput)
}

func TestCleanRepairsBowtie(t *testing.T) {
	out, stats := geomclean.Clean(dataset(bowtie()))

	require.Len(t, out.Features, 1)
	assert.Equal(t, 1, stats.InvalidBefore)
	assert.Equal(t, 1, stats.Fixed)
	assert.Equal(t, 0, stats.Unfixable)
	require.Len(t, stats.ErrorDetails, 1)
	assert.Contains(t, stats.ErrorDetails[0].Reason, "self-intersection")

	// the repaired geometry must now pass validation
	assert.NoError(t, geomclean.Validate(out.Features[0].Geometry))
}

func TestCleanDropsUnfixable(t *testing.T) {
	degenerate := orb.Polygon{orb.Ring{{0, 0}, {0, 0}, {0, 0}, {0, 0}}}
	out, stats := geomclean.Clean(dataset(degenerate))

	assert.Len(t, out.Features, 0)
	assert.Equal(t, 1, stats.InvalidBefore)
	assert.Equal(t, 1, stats.Unfixable)
	assert.Equal(t, 0, stats.Fixed)
}

func TestCleanDeduplicates(t *testing.T) {
	out, stats := geomclean.Clean(dataset(
		orb.Point{1, 1},
		orb.Point{1, 1},
		orb.Point{2, 2},
	))

	assert.Len(t, out.Features, 2)
	assert.Equal(t, 1, stats.DuplicatesRemoved)
}

func TestDominantType(t *testing.T) {
	assert.Equal(t, "Unknown", geomclean.DominantType(dataset()))
	assert.Equal(t, "Point", geomclean.DominantType(dataset(
		orb.Point{0, 0}, orb.Point{1, 1}, square(0, 0, 1))))
	assert.Equal(t, "Polygon", geomclean.DominantType(dataset(
		square(0, 0, 1), square(1, 1, 2), orb.Point{0, 0}, nil)))
}
