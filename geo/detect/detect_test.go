// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package detect_test

import (
	"os"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/detect"
	"geoconvert.io/geoconvert/geo/formats"
	"geoconvert.io/geoconvert/internal/testcontext"
)

func points(epsg int, coords ...orb.Point) *geo.Dataset {
	ds := &geo.Dataset{EPSG: epsg}
	for _, p := range coords {
		ds.Features = append(ds.Features, geo.Feature{Geometry: p})
	}
	return ds
}

func TestDetectDriverMetadataGeoJSON(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("in", "data.geojson")
	require.NoError(t, formats.Write(ctx, points(4326, orb.Point{2.35, 48.85}), path, "GeoJSON", "UTF-8"))

	result, err := detect.Detect(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 4326, result.EPSG)
	assert.Equal(t, detect.MethodDriver, result.Method)
	assert.Equal(t, detect.ConfidenceHigh, result.Confidence)
}

func TestDetectDriverMetadataGPKG(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("in", "data.gpkg")
	require.NoError(t, formats.Write(ctx, points(2154, orb.Point{650000, 6860000}), path, "GPKG", "UTF-8"))

	result, err := detect.Detect(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2154, result.EPSG)
	assert.Equal(t, detect.MethodDriver, result.Method)
}

func TestDetectSidecar(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("in", "data.shp")
	require.NoError(t, formats.Write(ctx, points(2154, orb.Point{650000, 6860000}), path, "ESRI Shapefile", "UTF-8"))

	result, err := detect.Detect(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2154, result.EPSG)
	assert.Equal(t, detect.MethodSidecar, result.Method)
	assert.NotEmpty(t, result.WKT)
}

func TestDetectExtentHeuristic(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// shapefile without its .prj falls through to the extent heuristic
	path := ctx.File("in", "data.shp")
	require.NoError(t, formats.Write(ctx, points(2154,
		orb.Point{650000, 6860000}, orb.Point{700000, 6900000}), path, "ESRI Shapefile", "UTF-8"))
	require.NoError(t, os.Remove(ctx.File("in", "data.prj")))

	result, err := detect.Detect(ctx, path)
	require.NoError(t, err)
	// Lambert-93 has the smallest declared extent containing these
	assert.Equal(t, 2154, result.EPSG)
	assert.Equal(t, detect.MethodExtent, result.Method)
	assert.Equal(t, detect.ConfidenceMedium, result.Confidence)
}

func TestDetectNone(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// coordinates outside every declared extent
	path := ctx.File("in", "data.shp")
	require.NoError(t, formats.Write(ctx, points(0, orb.Point{9e7, 9e7}), path, "ESRI Shapefile", "UTF-8"))
	_ = os.Remove(ctx.File("in", "data.prj"))

	result, err := detect.Detect(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, result.EPSG)
	assert.Equal(t, detect.MethodNone, result.Method)
	assert.Equal(t, detect.ConfidenceLow, result.Confidence)
}

func TestReproject(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ds := points(4326, orb.Point{2.3522, 48.8566})
	out, err := detect.Reproject(ctx, ds, 4326, 2154)
	require.NoError(t, err)
	assert.Equal(t, 2154, out.EPSG)

	p := out.Features[0].Geometry.(orb.Point)
	assert.InDelta(t, 652469.02, p[0], 1.0)
	assert.InDelta(t, 6862035.26, p[1], 1.0)

	// input must be untouched
	assert.Equal(t, orb.Point{2.3522, 48.8566}, ds.Features[0].Geometry)
	assert.Equal(t, 4326, ds.EPSG)
}

func TestReprojectNoOp(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ds := points(0, orb.Point{1, 2})
	out, err := detect.Reproject(ctx, ds, 2154, 2154)
	require.NoError(t, err)
	assert.Equal(t, 2154, out.EPSG)
	assert.Equal(t, orb.Point{1, 2}, out.Features[0].Geometry)
}

func TestReprojectUnsupported(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := detect.Reproject(ctx, points(0, orb.Point{1, 2}), 9999, 4326)
	require.Error(t, err)
}
