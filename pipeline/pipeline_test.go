// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package pipeline_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/formats"
	"geoconvert.io/geoconvert/internal/testcontext"
	"geoconvert.io/geoconvert/pipeline"
)

func sampleInput(t *testing.T, ctx *testcontext.Context) string {
	ds := &geo.Dataset{
		EPSG: 4326,
		Fields: []geo.Field{
			{Name: "Nom de Ville", Type: geo.TypeString},
			{Name: "population", Type: geo.TypeString},
		},
		Features: []geo.Feature{
			{Geometry: orb.Point{2.3522, 48.8566}, Values: []interface{}{"Paris", "2100000"}},
			{Geometry: orb.Point{5.3698, 43.2965}, Values: []interface{}{"Marseille", "870000"}},
			{Geometry: nil, Values: []interface{}{"Atlantis", "N/A"}},
		},
	}
	path := ctx.File("in", "cities.geojson")
	require.NoError(t, formats.Write(ctx, ds, path, "GeoJSON", "UTF-8"))
	return path
}

func TestProcessGeoJSONToShapefile(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	processor := pipeline.NewProcessor(zaptest.NewLogger(t))
	result, err := processor.Process(ctx, sampleInput(t, ctx), pipeline.Options{
		OutputFormat:        "ESRI Shapefile",
		TargetEPSG:          2154,
		FixGeometries:       true,
		NormalizeAttributes: true,
		WorkDir:             ctx.Dir("work"),
	})
	require.NoError(t, err)

	// multi-file output is packaged as a zip
	assert.Equal(t, ".zip", filepath.Ext(result.OutputPath))
	_, err = os.Stat(result.OutputPath)
	require.NoError(t, err)

	reader, err := zip.OpenReader(result.OutputPath)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, file := range reader.File {
		names[file.Name] = true
	}
	require.NoError(t, reader.Close())
	assert.True(t, names["cities.shp"])
	assert.True(t, names["cities.dbf"])

	assert.Equal(t, 2, result.FeatureCount)
	assert.Equal(t, 4326, result.SourceEPSG)
	assert.Equal(t, 2154, result.TargetEPSG)
	assert.Equal(t, "Point", result.GeometryType)
	assert.Equal(t, 1, result.GeometryStats.NullGeometry)

	require.NotNil(t, result.Report)
	assert.GreaterOrEqual(t, result.Report.QualityScore, 85)
	assert.True(t, result.Report.Projection.Reprojected)
	// the normalizer snake_cases the accented column
	_, renamed := result.Report.AttributeQuality.ColumnsRenamed["Nom de Ville"]
	assert.True(t, renamed)
}

func TestProcessZipArchive(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	geojson := sampleInput(t, ctx)
	archive := ctx.File("in", "cities.zip")
	out, err := os.Create(archive)
	require.NoError(t, err)
	writer := zip.NewWriter(out)
	dst, err := writer.Create("cities.geojson")
	require.NoError(t, err)
	data, err := os.ReadFile(geojson)
	require.NoError(t, err)
	_, err = dst.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, out.Close())

	processor := pipeline.NewProcessor(zaptest.NewLogger(t))
	result, err := processor.Process(ctx, archive, pipeline.Options{
		OutputFormat:        "GPKG",
		FixGeometries:       true,
		NormalizeAttributes: true,
		WorkDir:             ctx.Dir("work"),
	})
	require.NoError(t, err)

	assert.Equal(t, ".gpkg", filepath.Ext(result.OutputPath))
	// no explicit target: the detected source CRS is pinned
	assert.Equal(t, 4326, result.TargetEPSG)

	ds, err := formats.Read(ctx, result.OutputPath, "UTF-8")
	require.NoError(t, err)
	assert.Equal(t, 4326, ds.EPSG)
	assert.Len(t, ds.Features, 2)
}

func TestProcessLayerNameOption(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	processor := pipeline.NewProcessor(zaptest.NewLogger(t))
	result, err := processor.Process(ctx, sampleInput(t, ctx), pipeline.Options{
		OutputFormat:        "GeoJSON",
		FixGeometries:       true,
		NormalizeAttributes: true,
		WorkDir:             ctx.Dir("work"),
		DriverOptions:       map[string]string{"layer_name": "communes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "communes.geojson", filepath.Base(result.OutputPath))
}

func TestProcessUnsupportedFormat(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	processor := pipeline.NewProcessor(zaptest.NewLogger(t))
	_, err := processor.Process(ctx, sampleInput(t, ctx), pipeline.Options{
		OutputFormat: "Raster",
		WorkDir:      ctx.Dir("work"),
	})
	require.Error(t, err)
}

func TestProcessMissingInput(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	processor := pipeline.NewProcessor(zaptest.NewLogger(t))
	_, err := processor.Process(ctx, ctx.File("in", "nope.geojson"), pipeline.Options{
		OutputFormat: "GeoJSON",
		WorkDir:      ctx.Dir("work"),
	})
	require.Error(t, err)
}
