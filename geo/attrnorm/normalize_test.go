// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package attrnorm_test

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/attrnorm"
)

func TestCleanName(t *testing.T) {
	assert.Equal(t, "nom_de_rue", attrnorm.CleanName("Nom de Rue", false))
	assert.Equal(t, "departement", attrnorm.CleanName("Département", false))
	assert.Equal(t, "col_2024_total", attrnorm.CleanName("2024 Total", false))
	assert.Equal(t, "a_b", attrnorm.CleanName("  a---b  ", false))
	assert.Equal(t, "col", attrnorm.CleanName("", false))
	assert.Equal(t, "col", attrnorm.CleanName("日本語", false))

	// shapefile truncation stays within the DBF limit and never ends
	// with an underscore
	assert.Equal(t, "population", attrnorm.CleanName("Population Density 2024", false)[:10])
	name := attrnorm.CleanName("population_density_2024", true)
	assert.LessOrEqual(t, len(name), 10)
	assert.Equal(t, "population", name)
}

func TestNormalizeCollisions(t *testing.T) {
	ds := &geo.Dataset{
		Fields: []geo.Field{
			{Name: "Name", Type: geo.TypeString},
			{Name: "name", Type: geo.TypeString},
			{Name: "NAME", Type: geo.TypeString},
		},
		Features: []geo.Feature{
			{Geometry: orb.Point{0, 0}, Values: []interface{}{"a", "b", "c"}},
		},
	}

	out, stats := attrnorm.Normalize(ds, "GeoJSON")
	require.Len(t, out.Fields, 3)
	assert.Equal(t, "name", out.Fields[0].Name)
	assert.Equal(t, "name_1", out.Fields[1].Name)
	assert.Equal(t, "name_2", out.Fields[2].Name)
	assert.Len(t, stats.ColumnsRenamed, 3)
}

func TestNormalizeShapefileCollisions(t *testing.T) {
	ds := &geo.Dataset{
		Fields: []geo.Field{
			{Name: "riverbank_width", Type: geo.TypeString},
			{Name: "riverbank_depth", Type: geo.TypeString},
		},
		Features: []geo.Feature{
			{Geometry: orb.Point{0, 0}, Values: []interface{}{"1", "2"}},
		},
	}

	out, _ := attrnorm.Normalize(ds, attrnorm.ShapefileFormat)
	require.Len(t, out.Fields, 2)
	// both truncate to "riverbank_" -> "riverbank"; the suffix replaces
	// the tail so the limit holds
	assert.Equal(t, "riverbank", out.Fields[0].Name)
	assert.Equal(t, "riverban_1", out.Fields[1].Name)
	for _, field := range out.Fields {
		assert.LessOrEqual(t, len(field.Name), 10)
	}
}

func TestNormalizeGhostColumns(t *testing.T) {
	ds := &geo.Dataset{
		Fields: []geo.Field{
			{Name: "OBJECTID", Type: geo.TypeString},
			{Name: "Shape_Area", Type: geo.TypeString},
			{Name: "city", Type: geo.TypeString},
		},
		Features: []geo.Feature{
			{Geometry: orb.Point{0, 0}, Values: []interface{}{"1", "2.5", "Lyon"}},
			{Geometry: orb.Point{1, 1}, Values: []interface{}{"2", "3.5", "Nice"}},
		},
	}

	out, stats := attrnorm.Normalize(ds, "GeoJSON")
	require.Len(t, out.Fields, 1)
	assert.Equal(t, "city", out.Fields[0].Name)
	assert.ElementsMatch(t, []string{"objectid", "shape_area"}, stats.ColumnsDropped)
	require.Len(t, out.Features[0].Values, 1)
	assert.Equal(t, "Lyon", out.Features[0].Values[0])
}

func TestNormalizeTypeCoercion(t *testing.T) {
	ds := &geo.Dataset{
		Fields: []geo.Field{
			{Name: "population", Type: geo.TypeString},
			{Name: "updated", Type: geo.TypeString},
			{Name: "label", Type: geo.TypeString},
		},
		Features: []geo.Feature{
			{Geometry: orb.Point{0, 0}, Values: []interface{}{"1200", "2024-01-15", "12 rue"}},
			{Geometry: orb.Point{1, 1}, Values: []interface{}{"85.5", "2024-02-01 10:30:00", "x"}},
			{Geometry: orb.Point{2, 2}, Values: []interface{}{nil, nil, nil}},
		},
	}

	out, stats := attrnorm.Normalize(ds, "GeoJSON")
	assert.Equal(t, geo.TypeReal, out.Fields[0].Type)
	assert.Equal(t, geo.TypeTimestamp, out.Fields[1].Type)
	assert.Equal(t, geo.TypeString, out.Fields[2].Type)
	assert.Equal(t, "numeric", stats.TypeConversions["population"])
	assert.Equal(t, "datetime", stats.TypeConversions["updated"])

	assert.Equal(t, 1200.0, out.Features[0].Values[0])
	assert.Equal(t, 85.5, out.Features[1].Values[0])
	ts, ok := out.Features[0].Values[1].(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
}

func TestNormalizeMixedColumnStaysString(t *testing.T) {
	ds := &geo.Dataset{
		Fields: []geo.Field{{Name: "code", Type: geo.TypeString}},
		Features: []geo.Feature{
			{Geometry: orb.Point{0, 0}, Values: []interface{}{"75"}},
			{Geometry: orb.Point{1, 1}, Values: []interface{}{"2A"}},
		},
	}

	out, stats := attrnorm.Normalize(ds, "GeoJSON")
	assert.Equal(t, geo.TypeString, out.Fields[0].Type)
	assert.Empty(t, stats.TypeConversions)
}

func TestNormalizeNullTokens(t *testing.T) {
	ds := &geo.Dataset{
		Fields: []geo.Field{{Name: "note", Type: geo.TypeString}},
		Features: []geo.Feature{
			{Geometry: orb.Point{0, 0}, Values: []interface{}{"N/A"}},
			{Geometry: orb.Point{1, 1}, Values: []interface{}{"null"}},
			{Geometry: orb.Point{2, 2}, Values: []interface{}{"--"}},
			{Geometry: orb.Point{3, 3}, Values: []interface{}{"  ok  "}},
			{Geometry: orb.Point{4, 4}, Values: []interface{}{"bad\x00char"}},
		},
	}

	out, stats := attrnorm.Normalize(ds, "GeoJSON")
	assert.Nil(t, out.Features[0].Values[0])
	assert.Nil(t, out.Features[1].Values[0])
	assert.Nil(t, out.Features[2].Values[0])
	assert.Equal(t, "ok", out.Features[3].Values[0])
	assert.Equal(t, "badchar", out.Features[4].Values[0])
	assert.Equal(t, 3, stats.NullValuesStandardized)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	ds := &geo.Dataset{
		Fields: []geo.Field{{Name: "Name", Type: geo.TypeString}},
		Features: []geo.Feature{
			{Geometry: orb.Point{0, 0}, Values: []interface{}{"x"}},
		},
	}

	_, _ = attrnorm.Normalize(ds, "GeoJSON")
	assert.Equal(t, "Name", ds.Fields[0].Name)
}
