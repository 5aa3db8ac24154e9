// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package quality_test

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/attrnorm"
	"geoconvert.io/geoconvert/geo/geomclean"
	"geoconvert.io/geoconvert/geo/quality"
)

func TestGrade(t *testing.T) {
	assert.Equal(t, "A", quality.Grade(100))
	assert.Equal(t, "A", quality.Grade(90))
	assert.Equal(t, "B", quality.Grade(89))
	assert.Equal(t, "B", quality.Grade(80))
	assert.Equal(t, "C", quality.Grade(79))
	assert.Equal(t, "C", quality.Grade(70))
	assert.Equal(t, "D", quality.Grade(69))
	assert.Equal(t, "D", quality.Grade(60))
	assert.Equal(t, "F", quality.Grade(59))
	assert.Equal(t, "F", quality.Grade(0))
}

func cleanDataset(n int) *geo.Dataset {
	ds := &geo.Dataset{
		Fields: []geo.Field{
			{Name: "name", Type: geo.TypeString},
			{Name: "value", Type: geo.TypeReal},
		},
		EPSG: 4326,
	}
	for i := 0; i < n; i++ {
		ds.Features = append(ds.Features, geo.Feature{
			Geometry: orb.Point{float64(i) * 0.01, float64(i) * 0.01},
			Values:   []interface{}{"row", float64(i)},
		})
	}
	return ds
}

func TestGeneratePerfectScore(t *testing.T) {
	ds := cleanDataset(10)
	report := quality.Generate(ds, ds, geomclean.Stats{}, attrnorm.Stats{}, 4326, 2154, 2*time.Second)

	// 25 null + 25 validity + 20 completeness + 15 CRS + 15 types
	assert.Equal(t, 100, report.QualityScore)
	assert.Equal(t, "A", report.QualityGrade)
	assert.Empty(t, report.Recommendations)
	assert.True(t, report.Projection.Reprojected)
	assert.Equal(t, 2.0, report.ProcessingTimeSeconds)
	assert.Equal(t, 100.0, report.GeometryQuality.ValidityRate)
	assert.Equal(t, 100.0, report.AttributeQuality.CompletenessRate)
	assert.Equal(t, "Point", report.Summary.GeometryType)
	require.Len(t, report.Summary.BBox, 4)
}

func TestGenerateUnknownCRS(t *testing.T) {
	ds := cleanDataset(10)
	ds.EPSG = 0
	report := quality.Generate(ds, ds, geomclean.Stats{}, attrnorm.Stats{}, 0, 4326, time.Second)

	// the CRS component drops from 15 to 5
	assert.Equal(t, 90, report.QualityScore)
	assert.Contains(t, report.Recommendations,
		"Projection non détectée. Spécifiez l'EPSG source manuellement.")
	assert.False(t, report.Projection.Reprojected)
}

func TestGenerateNullGeometryPenalty(t *testing.T) {
	ds := cleanDataset(10)
	stats := geomclean.Stats{TotalInput: 12, NullGeometry: 2, TotalOutput: 10}
	report := quality.Generate(ds, ds, stats, attrnorm.Stats{}, 4326, 4326, time.Second)

	// null rate is 2/10 = 20%: completeness drops by 5 points and the
	// recommendation fires
	assert.Equal(t, 95, report.QualityScore)
	require.NotEmpty(t, report.Recommendations)
	assert.Contains(t, report.Recommendations[0], "géométries nulles")
}

func TestGenerateAttributeCompleteness(t *testing.T) {
	ds := cleanDataset(10)
	// null out half of one column: null_rate 50% > 5%, so one of two
	// columns counts as complete
	for i := 0; i < 5; i++ {
		ds.Features[i].Values[0] = nil
	}
	report := quality.Generate(ds, ds, geomclean.Stats{}, attrnorm.Stats{}, 4326, 4326, time.Second)

	assert.Equal(t, 50.0, report.AttributeQuality.CompletenessRate)
	// 25 + 25 + 10 + 15 + 15
	assert.Equal(t, 90, report.QualityScore)
	assert.Contains(t, report.Recommendations[0], "Complétude attributaire faible")
}

func TestGenerateColumnStats(t *testing.T) {
	ds := cleanDataset(4)
	report := quality.Generate(ds, ds, geomclean.Stats{}, attrnorm.Stats{}, 4326, 4326, time.Second)

	value, ok := report.AttributeQuality.Columns["value"]
	require.True(t, ok)
	assert.Equal(t, "real", value.DType)
	require.NotNil(t, value.Min)
	require.NotNil(t, value.Max)
	require.NotNil(t, value.Mean)
	assert.Equal(t, 0.0, *value.Min)
	assert.Equal(t, 3.0, *value.Max)
	assert.Equal(t, 1.5, *value.Mean)

	name := report.AttributeQuality.Columns["name"]
	assert.Nil(t, name.Min)
	assert.Equal(t, 1, name.UniqueCount)
}

func TestGenerateEmptyDataset(t *testing.T) {
	ds := &geo.Dataset{EPSG: 4326}
	report := quality.Generate(ds, ds, geomclean.Stats{}, attrnorm.Stats{}, 4326, 4326, time.Second)

	// 25 + 0 (no features means a zero validity rate) + 20 + 15 + 15
	assert.Equal(t, 75, report.QualityScore)
	assert.Equal(t, "C", report.QualityGrade)
	assert.Zero(t, report.GeometryQuality.ValidityRate)
	assert.Contains(t, report.Recommendations,
		"Qualité géométrique : 0% valides. Vérifiez la source.")
	assert.Nil(t, report.Summary.BBox)
	assert.Equal(t, "Unknown", report.Summary.GeometryType)
}

func TestErrorSampleTruncated(t *testing.T) {
	ds := cleanDataset(10)
	stats := geomclean.Stats{}
	for i := 0; i < 8; i++ {
		stats.ErrorDetails = append(stats.ErrorDetails, geomclean.ErrorDetail{Index: i, Reason: "ring not closed"})
	}
	report := quality.Generate(ds, ds, stats, attrnorm.Stats{}, 4326, 4326, time.Second)

	assert.Len(t, report.GeometryQuality.ErrorSample, 5)
}
