// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package quality builds the structured quality report attached to
// every successful conversion.
package quality

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/attrnorm"
	"geoconvert.io/geoconvert/geo/geomclean"
	"geoconvert.io/geoconvert/geo/proj"
)

const maxErrorSample = 5

// Report is the quality document stored on the job row. Field layout
// is part of the public API consumed by clients.
type Report struct {
	GeneratedAt           string               `json:"generated_at"`
	ProcessingTimeSeconds float64              `json:"processing_time_seconds"`
	Summary               Summary              `json:"summary"`
	GeometryQuality       GeometryQuality      `json:"geometry_quality"`
	AttributeQuality      AttributeQuality     `json:"attribute_quality"`
	Projection            Projection           `json:"projection"`
	DataDistribution      Distribution         `json:"data_distribution"`
	QualityScore          int                  `json:"quality_score"`
	QualityGrade          string               `json:"quality_grade"`
	Recommendations       []string             `json:"recommendations"`
}

// Summary compares input and output datasets.
type Summary struct {
	FeaturesInput  int       `json:"features_input"`
	FeaturesOutput int       `json:"features_output"`
	FeaturesLost   int       `json:"features_lost"`
	ColumnsInput   int       `json:"columns_input"`
	ColumnsOutput  int       `json:"columns_output"`
	GeometryType   string    `json:"geometry_type"`
	BBox           []float64 `json:"bbox"`
}

// GeometryQuality summarizes validity of the output geometries.
type GeometryQuality struct {
	Total              int                     `json:"total"`
	ValidCount         int                     `json:"valid_count"`
	InvalidCount       int                     `json:"invalid_count"`
	ValidityRate       float64                 `json:"validity_rate"`
	NullGeometryCount  int                     `json:"null_geometry_count"`
	EmptyGeometryCount int                     `json:"empty_geometry_count"`
	DuplicatesRemoved  int                     `json:"duplicates_removed"`
	ErrorsFound        int                     `json:"errors_found"`
	ErrorsFixed        int                     `json:"errors_fixed"`
	Unfixable          int                     `json:"unfixable"`
	ErrorSample        []geomclean.ErrorDetail `json:"error_sample"`
}

// ColumnStats describes one attribute column of the output.
type ColumnStats struct {
	DType       string   `json:"dtype"`
	NullCount   int      `json:"null_count"`
	NullRate    float64  `json:"null_rate"`
	UniqueCount int      `json:"unique_count"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Mean        *float64 `json:"mean,omitempty"`
}

// AttributeQuality summarizes the attribute table after normalization.
type AttributeQuality struct {
	Columns                map[string]ColumnStats `json:"columns"`
	TotalColumns           int                    `json:"total_columns"`
	CompletenessRate       float64                `json:"completeness_rate"`
	ColumnsRenamed         map[string]string      `json:"columns_renamed"`
	ColumnsDropped         []string               `json:"columns_dropped"`
	TypeConversions        map[string]string      `json:"type_conversions"`
	NullValuesStandardized int                    `json:"null_values_standardized"`
}

// Projection records the CRS handling of the run.
type Projection struct {
	SourceEPSG  int  `json:"source_epsg"`
	TargetEPSG  int  `json:"target_epsg"`
	Reprojected bool `json:"reprojected"`
}

// Distribution sketches the spatial spread of the output.
type Distribution struct {
	BBox           []float64 `json:"bbox"`
	AreaKm2        *float64  `json:"area_km2"`
	FeatureDensity *float64  `json:"feature_density"`
}

// Generate builds the report for a finished conversion. before is the
// dataset as read, after the dataset as written.
func Generate(before, after *geo.Dataset, geomStats geomclean.Stats, attrStats attrnorm.Stats, sourceEPSG, targetEPSG int, duration time.Duration) *Report {
	report := &Report{
		GeneratedAt:           time.Now().UTC().Format(time.RFC3339),
		ProcessingTimeSeconds: math.Round(duration.Seconds()*100) / 100,
		Summary:               buildSummary(before, after),
		GeometryQuality:       buildGeometrySection(after, geomStats),
		AttributeQuality:      buildAttributeSection(after, attrStats),
		Projection: Projection{
			SourceEPSG:  sourceEPSG,
			TargetEPSG:  targetEPSG,
			Reprojected: sourceEPSG != 0 && targetEPSG != 0 && sourceEPSG != targetEPSG,
		},
		DataDistribution: buildDistribution(after),
		Recommendations:  []string{},
	}

	report.QualityScore, report.Recommendations = computeScore(report)
	report.QualityGrade = Grade(report.QualityScore)
	return report
}

// Grade maps a 0-100 score to the letter grades A through F.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func buildSummary(before, after *geo.Dataset) Summary {
	return Summary{
		FeaturesInput:  len(before.Features),
		FeaturesOutput: len(after.Features),
		FeaturesLost:   len(before.Features) - len(after.Features),
		ColumnsInput:   len(before.Fields),
		ColumnsOutput:  len(after.Fields),
		GeometryType:   geomclean.DominantType(after),
		BBox:           bbox(after),
	}
}

func buildGeometrySection(ds *geo.Dataset, stats geomclean.Stats) GeometryQuality {
	total := len(ds.Features)
	valid := 0
	for _, feature := range ds.Features {
		if feature.Geometry != nil && geomclean.Validate(feature.Geometry) == nil {
			valid++
		}
	}

	section := GeometryQuality{
		Total:              total,
		ValidCount:         valid,
		InvalidCount:       total - valid,
		NullGeometryCount:  stats.NullGeometry,
		EmptyGeometryCount: stats.EmptyAfterFix,
		DuplicatesRemoved:  stats.DuplicatesRemoved,
		ErrorsFound:        stats.InvalidBefore,
		ErrorsFixed:        stats.Fixed,
		Unfixable:          stats.Unfixable,
		ErrorSample:        []geomclean.ErrorDetail{},
	}
	if total > 0 {
		section.ValidityRate = math.Round(float64(valid)/float64(total)*1000) / 10
	}
	if len(stats.ErrorDetails) > 0 {
		sample := stats.ErrorDetails
		if len(sample) > maxErrorSample {
			sample = sample[:maxErrorSample]
		}
		section.ErrorSample = sample
	}
	return section
}

func buildAttributeSection(ds *geo.Dataset, stats attrnorm.Stats) AttributeQuality {
	section := AttributeQuality{
		Columns:                map[string]ColumnStats{},
		TotalColumns:           len(ds.Fields),
		CompletenessRate:       100,
		ColumnsRenamed:         stats.ColumnsRenamed,
		ColumnsDropped:         stats.ColumnsDropped,
		TypeConversions:        stats.TypeConversions,
		NullValuesStandardized: stats.NullValuesStandardized,
	}
	if section.ColumnsRenamed == nil {
		section.ColumnsRenamed = map[string]string{}
	}
	if section.TypeConversions == nil {
		section.TypeConversions = map[string]string{}
	}
	if len(ds.Fields) == 0 {
		return section
	}

	total := len(ds.Features)
	complete := 0
	for i, field := range ds.Fields {
		cs := columnStats(ds, i, field, total)
		section.Columns[field.Name] = cs
		if cs.NullRate < 5 {
			complete++
		}
	}
	section.CompletenessRate = math.Round(float64(complete)/float64(len(ds.Fields))*1000) / 10
	return section
}

func columnStats(ds *geo.Dataset, col int, field geo.Field, total int) ColumnStats {
	nulls := 0
	unique := map[interface{}]struct{}{}
	var sum float64
	var minV, maxV float64
	numeric := 0
	for _, feature := range ds.Features {
		v := feature.Value(col)
		if v == nil {
			nulls++
			continue
		}
		unique[v] = struct{}{}
		if f, ok := v.(float64); ok {
			if numeric == 0 || f < minV {
				minV = f
			}
			if numeric == 0 || f > maxV {
				maxV = f
			}
			sum += f
			numeric++
		}
	}

	cs := ColumnStats{
		DType:       string(field.Type),
		NullCount:   nulls,
		UniqueCount: len(unique),
	}
	if total > 0 {
		cs.NullRate = math.Round(float64(nulls)/float64(total)*1000) / 10
	}
	if field.Type == geo.TypeReal && numeric > 0 {
		mean := math.Round(sum/float64(numeric)*10000) / 10000
		cs.Min, cs.Max, cs.Mean = &minV, &maxV, &mean
	}
	return cs
}

func buildDistribution(ds *geo.Dataset) Distribution {
	box := bbox(ds)
	dist := Distribution{BBox: box}
	if box == nil {
		return dist
	}

	if area, ok := areaKm2(ds); ok {
		dist.AreaKm2 = &area
	}
	boxArea := (box[2] - box[0]) * (box[3] - box[1])
	density := math.Round(float64(len(ds.Features))/math.Max(boxArea, 0.001)*10000) / 10000
	dist.FeatureDensity = &density
	return dist
}

// areaKm2 estimates the footprint by reprojecting to Web Mercator and
// summing planar areas.
func areaKm2(ds *geo.Dataset) (float64, bool) {
	if ds.EPSG == 0 || !proj.Supported(ds.EPSG) {
		return 0, false
	}
	transform, err := proj.Transform(ds.EPSG, 3857)
	if err != nil {
		return 0, false
	}

	var total float64
	for _, feature := range ds.Features {
		if feature.Geometry == nil {
			continue
		}
		g := project.Geometry(orb.Clone(feature.Geometry), transform)
		total += math.Abs(planar.Area(g))
	}
	return math.Round(total/1e6*100) / 100, true
}

func bbox(ds *geo.Dataset) []float64 {
	bound, ok := ds.Bound()
	if !ok {
		return nil
	}
	round := func(v float64) float64 { return math.Round(v*1e6) / 1e6 }
	return []float64{round(bound.Min[0]), round(bound.Min[1]), round(bound.Max[0]), round(bound.Max[1])}
}

func computeScore(report *Report) (int, []string) {
	score := 0
	recs := []string{}

	geom := report.GeometryQuality
	nullRate := float64(geom.NullGeometryCount) / math.Max(float64(geom.Total), 1) * 100
	score += maxInt(0, 25-int(nullRate/4))
	if nullRate > 5 {
		recs = append(recs, fmt.Sprintf("Attention : %.1f%% de géométries nulles détectées.", nullRate))
	}

	// an empty output carries a zero validity rate
	validity := report.GeometryQuality.ValidityRate
	score += int(validity / 4)
	if validity < 95 {
		recs = append(recs, fmt.Sprintf("Qualité géométrique : %g%% valides. Vérifiez la source.", validity))
	}

	completeness := report.AttributeQuality.CompletenessRate
	score += int(completeness / 5)
	if completeness < 80 {
		recs = append(recs, fmt.Sprintf("Complétude attributaire faible : %g%%. Données manquantes.", completeness))
	}

	if report.Projection.SourceEPSG != 0 {
		score += 15
	} else {
		score += 5
		recs = append(recs, "Projection non détectée. Spécifiez l'EPSG source manuellement.")
	}

	typeScore := 15
	for _, cs := range report.AttributeQuality.Columns {
		if cs.DType == string(geo.TypeString) && cs.UniqueCount > 50 {
			typeScore -= 2
		}
	}
	score += maxInt(0, typeScore)

	return minInt(100, maxInt(0, score)), recs
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
