// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package geomclean removes and repairs broken geometries ahead of
// format conversion.
package geomclean

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"geoconvert.io/geoconvert/geo"
)

const maxErrorSamples = 10

// ErrorDetail is one recorded validity failure.
type ErrorDetail struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Stats reports what the cleaner did. The counters satisfy
// NullGeometry + Unfixable + DuplicatesRemoved + TotalOutput == TotalInput.
type Stats struct {
	TotalInput        int           `json:"total_input"`
	NullGeometry      int           `json:"null_geometry"`
	InvalidBefore     int           `json:"invalid_before"`
	Fixed             int           `json:"fixed"`
	Unfixable         int           `json:"unfixable"`
	EmptyAfterFix     int           `json:"empty_after_fix"`
	DuplicatesRemoved int           `json:"duplicates_removed"`
	TotalOutput       int           `json:"total_output"`
	ErrorDetails      []ErrorDetail `json:"error_details"`
}

// Clean runs the five cleaning phases over the dataset:
// null-geometry removal, validity scan, make-valid repair, removal of
// geometries emptied by repair, and byte-equal geometry deduplication.
func Clean(ds *geo.Dataset) (*geo.Dataset, Stats) {
	stats := Stats{TotalInput: len(ds.Features)}

	out := &geo.Dataset{
		Fields: append([]geo.Field(nil), ds.Fields...),
		EPSG:   ds.EPSG,
	}

	// phase 1: drop null and empty geometries
	kept := make([]geo.Feature, 0, len(ds.Features))
	indices := make([]int, 0, len(ds.Features))
	for i, feature := range ds.Features {
		if feature.Geometry == nil || isEmpty(feature.Geometry) {
			stats.NullGeometry++
			continue
		}
		kept = append(kept, feature)
		indices = append(indices, i)
	}

	// phase 2: validity scan
	invalid := make([]bool, len(kept))
	for i, feature := range kept {
		if err := Validate(feature.Geometry); err != nil {
			invalid[i] = true
			stats.InvalidBefore++
			if len(stats.ErrorDetails) < maxErrorSamples {
				stats.ErrorDetails = append(stats.ErrorDetails, ErrorDetail{
					Index:  indices[i],
					Reason: err.Error(),
				})
			}
		}
	}

	// phases 3 and 4: repair, then drop what repair emptied
	repaired := kept[:0]
	for i, feature := range kept {
		if invalid[i] {
			feature.Geometry = MakeValid(feature.Geometry)
		}
		if feature.Geometry == nil || isEmpty(feature.Geometry) {
			stats.EmptyAfterFix++
			continue
		}
		repaired = append(repaired, feature)
	}
	stats.Unfixable = stats.EmptyAfterFix
	stats.Fixed = stats.InvalidBefore - stats.Unfixable

	// phase 5: deduplicate on geometry bytes, first wins
	seen := make(map[string]struct{}, len(repaired))
	for _, feature := range repaired {
		data, err := wkb.Marshal(feature.Geometry)
		if err == nil {
			if _, dup := seen[string(data)]; dup {
				stats.DuplicatesRemoved++
				continue
			}
			seen[string(data)] = struct{}{}
		}
		out.Features = append(out.Features, feature)
	}

	stats.TotalOutput = len(out.Features)
	return out, stats
}

// isEmpty reports whether the geometry carries no coordinates at all.
func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) == 0
	case orb.MultiLineString:
		return len(g) == 0
	case orb.Ring:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0
	case orb.MultiPolygon:
		return len(g) == 0
	case orb.Collection:
		return len(g) == 0
	default:
		return false
	}
}

// DominantType returns the most frequent geometry type in the dataset,
// or "Unknown" when it has no geometries.
func DominantType(ds *geo.Dataset) string {
	counts := make(map[string]int)
	order := make([]string, 0, 8)
	for _, feature := range ds.Features {
		if feature.Geometry == nil {
			continue
		}
		t := feature.Geometry.GeoJSONType()
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}

	best, bestCount := "Unknown", 0
	for _, t := range order {
		if counts[t] > bestCount {
			best, bestCount = t, counts[t]
		}
	}
	return best
}
