// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package attrnorm canonicalizes attribute schemas: column names,
// value types and null tokens.
package attrnorm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"geoconvert.io/geoconvert/geo"
)

// ShapefileFormat is the target format name that triggers DBF
// column-name truncation.
const ShapefileFormat = "ESRI Shapefile"

const dbfNameLimit = 10

// ghostColumns are index artifacts emitted by desktop GIS tools,
// matched on the lowercased name.
var ghostColumns = map[string]bool{
	"fid": true, "objectid": true,
	"shape_area": true, "shape_length": true, "shape_leng": true,
}

// nullTokens are text values standardized to null, matched on the
// trimmed lowercase form.
var nullTokens = map[string]bool{
	"": true, "null": true, "none": true, "n/a": true, "na": true,
	"#n/a": true, "nan": true, "-": true, "--": true,
}

// Stats reports what the normalizer changed.
type Stats struct {
	ColumnsRenamed         map[string]string `json:"columns_renamed"`
	ColumnsDropped         []string          `json:"columns_dropped"`
	TypeConversions        map[string]string `json:"type_conversions"`
	NullValuesStandardized int               `json:"null_values_standardized"`
}

// Normalize runs the six normalization phases: column rename, collision
// resolution, ghost-column removal, type coercion, text cleanup and
// null-token standardization. targetFormat matters only for the DBF
// name-length limit of shapefile output.
func Normalize(ds *geo.Dataset, targetFormat string) (*geo.Dataset, Stats) {
	stats := Stats{
		ColumnsRenamed:  map[string]string{},
		TypeConversions: map[string]string{},
	}

	out := ds.Clone()
	shapefile := targetFormat == ShapefileFormat

	// phases 1 and 2: rename, then disambiguate collisions in order of
	// first appearance; for shapefile the collision suffix replaces the
	// tail of the truncated name so the 10-character limit holds
	seen := map[string]int{}
	taken := map[string]bool{}
	for i := range out.Fields {
		original := out.Fields[i].Name
		name := CleanName(original, shapefile)

		if count, dup := seen[name]; dup {
			for {
				count++
				seen[name] = count
				suffix := fmt.Sprintf("_%d", count)
				candidate := name + suffix
				if shapefile && len(candidate) > dbfNameLimit {
					candidate = name[:dbfNameLimit-len(suffix)] + suffix
				}
				if !taken[candidate] {
					name = candidate
					break
				}
			}
		} else {
			seen[name] = 0
		}
		taken[name] = true

		if name != original {
			stats.ColumnsRenamed[original] = name
		}
		out.Fields[i].Name = name
	}

	// phase 3: drop ghost columns
	var keptFields []geo.Field
	var keptIdx []int
	for i, field := range out.Fields {
		if ghostColumns[strings.ToLower(field.Name)] {
			stats.ColumnsDropped = append(stats.ColumnsDropped, field.Name)
			continue
		}
		keptFields = append(keptFields, field)
		keptIdx = append(keptIdx, i)
	}
	if len(stats.ColumnsDropped) > 0 {
		for fi := range out.Features {
			values := make([]interface{}, len(keptIdx))
			for vi, idx := range keptIdx {
				values[vi] = out.Features[fi].Value(idx)
			}
			out.Features[fi].Values = values
		}
		out.Fields = keptFields
	}

	// phase 4: coerce column types
	for i := range out.Fields {
		if out.Fields[i].Type != geo.TypeString {
			continue
		}
		if coerceNumeric(out, i) {
			stats.TypeConversions[out.Fields[i].Name] = "numeric"
			continue
		}
		if coerceTimestamp(out, i) {
			stats.TypeConversions[out.Fields[i].Name] = "datetime"
		}
	}

	// phases 5 and 6: clean text values and standardize null tokens
	for i := range out.Fields {
		if out.Fields[i].Type != geo.TypeString {
			continue
		}
		for fi := range out.Features {
			raw, ok := out.Features[fi].Values[i].(string)
			if !ok {
				continue
			}
			cleaned := cleanText(raw)
			if cleaned == nil {
				out.Features[fi].Values[i] = nil
				continue
			}
			if nullTokens[strings.ToLower(strings.TrimSpace(*cleaned))] {
				out.Features[fi].Values[i] = nil
				stats.NullValuesStandardized++
				continue
			}
			out.Features[fi].Values[i] = *cleaned
		}
	}

	return out, stats
}

// CleanName canonicalizes a single column name: ASCII transliteration,
// snake_case, digit prefix guard and, for shapefile targets, the DBF
// 10-character truncation.
func CleanName(name string, shapefile bool) string {
	decomposed := norm.NFKD.String(name)
	var ascii strings.Builder
	for _, r := range decomposed {
		if r < 128 {
			ascii.WriteRune(r)
		}
	}

	cleaned := strings.ToLower(strings.TrimSpace(ascii.String()))
	cleaned = nonAlnumRe.ReplaceAllString(cleaned, "_")
	cleaned = underscoreRunRe.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")

	if cleaned != "" && cleaned[0] >= '0' && cleaned[0] <= '9' {
		cleaned = "col_" + cleaned
	}
	if shapefile && len(cleaned) > dbfNameLimit {
		cleaned = cleaned[:dbfNameLimit]
		cleaned = strings.TrimRight(cleaned, "_")
	}
	if cleaned == "" {
		cleaned = "col"
	}
	return cleaned
}

var (
	nonAlnumRe      = regexp.MustCompile(`[^a-z0-9_]`)
	underscoreRunRe = regexp.MustCompile(`_+`)
	timestampRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([ T]\d{2}:\d{2}:\d{2})?$`)
)

func coerceNumeric(ds *geo.Dataset, col int) bool {
	parsed := make(map[int]float64)
	for fi := range ds.Features {
		v := ds.Features[fi].Values[col]
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return false
		}
		parsed[fi] = f
	}
	if len(parsed) == 0 {
		return false
	}
	for fi, f := range parsed {
		ds.Features[fi].Values[col] = f
	}
	ds.Fields[col].Type = geo.TypeReal
	return true
}

var timestampLayouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

func coerceTimestamp(ds *geo.Dataset, col int) bool {
	parsed := make(map[int]time.Time)
	for fi := range ds.Features {
		v := ds.Features[fi].Values[col]
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		s = strings.TrimSpace(s)
		if !timestampRe.MatchString(s) {
			return false
		}
		var t time.Time
		var err error
		for _, layout := range timestampLayouts {
			t, err = time.Parse(layout, s)
			if err == nil {
				break
			}
		}
		if err != nil {
			return false
		}
		parsed[fi] = t
	}
	if len(parsed) == 0 {
		return false
	}
	for fi, t := range parsed {
		ds.Features[fi].Values[col] = t
	}
	ds.Fields[col].Type = geo.TypeTimestamp
	return true
}

// cleanText trims whitespace and strips control characters, turning
// empty results into nil.
func cleanText(s string) *string {
	trimmed := strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range trimmed {
		if unicode.In(r, unicode.C) {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" {
		return nil
	}
	return &out
}
