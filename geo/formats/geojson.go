// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package formats

import (
	"os"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/geo"
)

// readGeoJSON loads a GeoJSON feature collection. GeoJSON coordinates
// are WGS84 by specification, so the dataset EPSG is set to 4326.
func readGeoJSON(path string) (*geo.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errs.Wrap(err)
	}

	ds := &geo.Dataset{EPSG: 4326}

	// collect the schema in order of first appearance; property maps
	// iterate in random order, so keys are sorted per feature
	index := map[string]int{}
	for _, feature := range fc.Features {
		for _, key := range sortedKeys(feature.Properties) {
			if _, known := index[key]; known {
				continue
			}
			index[key] = len(ds.Fields)
			ds.Fields = append(ds.Fields, geo.Field{Name: key, Type: fieldTypeOf(feature.Properties[key])})
		}
	}

	for _, feature := range fc.Features {
		values := make([]interface{}, len(ds.Fields))
		for key, raw := range feature.Properties {
			col, known := index[key]
			if !known {
				continue
			}
			values[col] = propertyValue(raw, ds.Fields[col].Type)
		}
		ds.Features = append(ds.Features, geo.Feature{
			Geometry: feature.Geometry,
			Values:   values,
		})
	}
	return ds, nil
}

func sortedKeys(props geojson.Properties) []string {
	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func fieldTypeOf(v interface{}) geo.FieldType {
	switch v.(type) {
	case float64, int, int64:
		return geo.TypeReal
	default:
		return geo.TypeString
	}
}

func propertyValue(raw interface{}, t geo.FieldType) interface{} {
	switch raw := raw.(type) {
	case nil:
		return nil
	case float64:
		if t == geo.TypeString {
			return formatValue(raw)
		}
		return raw
	case int:
		return float64(raw)
	case int64:
		return float64(raw)
	case bool:
		if raw {
			return "true"
		}
		return "false"
	case string:
		return raw
	default:
		return nil
	}
}

func writeGeoJSON(ds *geo.Dataset, path string) error {
	fc := geojson.NewFeatureCollection()
	for _, feature := range ds.Features {
		out := geojson.NewFeature(feature.Geometry)
		for i, field := range ds.Fields {
			v := feature.Value(i)
			if t, ok := v.(time.Time); ok {
				v = t.Format(timestampLayout)
			}
			out.Properties[field.Name] = v
		}
		fc.Append(out)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(os.WriteFile(path, data, 0o644))
}
