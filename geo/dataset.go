// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package geo defines the in-memory vector dataset that the conversion
// pipeline operates on.
package geo

import (
	"time"

	"github.com/paulmach/orb"
)

// FieldType is the attribute column type.
type FieldType string

// Attribute column types. Values in feature rows are nil, string,
// float64 or time.Time, matching the column type.
const (
	TypeString    FieldType = "string"
	TypeReal      FieldType = "real"
	TypeTimestamp FieldType = "timestamp"
)

// Field is a single attribute column.
type Field struct {
	Name string
	Type FieldType
}

// Feature is one row: a geometry plus attribute values aligned with the
// dataset schema. Geometry may be nil.
type Feature struct {
	Geometry orb.Geometry
	Values   []interface{}
}

// Dataset is an in-memory vector layer.
// EPSG is the coordinate reference system, 0 when unknown.
type Dataset struct {
	Fields   []Field
	Features []Feature
	EPSG     int
}

// FieldIndex returns the index of the named field, or -1.
func (ds *Dataset) FieldIndex(name string) int {
	for i, field := range ds.Fields {
		if field.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the dataset. Geometries are shared,
// which is safe because the pipeline never mutates a geometry in place.
func (ds *Dataset) Clone() *Dataset {
	clone := &Dataset{
		Fields:   append([]Field(nil), ds.Fields...),
		Features: make([]Feature, len(ds.Features)),
		EPSG:     ds.EPSG,
	}
	for i, feature := range ds.Features {
		clone.Features[i] = Feature{
			Geometry: feature.Geometry,
			Values:   append([]interface{}(nil), feature.Values...),
		}
	}
	return clone
}

// Bound returns the bounding box over all non-nil geometries.
// ok is false when the dataset has no geometry.
func (ds *Dataset) Bound() (bound orb.Bound, ok bool) {
	for _, feature := range ds.Features {
		if feature.Geometry == nil {
			continue
		}
		b := feature.Geometry.Bound()
		if !ok {
			bound, ok = b, true
			continue
		}
		bound = bound.Union(b)
	}
	return bound, ok
}

// Value reads the attribute value of a feature by field index,
// returning nil for out-of-range rows.
func (f Feature) Value(index int) interface{} {
	if index < 0 || index >= len(f.Values) {
		return nil
	}
	return f.Values[index]
}

// IsTime reports whether v holds a timestamp value.
func IsTime(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
}
