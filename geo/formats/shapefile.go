// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package formats

import (
	"os"
	"strconv"
	"strings"
	"time"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/zeebo/errs"
	"golang.org/x/text/encoding/charmap"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/proj"
)

const dbfDateLayout = "20060102"

// readShapefile loads a .shp and its DBF attribute table. The .prj
// sidecar is handled by projection detection, not here.
func readShapefile(path, encoding string) (_ *geo.Dataset, err error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, reader.Close()) }()

	latin1 := strings.EqualFold(encoding, "latin-1")
	decode := func(s string) string {
		s = strings.TrimRight(strings.TrimRight(s, "\x00"), " ")
		if !latin1 {
			return s
		}
		decoded, err := charmap.ISO8859_1.NewDecoder().String(s)
		if err != nil {
			return s
		}
		return decoded
	}

	ds := &geo.Dataset{}
	dbfFields := reader.Fields()
	for _, field := range dbfFields {
		ds.Fields = append(ds.Fields, geo.Field{
			Name: field.String(),
			Type: dbfFieldType(field.Fieldtype),
		})
	}

	row := 0
	for reader.Next() {
		_, shape := reader.Shape()

		values := make([]interface{}, len(ds.Fields))
		for col := range dbfFields {
			values[col] = dbfValue(decode(reader.ReadAttribute(row, col)), ds.Fields[col].Type)
		}

		ds.Features = append(ds.Features, geo.Feature{
			Geometry: shapeToGeometry(shape),
			Values:   values,
		})
		row++
	}
	return ds, errs.Wrap(reader.Err())
}

func dbfFieldType(code byte) geo.FieldType {
	switch code {
	case 'N', 'F':
		return geo.TypeReal
	case 'D':
		return geo.TypeTimestamp
	default:
		return geo.TypeString
	}
}

func dbfValue(raw string, t geo.FieldType) interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	switch t {
	case geo.TypeReal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		return f
	case geo.TypeTimestamp:
		ts, err := time.Parse(dbfDateLayout, raw)
		if err != nil {
			return nil
		}
		return ts
	default:
		return raw
	}
}

func shapeToGeometry(shape shp.Shape) orb.Geometry {
	switch shape := shape.(type) {
	case *shp.Point:
		return orb.Point{shape.X, shape.Y}
	case *shp.PointZ:
		return orb.Point{shape.X, shape.Y}
	case *shp.MultiPoint:
		out := make(orb.MultiPoint, 0, len(shape.Points))
		for _, p := range shape.Points {
			out = append(out, orb.Point{p.X, p.Y})
		}
		return out
	case *shp.PolyLine:
		return polylineToGeometry(shape.Parts, shape.Points)
	case *shp.PolyLineZ:
		return polylineToGeometry(shape.Parts, shape.Points)
	case *shp.Polygon:
		return ringsToGeometry(shape.Parts, shape.Points)
	case *shp.PolygonZ:
		return ringsToGeometry(shape.Parts, shape.Points)
	default:
		return nil
	}
}

func partPoints(parts []int32, points []shp.Point, i int) []orb.Point {
	start := int(parts[i])
	end := len(points)
	if i+1 < len(parts) {
		end = int(parts[i+1])
	}
	out := make([]orb.Point, 0, end-start)
	for _, p := range points[start:end] {
		out = append(out, orb.Point{p.X, p.Y})
	}
	return out
}

func polylineToGeometry(parts []int32, points []shp.Point) orb.Geometry {
	if len(parts) == 0 {
		return nil
	}
	if len(parts) == 1 {
		return orb.LineString(partPoints(parts, points, 0))
	}
	out := make(orb.MultiLineString, 0, len(parts))
	for i := range parts {
		out = append(out, orb.LineString(partPoints(parts, points, i)))
	}
	return out
}

// ringsToGeometry rebuilds polygons from shapefile rings: exterior
// rings wind clockwise, holes counter-clockwise and belong to the
// preceding exterior.
func ringsToGeometry(parts []int32, points []shp.Point) orb.Geometry {
	var polygons []orb.Polygon
	for i := range parts {
		ring := orb.Ring(partPoints(parts, points, i))
		if len(ring) < 4 {
			continue
		}
		if signedArea(ring) < 0 || len(polygons) == 0 {
			polygons = append(polygons, orb.Polygon{ring})
		} else {
			last := len(polygons) - 1
			polygons[last] = append(polygons[last], ring)
		}
	}
	switch len(polygons) {
	case 0:
		return nil
	case 1:
		return polygons[0]
	default:
		return orb.MultiPolygon(polygons)
	}
}

func signedArea(ring orb.Ring) float64 {
	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		sum += ring[i][0]*ring[i+1][1] - ring[i+1][0]*ring[i][1]
	}
	return sum / 2
}

// writeShapefile writes the .shp, .dbf, .prj and .cpg files. The
// final artifact ZIP is assembled by Package.
func writeShapefile(ds *geo.Dataset, path, encoding string) (err error) {
	shapeType := shapeTypeFor(ds)

	writer, err := shp.Create(path, shapeType)
	if err != nil {
		return errs.Wrap(err)
	}
	// go-shp's Close returns nothing; flush errors surface on Write
	defer writer.Close()

	fields := make([]shp.Field, 0, len(ds.Fields))
	for _, field := range ds.Fields {
		switch field.Type {
		case geo.TypeReal:
			fields = append(fields, shp.FloatField(field.Name, 24, 8))
		case geo.TypeTimestamp:
			fields = append(fields, shp.DateField(field.Name))
		default:
			fields = append(fields, shp.StringField(field.Name, 254))
		}
	}
	writer.SetFields(fields)

	latin1 := strings.EqualFold(encoding, "latin-1")
	encode := func(s string) string {
		if !latin1 {
			return s
		}
		encoded, err := charmap.ISO8859_1.NewEncoder().String(s)
		if err != nil {
			return s
		}
		return encoded
	}

	for row, feature := range ds.Features {
		shape := geometryToShape(feature.Geometry, shapeType)
		if shape == nil {
			shape = &shp.Null{}
		}
		writer.Write(shape)

		for col, field := range ds.Fields {
			v := feature.Value(col)
			if v == nil {
				continue
			}
			var attr interface{}
			switch field.Type {
			case geo.TypeReal:
				attr = v
			case geo.TypeTimestamp:
				ts, ok := v.(time.Time)
				if !ok {
					continue
				}
				attr = ts.Format(dbfDateLayout)
			default:
				attr = encode(formatValue(v))
			}
			if err := writer.WriteAttribute(row, col, attr); err != nil {
				return errs.Wrap(err)
			}
		}
	}

	if err := writeSidecars(ds, path, encoding); err != nil {
		return err
	}
	return nil
}

func writeSidecars(ds *geo.Dataset, path, encoding string) error {
	base := strings.TrimSuffix(path, ".shp")

	if wkt, ok := proj.WKT(ds.EPSG); ok {
		if err := os.WriteFile(base+".prj", []byte(wkt), 0o644); err != nil {
			return errs.Wrap(err)
		}
	}

	codepage := "UTF-8"
	if strings.EqualFold(encoding, "latin-1") {
		codepage = "ISO-8859-1"
	}
	return errs.Wrap(os.WriteFile(base+".cpg", []byte(codepage), 0o644))
}

func shapeTypeFor(ds *geo.Dataset) shp.ShapeType {
	for _, feature := range ds.Features {
		switch feature.Geometry.(type) {
		case orb.Point:
			return shp.POINT
		case orb.MultiPoint:
			return shp.MULTIPOINT
		case orb.LineString, orb.MultiLineString:
			return shp.POLYLINE
		case orb.Polygon, orb.MultiPolygon:
			return shp.POLYGON
		}
	}
	return shp.POINT
}

func geometryToShape(g orb.Geometry, shapeType shp.ShapeType) shp.Shape {
	switch g := g.(type) {
	case orb.Point:
		if shapeType != shp.POINT {
			return nil
		}
		return &shp.Point{X: g[0], Y: g[1]}
	case orb.MultiPoint:
		if shapeType != shp.MULTIPOINT {
			return nil
		}
		points := make([][]shp.Point, 1)
		for _, p := range g {
			points[0] = append(points[0], shp.Point{X: p[0], Y: p[1]})
		}
		line := shp.NewPolyLine(points)
		return &shp.MultiPoint{Box: line.Box, NumPoints: line.NumPoints, Points: line.Points}
	case orb.LineString:
		if shapeType != shp.POLYLINE {
			return nil
		}
		return shp.NewPolyLine([][]shp.Point{toShpPoints(g)})
	case orb.MultiLineString:
		if shapeType != shp.POLYLINE {
			return nil
		}
		parts := make([][]shp.Point, 0, len(g))
		for _, ls := range g {
			parts = append(parts, toShpPoints(ls))
		}
		return shp.NewPolyLine(parts)
	case orb.Polygon:
		if shapeType != shp.POLYGON {
			return nil
		}
		return polygonShape([]orb.Polygon{g})
	case orb.MultiPolygon:
		if shapeType != shp.POLYGON {
			return nil
		}
		return polygonShape(g)
	default:
		return nil
	}
}

// polygonShape emits rings with the shapefile winding convention:
// clockwise exteriors, counter-clockwise holes.
func polygonShape(polygons []orb.Polygon) shp.Shape {
	var parts [][]shp.Point
	for _, polygon := range polygons {
		for i, ring := range polygon {
			wantClockwise := i == 0
			if (signedArea(ring) < 0) != wantClockwise {
				ring = reverseRing(ring)
			}
			parts = append(parts, toShpPoints(ring))
		}
	}
	if len(parts) == 0 {
		return nil
	}
	line := shp.NewPolyLine(parts)
	polygon := shp.Polygon(*line)
	return &polygon
}

func reverseRing(ring orb.Ring) orb.Ring {
	out := make(orb.Ring, len(ring))
	for i, p := range ring {
		out[len(ring)-1-i] = p
	}
	return out
}

func toShpPoints(points []orb.Point) []shp.Point {
	out := make([]shp.Point, 0, len(points))
	for _, p := range points {
		out = append(out, shp.Point{X: p[0], Y: p[1]})
	}
	return out
}
