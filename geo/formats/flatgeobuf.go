// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package formats

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/formats/fgbwire"
	"geoconvert.io/geoconvert/geo/proj"
)

// readFlatGeobuf loads a FlatGeobuf file. A spatial index, if present,
// is skipped; features are read sequentially.
func readFlatGeobuf(path string) (*geo.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if len(data) < len(fgbwire.Magic)+4 || !bytes.Equal(data[:len(fgbwire.Magic)], fgbwire.Magic[:]) {
		return nil, errs.New("not a flatgeobuf file")
	}

	pos := len(fgbwire.Magic)
	headerLen := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if pos+headerLen > len(data) {
		return nil, errs.New("truncated flatgeobuf header")
	}
	header := fgbwire.GetRootAsHeader(data[pos:pos+headerLen], 0)
	pos += headerLen

	ds := &geo.Dataset{}
	if crs := header.Crs(nil); crs != nil {
		code := int(crs.Code())
		if proj.Supported(code) {
			ds.EPSG = code
		} else if epsg := proj.EPSGFromWKT(string(crs.Wkt())); epsg != 0 {
			ds.EPSG = epsg
		}
	}

	columnTypes := make([]byte, header.ColumnsLength())
	for i := 0; i < header.ColumnsLength(); i++ {
		var column fgbwire.Column
		if !header.Columns(&column, i) {
			return nil, errs.New("malformed column table")
		}
		columnTypes[i] = column.Type()
		ds.Fields = append(ds.Fields, geo.Field{
			Name: string(column.Name()),
			Type: fieldTypeForColumn(column.Type()),
		})
	}

	if nodeSize := header.IndexNodeSize(); nodeSize > 0 {
		count := int(header.FeaturesCount())
		if count == 0 {
			return nil, errs.New("flatgeobuf index without feature count")
		}
		pos += packedRTreeSize(count, int(nodeSize))
	}

	headerType := header.GeometryType()
	for pos+4 <= len(data) {
		featureLen := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if featureLen == 0 || pos+featureLen > len(data) {
			return nil, errs.New("truncated flatgeobuf feature")
		}
		featureTable := fgbwire.GetRootAsFeature(data[pos:pos+featureLen], 0)
		pos += featureLen

		feature := geo.Feature{Values: make([]interface{}, len(ds.Fields))}
		if g := featureTable.Geometry(nil); g != nil {
			feature.Geometry = decodeFgbGeometry(g, headerType)
		}
		if err := decodeFgbProperties(featureTable.PropertiesBytes(), columnTypes, &feature); err != nil {
			return nil, err
		}
		ds.Features = append(ds.Features, feature)
	}
	return ds, nil
}

func fieldTypeForColumn(columnType byte) geo.FieldType {
	switch columnType {
	case fgbwire.ColumnTypeString, fgbwire.ColumnTypeJson, fgbwire.ColumnTypeBinary:
		return geo.TypeString
	case fgbwire.ColumnTypeDateTime:
		return geo.TypeTimestamp
	default:
		return geo.TypeReal
	}
}

// packedRTreeSize returns the byte size of a packed Hilbert R-tree
// with 40-byte nodes.
func packedRTreeSize(numItems, nodeSize int) int {
	if nodeSize < 2 {
		nodeSize = 2
	}
	n := numItems
	numNodes := n
	for n != 1 {
		n = (n + nodeSize - 1) / nodeSize
		numNodes += n
	}
	return numNodes * 40
}

func decodeFgbGeometry(g *fgbwire.Geometry, headerType byte) orb.Geometry {
	geomType := headerType
	if geomType == fgbwire.GeometryTypeUnknown {
		geomType = g.Type()
	}

	points := func() []orb.Point {
		out := make([]orb.Point, 0, g.XyLength()/2)
		for i := 0; i+1 < g.XyLength(); i += 2 {
			out = append(out, orb.Point{g.Xy(i), g.Xy(i + 1)})
		}
		return out
	}
	split := func() [][]orb.Point {
		flat := points()
		if g.EndsLength() == 0 {
			return [][]orb.Point{flat}
		}
		var out [][]orb.Point
		start := 0
		for i := 0; i < g.EndsLength(); i++ {
			end := int(g.Ends(i))
			if end > len(flat) {
				end = len(flat)
			}
			out = append(out, flat[start:end])
			start = end
		}
		return out
	}

	switch geomType {
	case fgbwire.GeometryTypePoint:
		pts := points()
		if len(pts) == 0 {
			return nil
		}
		return pts[0]
	case fgbwire.GeometryTypeMultiPoint:
		return orb.MultiPoint(points())
	case fgbwire.GeometryTypeLineString:
		return orb.LineString(points())
	case fgbwire.GeometryTypeMultiLineString:
		var out orb.MultiLineString
		for _, part := range split() {
			out = append(out, orb.LineString(part))
		}
		return out
	case fgbwire.GeometryTypePolygon:
		var out orb.Polygon
		for _, part := range split() {
			out = append(out, orb.Ring(part))
		}
		return out
	case fgbwire.GeometryTypeMultiPolygon:
		var out orb.MultiPolygon
		for i := 0; i < g.PartsLength(); i++ {
			var part fgbwire.Geometry
			if !g.Parts(&part, i) {
				continue
			}
			if polygon, ok := decodeFgbGeometry(&part, fgbwire.GeometryTypePolygon).(orb.Polygon); ok {
				out = append(out, polygon)
			}
		}
		return out
	case fgbwire.GeometryTypeGeometryCollection:
		var out orb.Collection
		for i := 0; i < g.PartsLength(); i++ {
			var part fgbwire.Geometry
			if !g.Parts(&part, i) {
				continue
			}
			if member := decodeFgbGeometry(&part, fgbwire.GeometryTypeUnknown); member != nil {
				out = append(out, member)
			}
		}
		return out
	default:
		return nil
	}
}

// decodeFgbProperties walks the packed property encoding: a uint16
// column index followed by a value whose width depends on the column
// type.
func decodeFgbProperties(props []byte, columnTypes []byte, feature *geo.Feature) error {
	pos := 0
	for pos+2 <= len(props) {
		col := int(binary.LittleEndian.Uint16(props[pos:]))
		pos += 2
		if col >= len(columnTypes) {
			return errs.New("property references unknown column %d", col)
		}

		switch columnTypes[col] {
		case fgbwire.ColumnTypeBool, fgbwire.ColumnTypeByte, fgbwire.ColumnTypeUByte:
			if pos+1 > len(props) {
				return errs.New("truncated property value")
			}
			feature.Values[col] = float64(props[pos])
			pos++
		case fgbwire.ColumnTypeShort, fgbwire.ColumnTypeUShort:
			if pos+2 > len(props) {
				return errs.New("truncated property value")
			}
			feature.Values[col] = float64(int16(binary.LittleEndian.Uint16(props[pos:])))
			pos += 2
		case fgbwire.ColumnTypeInt, fgbwire.ColumnTypeUInt:
			if pos+4 > len(props) {
				return errs.New("truncated property value")
			}
			feature.Values[col] = float64(int32(binary.LittleEndian.Uint32(props[pos:])))
			pos += 4
		case fgbwire.ColumnTypeLong, fgbwire.ColumnTypeULong:
			if pos+8 > len(props) {
				return errs.New("truncated property value")
			}
			feature.Values[col] = float64(int64(binary.LittleEndian.Uint64(props[pos:])))
			pos += 8
		case fgbwire.ColumnTypeFloat:
			if pos+4 > len(props) {
				return errs.New("truncated property value")
			}
			feature.Values[col] = float64(math.Float32frombits(binary.LittleEndian.Uint32(props[pos:])))
			pos += 4
		case fgbwire.ColumnTypeDouble:
			if pos+8 > len(props) {
				return errs.New("truncated property value")
			}
			feature.Values[col] = math.Float64frombits(binary.LittleEndian.Uint64(props[pos:]))
			pos += 8
		default:
			if pos+4 > len(props) {
				return errs.New("truncated property value")
			}
			length := int(binary.LittleEndian.Uint32(props[pos:]))
			pos += 4
			if pos+length > len(props) {
				return errs.New("truncated property value")
			}
			text := string(props[pos : pos+length])
			pos += length
			if columnTypes[col] == fgbwire.ColumnTypeDateTime {
				feature.Values[col] = parseFgbDateTime(text)
			} else {
				feature.Values[col] = text
			}
		}
	}
	return nil
}

func parseFgbDateTime(text string) interface{} {
	for _, layout := range []string{time.RFC3339, timestampLayout, "2006-01-02"} {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts
		}
	}
	return nil
}

// writeFlatGeobuf writes an unindexed FlatGeobuf file: magic bytes,
// size-prefixed header, then size-prefixed features in input order.
func writeFlatGeobuf(ds *geo.Dataset, path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	if _, err := file.Write(fgbwire.Magic[:]); err != nil {
		return errs.Wrap(err)
	}

	columnTypes := make([]byte, len(ds.Fields))
	for i, field := range ds.Fields {
		columnTypes[i] = columnTypeFor(field.Type)
	}

	headerBuf := buildFgbHeader(ds, columnTypes, layerName(path))
	if err := writeSizePrefixed(file, headerBuf); err != nil {
		return err
	}

	for _, feature := range ds.Features {
		featureBuf := buildFgbFeature(feature, ds.Fields, columnTypes)
		if err := writeSizePrefixed(file, featureBuf); err != nil {
			return err
		}
	}
	return nil
}

func writeSizePrefixed(file *os.File, buf []byte) error {
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(buf)))
	if _, err := file.Write(prefix[:]); err != nil {
		return errs.Wrap(err)
	}
	_, err := file.Write(buf)
	return errs.Wrap(err)
}

func columnTypeFor(t geo.FieldType) byte {
	switch t {
	case geo.TypeReal:
		return fgbwire.ColumnTypeDouble
	case geo.TypeTimestamp:
		return fgbwire.ColumnTypeDateTime
	default:
		return fgbwire.ColumnTypeString
	}
}

func buildFgbHeader(ds *geo.Dataset, columnTypes []byte, name string) []byte {
	builder := flatbuffers.NewBuilder(1024)

	columns := make([]flatbuffers.UOffsetT, len(ds.Fields))
	for i := len(ds.Fields) - 1; i >= 0; i-- {
		nameOffset := builder.CreateString(ds.Fields[i].Name)
		fgbwire.ColumnStart(builder)
		fgbwire.ColumnAddName(builder, nameOffset)
		fgbwire.ColumnAddType(builder, columnTypes[i])
		columns[i] = fgbwire.ColumnEnd(builder)
	}
	fgbwire.HeaderStartColumnsVector(builder, len(columns))
	for i := len(columns) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(columns[i])
	}
	columnsVector := builder.EndVector(len(columns))

	var crsOffset flatbuffers.UOffsetT
	if ds.EPSG != 0 {
		org := builder.CreateString("EPSG")
		var wktOffset flatbuffers.UOffsetT
		if wkt, ok := proj.WKT(ds.EPSG); ok {
			wktOffset = builder.CreateString(wkt)
		}
		fgbwire.CrsStart(builder)
		fgbwire.CrsAddOrg(builder, org)
		fgbwire.CrsAddCode(builder, int32(ds.EPSG))
		if wktOffset != 0 {
			fgbwire.CrsAddWkt(builder, wktOffset)
		}
		crsOffset = fgbwire.CrsEnd(builder)
	}

	nameOffset := builder.CreateString(name)

	fgbwire.HeaderStart(builder)
	fgbwire.HeaderAddName(builder, nameOffset)
	fgbwire.HeaderAddGeometryType(builder, uniformGeometryType(ds))
	fgbwire.HeaderAddColumns(builder, columnsVector)
	fgbwire.HeaderAddFeaturesCount(builder, uint64(len(ds.Features)))
	fgbwire.HeaderAddIndexNodeSize(builder, 0)
	if crsOffset != 0 {
		fgbwire.HeaderAddCrs(builder, crsOffset)
	}
	builder.Finish(fgbwire.HeaderEnd(builder))
	return builder.FinishedBytes()
}

// uniformGeometryType returns the shared geometry type of all features
// or Unknown when they are mixed.
func uniformGeometryType(ds *geo.Dataset) byte {
	shared := fgbwire.GeometryTypeUnknown
	for _, feature := range ds.Features {
		if feature.Geometry == nil {
			continue
		}
		t := fgbGeometryType(feature.Geometry)
		if shared == fgbwire.GeometryTypeUnknown {
			shared = t
		} else if shared != t {
			return fgbwire.GeometryTypeUnknown
		}
	}
	return shared
}

func fgbGeometryType(g orb.Geometry) byte {
	switch g.(type) {
	case orb.Point:
		return fgbwire.GeometryTypePoint
	case orb.MultiPoint:
		return fgbwire.GeometryTypeMultiPoint
	case orb.LineString:
		return fgbwire.GeometryTypeLineString
	case orb.MultiLineString:
		return fgbwire.GeometryTypeMultiLineString
	case orb.Polygon:
		return fgbwire.GeometryTypePolygon
	case orb.MultiPolygon:
		return fgbwire.GeometryTypeMultiPolygon
	case orb.Collection:
		return fgbwire.GeometryTypeGeometryCollection
	default:
		return fgbwire.GeometryTypeUnknown
	}
}

func buildFgbFeature(feature geo.Feature, fields []geo.Field, columnTypes []byte) []byte {
	builder := flatbuffers.NewBuilder(1024)

	var geomOffset flatbuffers.UOffsetT
	if feature.Geometry != nil {
		geomOffset = encodeFgbGeometry(builder, feature.Geometry)
	}

	props := encodeFgbProperties(feature, fields, columnTypes)
	var propsOffset flatbuffers.UOffsetT
	if len(props) > 0 {
		propsOffset = builder.CreateByteVector(props)
	}

	fgbwire.FeatureStart(builder)
	if geomOffset != 0 {
		fgbwire.FeatureAddGeometry(builder, geomOffset)
	}
	if propsOffset != 0 {
		fgbwire.FeatureAddProperties(builder, propsOffset)
	}
	builder.Finish(fgbwire.FeatureEnd(builder))
	return builder.FinishedBytes()
}

func encodeFgbProperties(feature geo.Feature, fields []geo.Field, columnTypes []byte) []byte {
	var buf bytes.Buffer
	var scratch [8]byte
	for col := range fields {
		v := feature.Value(col)
		if v == nil {
			continue
		}
		binary.LittleEndian.PutUint16(scratch[:2], uint16(col))
		buf.Write(scratch[:2])

		switch columnTypes[col] {
		case fgbwire.ColumnTypeDouble:
			f, _ := v.(float64)
			binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(f))
			buf.Write(scratch[:8])
		default:
			text := formatValue(v)
			if ts, ok := v.(time.Time); ok {
				text = ts.UTC().Format(time.RFC3339)
			}
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(text)))
			buf.Write(scratch[:4])
			buf.WriteString(text)
		}
	}
	return buf.Bytes()
}

func encodeFgbGeometry(builder *flatbuffers.Builder, g orb.Geometry) flatbuffers.UOffsetT {
	var flat []float64
	var ends []uint32
	var parts []flatbuffers.UOffsetT

	appendPoints := func(points []orb.Point) {
		for _, p := range points {
			flat = append(flat, p[0], p[1])
		}
	}

	switch g := g.(type) {
	case orb.Point:
		flat = []float64{g[0], g[1]}
	case orb.MultiPoint:
		appendPoints(g)
	case orb.LineString:
		appendPoints(g)
	case orb.MultiLineString:
		count := uint32(0)
		for _, ls := range g {
			appendPoints(ls)
			count += uint32(len(ls))
			ends = append(ends, count)
		}
	case orb.Polygon:
		count := uint32(0)
		for _, ring := range g {
			appendPoints(ring)
			count += uint32(len(ring))
			ends = append(ends, count)
		}
	case orb.MultiPolygon:
		for _, polygon := range g {
			parts = append(parts, encodeFgbGeometry(builder, polygon))
		}
	case orb.Collection:
		for _, member := range g {
			parts = append(parts, encodeFgbGeometry(builder, member))
		}
	}

	var endsVector, xyVector, partsVector flatbuffers.UOffsetT
	if len(ends) > 0 {
		fgbwire.GeometryStartEndsVector(builder, len(ends))
		for i := len(ends) - 1; i >= 0; i-- {
			builder.PrependUint32(ends[i])
		}
		endsVector = builder.EndVector(len(ends))
	}
	if len(flat) > 0 {
		fgbwire.GeometryStartXyVector(builder, len(flat))
		for i := len(flat) - 1; i >= 0; i-- {
			builder.PrependFloat64(flat[i])
		}
		xyVector = builder.EndVector(len(flat))
	}
	if len(parts) > 0 {
		fgbwire.GeometryStartPartsVector(builder, len(parts))
		for i := len(parts) - 1; i >= 0; i-- {
			builder.PrependUOffsetT(parts[i])
		}
		partsVector = builder.EndVector(len(parts))
	}

	fgbwire.GeometryStart(builder)
	if endsVector != 0 {
		fgbwire.GeometryAddEnds(builder, endsVector)
	}
	if xyVector != 0 {
		fgbwire.GeometryAddXy(builder, xyVector)
	}
	fgbwire.GeometryAddType(builder, fgbGeometryType(g))
	if partsVector != 0 {
		fgbwire.GeometryAddParts(builder, partsVector)
	}
	return fgbwire.GeometryEnd(builder)
}
