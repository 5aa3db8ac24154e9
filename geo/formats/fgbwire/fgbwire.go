// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package fgbwire holds the FlatBuffers table accessors for the
// FlatGeobuf file schema, following the layout generated by flatc for
// the upstream schema definition.
package fgbwire

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// Magic is the FlatGeobuf signature: "fgb", spec version 3, "fgb",
// patch 0.
var Magic = [8]byte{0x66, 0x67, 0x62, 0x03, 0x66, 0x67, 0x62, 0x00}

// GeometryType values from the FlatGeobuf schema.
const (
	GeometryTypeUnknown            byte = 0
	GeometryTypePoint              byte = 1
	GeometryTypeLineString         byte = 2
	GeometryTypePolygon            byte = 3
	GeometryTypeMultiPoint         byte = 4
	GeometryTypeMultiLineString    byte = 5
	GeometryTypeMultiPolygon       byte = 6
	GeometryTypeGeometryCollection byte = 7
)

// ColumnType values from the FlatGeobuf schema.
const (
	ColumnTypeByte     byte = 0
	ColumnTypeUByte    byte = 1
	ColumnTypeBool     byte = 2
	ColumnTypeShort    byte = 3
	ColumnTypeUShort   byte = 4
	ColumnTypeInt      byte = 5
	ColumnTypeUInt     byte = 6
	ColumnTypeLong     byte = 7
	ColumnTypeULong    byte = 8
	ColumnTypeFloat    byte = 9
	ColumnTypeDouble   byte = 10
	ColumnTypeString   byte = 11
	ColumnTypeJson     byte = 12
	ColumnTypeDateTime byte = 13
	ColumnTypeBinary   byte = 14
)

// Header is the file-level metadata table.
type Header struct {
	_tab flatbuffers.Table
}

func GetRootAsHeader(buf []byte, offset flatbuffers.UOffsetT) *Header {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &Header{}
	x._tab.Bytes = buf
	x._tab.Pos = n + offset
	return x
}

func (h *Header) Name() []byte {
	o := flatbuffers.UOffsetT(h._tab.Offset(4))
	if o != 0 {
		return h._tab.ByteVector(o + h._tab.Pos)
	}
	return nil
}

func (h *Header) GeometryType() byte {
	o := flatbuffers.UOffsetT(h._tab.Offset(8))
	if o != 0 {
		return h._tab.GetByte(o + h._tab.Pos)
	}
	return GeometryTypeUnknown
}

func (h *Header) ColumnsLength() int {
	o := flatbuffers.UOffsetT(h._tab.Offset(18))
	if o != 0 {
		return h._tab.VectorLen(o)
	}
	return 0
}

func (h *Header) Columns(obj *Column, j int) bool {
	o := flatbuffers.UOffsetT(h._tab.Offset(18))
	if o != 0 {
		x := h._tab.Vector(o)
		x += flatbuffers.UOffsetT(j) * 4
		x = h._tab.Indirect(x)
		obj._tab.Bytes = h._tab.Bytes
		obj._tab.Pos = x
		return true
	}
	return false
}

func (h *Header) FeaturesCount() uint64 {
	o := flatbuffers.UOffsetT(h._tab.Offset(20))
	if o != 0 {
		return h._tab.GetUint64(o + h._tab.Pos)
	}
	return 0
}

func (h *Header) IndexNodeSize() uint16 {
	o := flatbuffers.UOffsetT(h._tab.Offset(22))
	if o != 0 {
		return h._tab.GetUint16(o + h._tab.Pos)
	}
	return 16
}

func (h *Header) Crs(obj *Crs) *Crs {
	o := flatbuffers.UOffsetT(h._tab.Offset(24))
	if o != 0 {
		x := h._tab.Indirect(o + h._tab.Pos)
		if obj == nil {
			obj = new(Crs)
		}
		obj._tab.Bytes = h._tab.Bytes
		obj._tab.Pos = x
		return obj
	}
	return nil
}

func HeaderStart(builder *flatbuffers.Builder) {
	builder.StartObject(14)
}
func HeaderAddName(builder *flatbuffers.Builder, name flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, name, 0)
}
func HeaderAddGeometryType(builder *flatbuffers.Builder, geometryType byte) {
	builder.PrependByteSlot(2, geometryType, 0)
}
func HeaderAddColumns(builder *flatbuffers.Builder, columns flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(7, columns, 0)
}
func HeaderStartColumnsVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}
func HeaderAddFeaturesCount(builder *flatbuffers.Builder, featuresCount uint64) {
	builder.PrependUint64Slot(8, featuresCount, 0)
}
func HeaderAddIndexNodeSize(builder *flatbuffers.Builder, indexNodeSize uint16) {
	builder.PrependUint16Slot(9, indexNodeSize, 16)
}
func HeaderAddCrs(builder *flatbuffers.Builder, crs flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(10, crs, 0)
}
func HeaderEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

// Crs identifies the coordinate reference system of a file.
type Crs struct {
	_tab flatbuffers.Table
}

func (c *Crs) Org() []byte {
	o := flatbuffers.UOffsetT(c._tab.Offset(4))
	if o != 0 {
		return c._tab.ByteVector(o + c._tab.Pos)
	}
	return nil
}

func (c *Crs) Code() int32 {
	o := flatbuffers.UOffsetT(c._tab.Offset(6))
	if o != 0 {
		return c._tab.GetInt32(o + c._tab.Pos)
	}
	return 0
}

func (c *Crs) Wkt() []byte {
	o := flatbuffers.UOffsetT(c._tab.Offset(12))
	if o != 0 {
		return c._tab.ByteVector(o + c._tab.Pos)
	}
	return nil
}

func CrsStart(builder *flatbuffers.Builder) {
	builder.StartObject(6)
}
func CrsAddOrg(builder *flatbuffers.Builder, org flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, org, 0)
}
func CrsAddCode(builder *flatbuffers.Builder, code int32) {
	builder.PrependInt32Slot(1, code, 0)
}
func CrsAddWkt(builder *flatbuffers.Builder, wkt flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(4, wkt, 0)
}
func CrsEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

// Column describes one attribute column.
type Column struct {
	_tab flatbuffers.Table
}

func (c *Column) Name() []byte {
	o := flatbuffers.UOffsetT(c._tab.Offset(4))
	if o != 0 {
		return c._tab.ByteVector(o + c._tab.Pos)
	}
	return nil
}

func (c *Column) Type() byte {
	o := flatbuffers.UOffsetT(c._tab.Offset(6))
	if o != 0 {
		return c._tab.GetByte(o + c._tab.Pos)
	}
	return ColumnTypeByte
}

func ColumnStart(builder *flatbuffers.Builder) {
	builder.StartObject(2)
}
func ColumnAddName(builder *flatbuffers.Builder, name flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, name, 0)
}
func ColumnAddType(builder *flatbuffers.Builder, columnType byte) {
	builder.PrependByteSlot(1, columnType, 0)
}
func ColumnEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

// Feature is one record: a geometry plus encoded properties.
type Feature struct {
	_tab flatbuffers.Table
}

func GetRootAsFeature(buf []byte, offset flatbuffers.UOffsetT) *Feature {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &Feature{}
	x._tab.Bytes = buf
	x._tab.Pos = n + offset
	return x
}

func (f *Feature) Geometry(obj *Geometry) *Geometry {
	o := flatbuffers.UOffsetT(f._tab.Offset(4))
	if o != 0 {
		x := f._tab.Indirect(o + f._tab.Pos)
		if obj == nil {
			obj = new(Geometry)
		}
		obj._tab.Bytes = f._tab.Bytes
		obj._tab.Pos = x
		return obj
	}
	return nil
}

func (f *Feature) PropertiesBytes() []byte {
	o := flatbuffers.UOffsetT(f._tab.Offset(6))
	if o != 0 {
		return f._tab.ByteVector(o + f._tab.Pos)
	}
	return nil
}

func FeatureStart(builder *flatbuffers.Builder) {
	builder.StartObject(3)
}
func FeatureAddGeometry(builder *flatbuffers.Builder, geometry flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, geometry, 0)
}
func FeatureAddProperties(builder *flatbuffers.Builder, properties flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, properties, 0)
}
func FeatureStartPropertiesVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(1, numElems, 1)
}
func FeatureEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

// Geometry carries flat coordinate arrays. Multi-part geometries use
// ends to delimit parts; nested geometries use the parts vector.
type Geometry struct {
	_tab flatbuffers.Table
}

func (g *Geometry) EndsLength() int {
	o := flatbuffers.UOffsetT(g._tab.Offset(4))
	if o != 0 {
		return g._tab.VectorLen(o)
	}
	return 0
}

func (g *Geometry) Ends(j int) uint32 {
	o := flatbuffers.UOffsetT(g._tab.Offset(4))
	if o != 0 {
		a := g._tab.Vector(o)
		return g._tab.GetUint32(a + flatbuffers.UOffsetT(j)*4)
	}
	return 0
}

func (g *Geometry) XyLength() int {
	o := flatbuffers.UOffsetT(g._tab.Offset(6))
	if o != 0 {
		return g._tab.VectorLen(o)
	}
	return 0
}

func (g *Geometry) Xy(j int) float64 {
	o := flatbuffers.UOffsetT(g._tab.Offset(6))
	if o != 0 {
		a := g._tab.Vector(o)
		return g._tab.GetFloat64(a + flatbuffers.UOffsetT(j)*8)
	}
	return 0
}

func (g *Geometry) Type() byte {
	o := flatbuffers.UOffsetT(g._tab.Offset(16))
	if o != 0 {
		return g._tab.GetByte(o + g._tab.Pos)
	}
	return GeometryTypeUnknown
}

func (g *Geometry) PartsLength() int {
	o := flatbuffers.UOffsetT(g._tab.Offset(18))
	if o != 0 {
		return g._tab.VectorLen(o)
	}
	return 0
}

func (g *Geometry) Parts(obj *Geometry, j int) bool {
	o := flatbuffers.UOffsetT(g._tab.Offset(18))
	if o != 0 {
		x := g._tab.Vector(o)
		x += flatbuffers.UOffsetT(j) * 4
		x = g._tab.Indirect(x)
		obj._tab.Bytes = g._tab.Bytes
		obj._tab.Pos = x
		return true
	}
	return false
}

func GeometryStart(builder *flatbuffers.Builder) {
	builder.StartObject(8)
}
func GeometryAddEnds(builder *flatbuffers.Builder, ends flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, ends, 0)
}
func GeometryStartEndsVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}
func GeometryAddXy(builder *flatbuffers.Builder, xy flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, xy, 0)
}
func GeometryStartXyVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(8, numElems, 8)
}
func GeometryAddType(builder *flatbuffers.Builder, geometryType byte) {
	builder.PrependByteSlot(6, geometryType, 0)
}
func GeometryAddParts(builder *flatbuffers.Builder, parts flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(7, parts, 0)
}
func GeometryStartPartsVector(builder *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	return builder.StartVector(4, numElems, 4)
}
func GeometryEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
