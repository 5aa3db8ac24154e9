// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package formats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/zeebo/errs"
	"golang.org/x/text/encoding/charmap"

	"geoconvert.io/geoconvert/geo"
)

// The DXF codec covers the entity subset CAD exchange actually uses
// for vector data: POINT, LINE and LWPOLYLINE on named layers.

type dxfTag struct {
	code  int
	value string
}

func readDXF(path, encoding string) (_ *geo.Dataset, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	var source io.Reader = file
	if strings.EqualFold(encoding, "latin-1") {
		source = charmap.ISO8859_1.NewDecoder().Reader(file)
	}

	tags, err := readDXFTags(source)
	if err != nil {
		return nil, err
	}

	ds := &geo.Dataset{Fields: []geo.Field{{Name: "Layer", Type: geo.TypeString}}}

	inEntities := false
	for i := 0; i < len(tags); i++ {
		tag := tags[i]
		if tag.code != 0 {
			continue
		}
		switch tag.value {
		case "SECTION":
			if i+1 < len(tags) && tags[i+1].code == 2 {
				inEntities = tags[i+1].value == "ENTITIES"
			}
		case "ENDSEC":
			inEntities = false
		case "POINT", "LINE", "LWPOLYLINE":
			if !inEntities {
				continue
			}
			entity, next := collectDXFEntity(tags, i)
			if feature, ok := decodeDXFEntity(tag.value, entity); ok {
				ds.Features = append(ds.Features, feature)
			}
			i = next - 1
		}
	}
	return ds, nil
}

func readDXFTags(source io.Reader) ([]dxfTag, error) {
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var tags []dxfTag
	for scanner.Scan() {
		codeLine := strings.TrimSpace(scanner.Text())
		if !scanner.Scan() {
			break
		}
		code, err := strconv.Atoi(codeLine)
		if err != nil {
			return nil, errs.New("malformed group code %q", codeLine)
		}
		tags = append(tags, dxfTag{code: code, value: strings.TrimSpace(scanner.Text())})
	}
	return tags, errs.Wrap(scanner.Err())
}

// collectDXFEntity gathers the tags of the entity starting at index
// start and returns the index of the next 0-code tag.
func collectDXFEntity(tags []dxfTag, start int) ([]dxfTag, int) {
	end := start + 1
	for end < len(tags) && tags[end].code != 0 {
		end++
	}
	return tags[start+1 : end], end
}

func decodeDXFEntity(kind string, tags []dxfTag) (geo.Feature, bool) {
	layer := "0"
	var xs, ys []float64
	var x2, y2 float64
	closed := false

	for _, tag := range tags {
		switch tag.code {
		case 8:
			layer = tag.value
		case 10:
			if v, err := strconv.ParseFloat(tag.value, 64); err == nil {
				xs = append(xs, v)
			}
		case 20:
			if v, err := strconv.ParseFloat(tag.value, 64); err == nil {
				ys = append(ys, v)
			}
		case 11:
			x2, _ = strconv.ParseFloat(tag.value, 64)
		case 21:
			y2, _ = strconv.ParseFloat(tag.value, 64)
		case 70:
			flags, _ := strconv.Atoi(tag.value)
			closed = flags&1 != 0
		}
	}
	if len(xs) == 0 || len(xs) != len(ys) {
		return geo.Feature{}, false
	}

	var g orb.Geometry
	switch kind {
	case "POINT":
		g = orb.Point{xs[0], ys[0]}
	case "LINE":
		g = orb.LineString{{xs[0], ys[0]}, {x2, y2}}
	case "LWPOLYLINE":
		points := make([]orb.Point, 0, len(xs))
		for i := range xs {
			points = append(points, orb.Point{xs[i], ys[i]})
		}
		if closed && len(points) >= 3 {
			ring := orb.Ring(points)
			if !ring.Closed() {
				ring = append(ring, ring[0])
			}
			g = orb.Polygon{ring}
		} else {
			if len(points) < 2 {
				return geo.Feature{}, false
			}
			g = orb.LineString(points)
		}
	}
	return geo.Feature{Geometry: g, Values: []interface{}{layer}}, true
}

// writeDXF emits a minimal entities-only document, one layer per
// feature taken from a "Layer" column when present.
func writeDXF(ds *geo.Dataset, path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	writer := bufio.NewWriter(file)
	layerCol := ds.FieldIndex("Layer")

	tag := func(code int, value string) {
		fmt.Fprintf(writer, "%d\r\n%s\r\n", code, value)
	}
	coord := func(code int, v float64) {
		tag(code, strconv.FormatFloat(v, 'f', -1, 64))
	}

	tag(0, "SECTION")
	tag(2, "ENTITIES")

	for _, feature := range ds.Features {
		layer := "0"
		if layerCol >= 0 {
			if v := formatValue(feature.Value(layerCol)); v != "" {
				layer = v
			}
		}
		writeDXFGeometry(feature.Geometry, layer, tag, coord)
	}

	tag(0, "ENDSEC")
	tag(0, "EOF")
	return errs.Wrap(writer.Flush())
}

func writeDXFGeometry(g orb.Geometry, layer string, tag func(int, string), coord func(int, float64)) {
	emitPolyline := func(points []orb.Point, closed bool) {
		tag(0, "LWPOLYLINE")
		tag(8, layer)
		tag(90, strconv.Itoa(len(points)))
		if closed {
			tag(70, "1")
		} else {
			tag(70, "0")
		}
		for _, p := range points {
			coord(10, p[0])
			coord(20, p[1])
		}
	}

	switch g := g.(type) {
	case orb.Point:
		tag(0, "POINT")
		tag(8, layer)
		coord(10, g[0])
		coord(20, g[1])
	case orb.MultiPoint:
		for _, p := range g {
			writeDXFGeometry(p, layer, tag, coord)
		}
	case orb.LineString:
		emitPolyline(g, false)
	case orb.MultiLineString:
		for _, ls := range g {
			emitPolyline(ls, false)
		}
	case orb.Polygon:
		for _, ring := range g {
			open := ring
			if len(open) > 1 && open.Closed() {
				open = open[:len(open)-1]
			}
			emitPolyline(open, true)
		}
	case orb.MultiPolygon:
		for _, polygon := range g {
			writeDXFGeometry(polygon, layer, tag, coord)
		}
	case orb.Collection:
		for _, member := range g {
			writeDXFGeometry(member, layer, tag, coord)
		}
	}
}
