// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package formats

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/geo"
)

const kmlNamespace = "http://www.opengis.net/kml/2.2"

type kmlRoot struct {
	XMLName  xml.Name    `xml:"kml"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name       string         `xml:"name,omitempty"`
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlFolder struct {
	Folders    []kmlFolder    `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name         string           `xml:"name,omitempty"`
	Description  string           `xml:"description,omitempty"`
	ExtendedData *kmlExtendedData `xml:"ExtendedData"`
	Point        *kmlPoint        `xml:"Point"`
	LineString   *kmlLineString   `xml:"LineString"`
	Polygon      *kmlPolygon      `xml:"Polygon"`
	Multi        *kmlMulti        `xml:"MultiGeometry"`
}

type kmlExtendedData struct {
	Data []kmlData `xml:"Data"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlLineString struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlBoundary   `xml:"outerBoundaryIs"`
	Inner []kmlBoundary `xml:"innerBoundaryIs"`
}

type kmlBoundary struct {
	LinearRing kmlLineString `xml:"LinearRing"`
}

type kmlMulti struct {
	Points      []kmlPoint      `xml:"Point"`
	LineStrings []kmlLineString `xml:"LineString"`
	Polygons    []kmlPolygon    `xml:"Polygon"`
}

// readKML loads a KML or KMZ document. KML coordinates are WGS84 by
// specification.
func readKML(path string) (*geo.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	// KMZ is a zip with the document at doc.kml
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		data, err = readKMZDocument(path)
		if err != nil {
			return nil, err
		}
	}

	var root kmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, errs.Wrap(err)
	}

	var placemarks []kmlPlacemark
	placemarks = append(placemarks, root.Document.Placemarks...)
	placemarks = append(placemarks, collectFolderPlacemarks(root.Document.Folders)...)

	ds := &geo.Dataset{
		EPSG:   4326,
		Fields: []geo.Field{{Name: "Name", Type: geo.TypeString}, {Name: "Description", Type: geo.TypeString}},
	}

	index := map[string]int{"Name": 0, "Description": 1}
	for _, pm := range placemarks {
		if pm.ExtendedData == nil {
			continue
		}
		for _, data := range pm.ExtendedData.Data {
			if _, known := index[data.Name]; known {
				continue
			}
			index[data.Name] = len(ds.Fields)
			ds.Fields = append(ds.Fields, geo.Field{Name: data.Name, Type: geo.TypeString})
		}
	}

	for _, pm := range placemarks {
		values := make([]interface{}, len(ds.Fields))
		if pm.Name != "" {
			values[0] = pm.Name
		}
		if pm.Description != "" {
			values[1] = pm.Description
		}
		if pm.ExtendedData != nil {
			for _, data := range pm.ExtendedData.Data {
				values[index[data.Name]] = data.Value
			}
		}
		ds.Features = append(ds.Features, geo.Feature{
			Geometry: placemarkGeometry(pm),
			Values:   values,
		})
	}
	return ds, nil
}

func readKMZDocument(path string) (_ []byte, err error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, reader.Close()) }()

	for _, file := range reader.File {
		if !strings.EqualFold(file.Name, "doc.kml") && !strings.HasSuffix(strings.ToLower(file.Name), ".kml") {
			continue
		}
		src, err := file.Open()
		if err != nil {
			return nil, errs.Wrap(err)
		}
		data, err := io.ReadAll(src)
		return data, errs.Combine(errs.Wrap(err), src.Close())
	}
	return nil, errs.New("no kml document inside kmz")
}

func collectFolderPlacemarks(folders []kmlFolder) []kmlPlacemark {
	var out []kmlPlacemark
	for _, folder := range folders {
		out = append(out, folder.Placemarks...)
		out = append(out, collectFolderPlacemarks(folder.Folders)...)
	}
	return out
}

func placemarkGeometry(pm kmlPlacemark) orb.Geometry {
	switch {
	case pm.Point != nil:
		if points := parseKMLCoordinates(pm.Point.Coordinates); len(points) > 0 {
			return points[0]
		}
	case pm.LineString != nil:
		if points := parseKMLCoordinates(pm.LineString.Coordinates); len(points) >= 2 {
			return orb.LineString(points)
		}
	case pm.Polygon != nil:
		return kmlPolygonGeometry(*pm.Polygon)
	case pm.Multi != nil:
		return kmlMultiGeometry(*pm.Multi)
	}
	return nil
}

func kmlPolygonGeometry(polygon kmlPolygon) orb.Geometry {
	outer := parseKMLCoordinates(polygon.Outer.LinearRing.Coordinates)
	if len(outer) < 4 {
		return nil
	}
	out := orb.Polygon{orb.Ring(outer)}
	for _, inner := range polygon.Inner {
		if ring := parseKMLCoordinates(inner.LinearRing.Coordinates); len(ring) >= 4 {
			out = append(out, orb.Ring(ring))
		}
	}
	return out
}

func kmlMultiGeometry(multi kmlMulti) orb.Geometry {
	var collection orb.Collection
	for _, point := range multi.Points {
		if points := parseKMLCoordinates(point.Coordinates); len(points) > 0 {
			collection = append(collection, points[0])
		}
	}
	for _, ls := range multi.LineStrings {
		if points := parseKMLCoordinates(ls.Coordinates); len(points) >= 2 {
			collection = append(collection, orb.LineString(points))
		}
	}
	for _, polygon := range multi.Polygons {
		if g := kmlPolygonGeometry(polygon); g != nil {
			collection = append(collection, g)
		}
	}
	switch len(collection) {
	case 0:
		return nil
	case 1:
		return collection[0]
	default:
		return collection
	}
}

// parseKMLCoordinates parses whitespace-separated lon,lat[,alt]
// tuples.
func parseKMLCoordinates(raw string) []orb.Point {
	var out []orb.Point
	for _, token := range strings.Fields(raw) {
		parts := strings.Split(token, ",")
		if len(parts) < 2 {
			continue
		}
		lon, err1 := strconv.ParseFloat(parts[0], 64)
		lat, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, orb.Point{lon, lat})
	}
	return out
}

func writeKML(ds *geo.Dataset, path string) error {
	doc := kmlDocument{Name: layerName(path)}
	for _, feature := range ds.Features {
		pm := kmlPlacemark{}
		data := make([]kmlData, 0, len(ds.Fields))
		for i, field := range ds.Fields {
			v := feature.Value(i)
			if field.Name == "Name" {
				pm.Name = formatValue(v)
				continue
			}
			if v == nil {
				continue
			}
			data = append(data, kmlData{Name: field.Name, Value: formatValue(v)})
		}
		if len(data) > 0 {
			pm.ExtendedData = &kmlExtendedData{Data: data}
		}
		applyKMLGeometry(&pm, feature.Geometry)
		doc.Placemarks = append(doc.Placemarks, pm)
	}

	payload, err := xml.MarshalIndent(struct {
		XMLName  xml.Name `xml:"kml"`
		XMLNS    string   `xml:"xmlns,attr"`
		Document kmlDocument
	}{XMLNS: kmlNamespace, Document: doc}, "", "  ")
	if err != nil {
		return errs.Wrap(err)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(payload)
	buf.WriteByte('\n')
	return errs.Wrap(os.WriteFile(path, buf.Bytes(), 0o644))
}

func applyKMLGeometry(pm *kmlPlacemark, g orb.Geometry) {
	switch g := g.(type) {
	case orb.Point:
		pm.Point = &kmlPoint{Coordinates: formatKMLCoordinates([]orb.Point{g})}
	case orb.LineString:
		pm.LineString = &kmlLineString{Coordinates: formatKMLCoordinates(g)}
	case orb.Polygon:
		pm.Polygon = kmlPolygonFrom(g)
	case orb.MultiPoint:
		multi := &kmlMulti{}
		for _, p := range g {
			multi.Points = append(multi.Points, kmlPoint{Coordinates: formatKMLCoordinates([]orb.Point{p})})
		}
		pm.Multi = multi
	case orb.MultiLineString:
		multi := &kmlMulti{}
		for _, ls := range g {
			multi.LineStrings = append(multi.LineStrings, kmlLineString{Coordinates: formatKMLCoordinates(ls)})
		}
		pm.Multi = multi
	case orb.MultiPolygon:
		multi := &kmlMulti{}
		for _, polygon := range g {
			if out := kmlPolygonFrom(polygon); out != nil {
				multi.Polygons = append(multi.Polygons, *out)
			}
		}
		pm.Multi = multi
	}
}

func kmlPolygonFrom(polygon orb.Polygon) *kmlPolygon {
	if len(polygon) == 0 {
		return nil
	}
	out := &kmlPolygon{Outer: kmlBoundary{LinearRing: kmlLineString{Coordinates: formatKMLCoordinates(polygon[0])}}}
	for _, ring := range polygon[1:] {
		out.Inner = append(out.Inner, kmlBoundary{LinearRing: kmlLineString{Coordinates: formatKMLCoordinates(ring)}})
	}
	return out
}

func formatKMLCoordinates(points []orb.Point) string {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s,%s",
			strconv.FormatFloat(p[0], 'f', -1, 64),
			strconv.FormatFloat(p[1], 'f', -1, 64))
	}
	return b.String()
}
