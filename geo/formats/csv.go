// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package formats

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/zeebo/errs"
	"golang.org/x/text/encoding/charmap"

	"geoconvert.io/geoconvert/geo"
)

// coordinateColumnPairs lists header pairs recognized as point
// coordinates, checked in order.
var coordinateColumnPairs = [][2]string{
	{"longitude", "latitude"},
	{"lon", "lat"},
	{"lng", "lat"},
	{"x", "y"},
}

// readCSV loads a delimited file. When a recognized coordinate column
// pair is present, rows gain point geometries; the columns stay in the
// attribute table.
func readCSV(path, encoding string) (_ *geo.Dataset, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	var source io.Reader = file
	if strings.EqualFold(encoding, "latin-1") {
		source = charmap.ISO8859_1.NewDecoder().Reader(file)
	}

	reader := csv.NewReader(source)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errs.Wrap(err)
	}

	ds := &geo.Dataset{}
	for _, name := range header {
		ds.Fields = append(ds.Fields, geo.Field{Name: strings.TrimSpace(name), Type: geo.TypeString})
	}

	lonCol, latCol := findCoordinateColumns(ds.Fields)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.Wrap(err)
		}

		values := make([]interface{}, len(ds.Fields))
		for i := range ds.Fields {
			if i < len(record) {
				values[i] = record[i]
			}
		}

		feature := geo.Feature{Values: values}
		if lonCol >= 0 && latCol >= 0 && lonCol < len(record) && latCol < len(record) {
			lon, err1 := strconv.ParseFloat(strings.TrimSpace(record[lonCol]), 64)
			lat, err2 := strconv.ParseFloat(strings.TrimSpace(record[latCol]), 64)
			if err1 == nil && err2 == nil {
				feature.Geometry = orb.Point{lon, lat}
			}
		}
		ds.Features = append(ds.Features, feature)
	}
	return ds, nil
}

func findCoordinateColumns(fields []geo.Field) (lonCol, latCol int) {
	index := map[string]int{}
	for i, field := range fields {
		index[strings.ToLower(field.Name)] = i
	}
	for _, pair := range coordinateColumnPairs {
		lon, okLon := index[pair[0]]
		lat, okLat := index[pair[1]]
		if okLon && okLat {
			return lon, lat
		}
	}
	return -1, -1
}

// writeCSV writes the attribute table plus latitude and longitude
// columns holding the geometry centroid.
func writeCSV(ds *geo.Dataset, path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	writer := csv.NewWriter(file)

	header := make([]string, 0, len(ds.Fields)+2)
	for _, field := range ds.Fields {
		header = append(header, field.Name)
	}
	header = append(header, "latitude", "longitude")
	if err := writer.Write(header); err != nil {
		return errs.Wrap(err)
	}

	for _, feature := range ds.Features {
		record := make([]string, 0, len(header))
		for i := range ds.Fields {
			record = append(record, formatValue(feature.Value(i)))
		}

		lat, lon := "", ""
		if feature.Geometry != nil {
			centroid, _ := planar.CentroidArea(feature.Geometry)
			lat = strconv.FormatFloat(centroid[1], 'f', -1, 64)
			lon = strconv.FormatFloat(centroid[0], 'f', -1, 64)
		}
		record = append(record, lat, lon)

		if err := writer.Write(record); err != nil {
			return errs.Wrap(err)
		}
	}

	writer.Flush()
	return errs.Wrap(writer.Error())
}
