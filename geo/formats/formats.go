// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package formats reads and writes the supported vector formats and
// handles archive packaging for multi-file outputs.
package formats

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/geo"
)

// Error is the default error class for the formats package.
var Error = errs.Class("formats")

// Info describes one supported format.
type Info struct {
	Name       string `json:"name"`
	Driver     string `json:"driver"`
	Extension  string `json:"extension"`
	SingleFile bool   `json:"-"`
	MultiFile  bool   `json:"multi_file"`
	Available  bool   `json:"available"`
}

// registry lists every format the service knows about, in display
// order. OpenFileGDB is a proprietary container without a native
// implementation here and is rejected at submission.
var registry = []Info{
	{Name: "GeoJSON", Driver: "GeoJSON", Extension: ".geojson", SingleFile: true, Available: true},
	{Name: "ESRI Shapefile", Driver: "ESRI Shapefile", Extension: ".shp", MultiFile: true, Available: true},
	{Name: "GPKG", Driver: "GPKG", Extension: ".gpkg", SingleFile: true, Available: true},
	{Name: "KML", Driver: "KML", Extension: ".kml", SingleFile: true, Available: true},
	{Name: "DXF", Driver: "DXF", Extension: ".dxf", SingleFile: true, Available: true},
	{Name: "CSV", Driver: "CSV", Extension: ".csv", SingleFile: true, Available: true},
	{Name: "OpenFileGDB", Driver: "OpenFileGDB", Extension: ".gdb", MultiFile: true, Available: false},
	{Name: "FlatGeobuf", Driver: "FlatGeobuf", Extension: ".fgb", SingleFile: true, Available: true},
}

// Supported returns the format registry in display order.
func Supported() []Info {
	return append([]Info(nil), registry...)
}

// Lookup finds a format by its public name.
func Lookup(name string) (Info, bool) {
	for _, info := range registry {
		if info.Name == name {
			return info, true
		}
	}
	return Info{}, false
}

// ByExtension finds a format by file extension, case-insensitive.
func ByExtension(ext string) (Info, bool) {
	ext = strings.ToLower(ext)
	for _, info := range registry {
		if info.Extension == ext {
			return info, true
		}
	}
	return Info{}, false
}

// Read opens a vector file, dispatching on its extension. A failed
// read with the requested encoding is retried with latin-1.
func Read(ctx context.Context, path, encoding string) (_ *geo.Dataset, err error) {
	defer mon.Task()(&ctx)(&err)

	ds, err := readWith(path, encoding)
	if err != nil && !strings.EqualFold(encoding, "latin-1") {
		if ds2, err2 := readWith(path, "latin-1"); err2 == nil {
			return ds2, nil
		}
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return ds, nil
}

func readWith(path, encoding string) (*geo.Dataset, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return readGeoJSON(path)
	case ".shp":
		return readShapefile(path, encoding)
	case ".gpkg":
		return readGPKG(path)
	case ".kml", ".kmz":
		return readKML(path)
	case ".dxf":
		return readDXF(path, encoding)
	case ".csv":
		return readCSV(path, encoding)
	case ".fgb":
		return readFlatGeobuf(path)
	default:
		return nil, Error.New("unsupported input extension %q", filepath.Ext(path))
	}
}

// Write writes the dataset to path in the named format. The path must
// carry the format's extension.
func Write(ctx context.Context, ds *geo.Dataset, path, format, encoding string) (err error) {
	defer mon.Task()(&ctx)(&err)

	info, ok := Lookup(format)
	if !ok {
		return Error.New("unsupported output format %q", format)
	}
	if !info.Available {
		return Error.New("format %q is not available for writing", format)
	}

	switch info.Name {
	case "GeoJSON":
		err = writeGeoJSON(ds, path)
	case "ESRI Shapefile":
		err = writeShapefile(ds, path, encoding)
	case "GPKG":
		err = writeGPKG(ds, path)
	case "KML":
		err = writeKML(ds, path)
	case "DXF":
		err = writeDXF(ds, path)
	case "CSV":
		err = writeCSV(ds, path)
	case "FlatGeobuf":
		err = writeFlatGeobuf(ds, path)
	default:
		return Error.New("no writer for format %q", format)
	}
	return Error.Wrap(err)
}

// extractPriority orders the search for the principal payload of an
// extracted archive.
var extractPriority = []string{".shp", ".gpkg", ".geojson", ".kml", ".gdb", ".dxf", ".csv"}

// ExtractArchive unpacks a ZIP into dir and returns the path of the
// principal geospatial file inside it.
func ExtractArchive(ctx context.Context, archivePath, dir string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, reader.Close()) }()

	for _, file := range reader.File {
		if err := extractFile(file, dir); err != nil {
			return "", err
		}
	}

	for _, ext := range extractPriority {
		var found string
		walkErr := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if found == "" && strings.EqualFold(filepath.Ext(path), ext) {
				found = path
			}
			return nil
		})
		if walkErr != nil {
			return "", Error.Wrap(walkErr)
		}
		if found != "" {
			return found, nil
		}
	}
	return "", Error.New("no recognized geospatial file in archive")
}

func extractFile(file *zip.File, dir string) (err error) {
	// reject entries escaping the extraction directory
	target := filepath.Join(dir, filepath.FromSlash(file.Name))
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return Error.New("archive entry %q escapes extraction directory", file.Name)
	}

	if file.FileInfo().IsDir() {
		return Error.Wrap(os.MkdirAll(target, 0o755))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Error.Wrap(err)
	}

	src, err := file.Open()
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, src.Close()) }()

	dst, err := os.Create(target)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, dst.Close()) }()

	_, err = io.Copy(dst, src)
	return Error.Wrap(err)
}

// Package bundles a multi-file output into a single ZIP next to it and
// returns the final artifact path. Single-file formats pass through.
func Package(ctx context.Context, outputPath, format string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	info, ok := Lookup(format)
	if !ok {
		return "", Error.New("unsupported output format %q", format)
	}
	if !info.MultiFile {
		return outputPath, nil
	}

	zipPath := strings.TrimSuffix(outputPath, info.Extension) + ".zip"
	stem := strings.TrimSuffix(filepath.Base(outputPath), info.Extension)
	dir := filepath.Dir(outputPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", Error.Wrap(err)
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, out.Close()) }()

	writer := zip.NewWriter(out)
	defer func() { err = errs.Combine(err, writer.Close()) }()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, stem+".") {
			continue
		}
		if err := addToZip(writer, filepath.Join(dir, name), name); err != nil {
			return "", err
		}
	}
	return zipPath, nil
}

func addToZip(writer *zip.Writer, path, name string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, src.Close()) }()

	dst, err := writer.Create(name)
	if err != nil {
		return Error.Wrap(err)
	}
	_, err = io.Copy(dst, src)
	return Error.Wrap(err)
}
