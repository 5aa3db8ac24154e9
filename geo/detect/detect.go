// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package detect resolves the coordinate reference system of a vector
// file and reprojects datasets between registered systems.
package detect

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/formats"
	"geoconvert.io/geoconvert/geo/proj"
)

// Error is the default error class for the detect package.
var Error = errs.Class("detect")

var mon = monkit.Package()

// Confidence grades how reliable a detection is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Detection methods, in cascade order.
const (
	MethodDriver  = "driver_metadata"
	MethodSidecar = "prj_file"
	MethodExtent  = "extent_heuristic"
	MethodNone    = "none"
)

// Result is the outcome of a detection.
type Result struct {
	EPSG       int        `json:"epsg"`
	WKT        string     `json:"wkt,omitempty"`
	Confidence Confidence `json:"confidence"`
	Method     string     `json:"method"`
}

// extentSampleLimit caps how many features the extent heuristic reads.
const extentSampleLimit = 100

type knownBBox struct {
	epsg                   int
	minX, minY, maxX, maxY float64
}

// knownBBoxes maps registered CRS codes to their approximate valid
// extents, used by the extent heuristic.
var knownBBoxes = []knownBBox{
	{4326, -180, -90, 180, 90},
	{2154, 99220, 6049997, 1242456, 7110480},
	{3857, -20037508, -20048966, 20037508, 20048966},
	{4171, -5.14, 41.33, 9.56, 51.09},
	{32631, 166022, 0, 833978, 9329005},
	{32632, 166022, 0, 833978, 9329005},
	{27700, -103976, -16703, 652897, 1199848},
	{25831, 119303, 1116915, 1320416, 9554469},
	{25832, 243900, 1116915, 1783532, 9554469},
}

// Detect resolves the CRS of a vector file with a three-step cascade:
// driver metadata, .prj sidecar, then the extent heuristic. The first
// hit wins.
func Detect(ctx context.Context, path string) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	if epsg := detectFromDriver(ctx, path); epsg != 0 {
		return withWKT(Result{EPSG: epsg, Confidence: ConfidenceHigh, Method: MethodDriver}), nil
	}
	if epsg := detectFromSidecar(path); epsg != 0 {
		return withWKT(Result{EPSG: epsg, Confidence: ConfidenceHigh, Method: MethodSidecar}), nil
	}
	if epsg := detectFromExtent(ctx, path); epsg != 0 {
		return withWKT(Result{EPSG: epsg, Confidence: ConfidenceMedium, Method: MethodExtent}), nil
	}
	return Result{Confidence: ConfidenceLow, Method: MethodNone}, nil
}

func withWKT(result Result) Result {
	if wkt, ok := proj.WKT(result.EPSG); ok {
		result.WKT = wkt
	}
	return result
}

// detectFromDriver asks the format layer for embedded CRS metadata.
// GeoJSON and KML carry WGS84 by specification; GeoPackage and
// FlatGeobuf embed an authority code.
func detectFromDriver(ctx context.Context, path string) int {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json", ".kml", ".kmz":
		return 4326
	case ".gpkg", ".fgb":
		ds, err := formats.Read(ctx, path, "UTF-8")
		if err != nil {
			return 0
		}
		return ds.EPSG
	default:
		return 0
	}
}

// detectFromSidecar reads the .prj next to a shapefile and resolves an
// EPSG from its well-known-text.
func detectFromSidecar(path string) int {
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		return 0
	}
	prjPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	wkt, err := os.ReadFile(prjPath)
	if err != nil {
		return 0
	}
	return proj.EPSGFromWKT(string(wkt))
}

// detectFromExtent samples the data extent and picks the registered
// CRS whose declared bounding box contains it, preferring the smallest
// such box. Ties on area break toward the lower EPSG code.
func detectFromExtent(ctx context.Context, path string) int {
	ds, err := formats.Read(ctx, path, "UTF-8")
	if err != nil {
		return 0
	}
	if len(ds.Features) > extentSampleLimit {
		ds = &geo.Dataset{Fields: ds.Fields, Features: ds.Features[:extentSampleLimit]}
	}
	bound, ok := ds.Bound()
	if !ok {
		return 0
	}

	candidates := append([]knownBBox(nil), knownBBoxes...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].epsg < candidates[j].epsg })

	best := 0
	bestArea := 0.0
	for _, box := range candidates {
		contains := box.minX <= bound.Min[0] && bound.Min[0] <= box.maxX &&
			box.minY <= bound.Min[1] && bound.Min[1] <= box.maxY &&
			box.minX <= bound.Max[0] && bound.Max[0] <= box.maxX &&
			box.minY <= bound.Max[1] && bound.Max[1] <= box.maxY
		if !contains {
			continue
		}
		area := (box.maxX - box.minX) * (box.maxY - box.minY)
		if best == 0 || area < bestArea {
			best, bestArea = box.epsg, area
		}
	}
	return best
}

// Reproject transforms all geometries from the source to the target
// CRS and stamps the dataset with the target code. The source setting
// overrides whatever the dataset carried. No-op when source equals
// target.
func Reproject(ctx context.Context, ds *geo.Dataset, sourceEPSG, targetEPSG int) (_ *geo.Dataset, err error) {
	defer mon.Task()(&ctx)(&err)

	if sourceEPSG == targetEPSG {
		out := ds.Clone()
		out.EPSG = targetEPSG
		return out, nil
	}

	transform, err := proj.Transform(sourceEPSG, targetEPSG)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	out := ds.Clone()
	out.EPSG = targetEPSG
	for i := range out.Features {
		if out.Features[i].Geometry == nil {
			continue
		}
		out.Features[i].Geometry = project.Geometry(orb.Clone(out.Features[i].Geometry), transform)
	}
	return out, nil
}
