// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package proj

import (
	"regexp"
	"strconv"
	"strings"
)

// wktByEPSG holds the well-known-text of every CRS in the registry,
// used for .prj sidecar output.
var wktByEPSG = map[int]string{
	4326:  `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`,
	4171:  `GEOGCS["RGF93",DATUM["Reseau_Geodesique_Francais_1993",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4171"]]`,
	3857:  `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","3857"]]`,
	2154:  `PROJCS["RGF93 / Lambert-93",GEOGCS["RGF93",DATUM["Reseau_Geodesique_Francais_1993",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Lambert_Conformal_Conic_2SP"],PARAMETER["standard_parallel_1",49],PARAMETER["standard_parallel_2",44],PARAMETER["latitude_of_origin",46.5],PARAMETER["central_meridian",3],PARAMETER["false_easting",700000],PARAMETER["false_northing",6600000],UNIT["metre",1],AUTHORITY["EPSG","2154"]]`,
	27700: `PROJCS["OSGB36 / British National Grid",GEOGCS["OSGB36",DATUM["Ordnance_Survey_of_Great_Britain_1936",SPHEROID["Airy 1830",6377563.396,299.3249646]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",49],PARAMETER["central_meridian",-2],PARAMETER["scale_factor",0.9996012717],PARAMETER["false_easting",400000],PARAMETER["false_northing",-100000],UNIT["metre",1],AUTHORITY["EPSG","27700"]]`,
	25831: `PROJCS["ETRS89 / UTM zone 31N",GEOGCS["ETRS89",DATUM["European_Terrestrial_Reference_System_1989",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",3],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","25831"]]`,
	25832: `PROJCS["ETRS89 / UTM zone 32N",GEOGCS["ETRS89",DATUM["European_Terrestrial_Reference_System_1989",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",9],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","25832"]]`,
	32631: `PROJCS["WGS 84 / UTM zone 31N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",3],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","32631"]]`,
	32632: `PROJCS["WGS 84 / UTM zone 32N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",9],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","32632"]]`,
}

// WKT returns the well-known-text of a registered EPSG code.
func WKT(epsg int) (string, bool) {
	wkt, ok := wktByEPSG[epsg]
	return wkt, ok
}

var authorityRe = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)

// wktSignatures maps substrings of projection/datum names to EPSG
// codes, for .prj files that carry no authority clause (common with
// ESRI-flavoured WKT).
var wktSignatures = []struct {
	epsg  int
	needs []string
}{
	{2154, []string{"lambert", "93"}},
	{2154, []string{"lambert_conformal_conic", "rgf"}},
	{27700, []string{"british national grid"}},
	{27700, []string{"osgb"}},
	{3857, []string{"pseudo-mercator"}},
	{3857, []string{"web_mercator"}},
	{25831, []string{"etrs", "31"}},
	{25832, []string{"etrs", "32"}},
	{32631, []string{"wgs", "utm", "31"}},
	{32632, []string{"wgs", "utm", "32"}},
	{4171, []string{"rgf93"}},
	{4326, []string{"wgs", "84"}},
}

// EPSGFromWKT resolves an EPSG code from a well-known-text string,
// returning 0 when no code can be identified.
func EPSGFromWKT(wkt string) int {
	// the outermost AUTHORITY clause is the last one in OGC WKT
	matches := authorityRe.FindAllStringSubmatch(wkt, -1)
	if len(matches) > 0 {
		code, err := strconv.Atoi(matches[len(matches)-1][1])
		if err == nil && Supported(code) {
			return code
		}
	}

	lower := strings.ToLower(wkt)
	for _, sig := range wktSignatures {
		found := true
		for _, need := range sig.needs {
			if !strings.Contains(lower, need) {
				found = false
				break
			}
		}
		if found {
			// geographic signatures must not shadow projected ones
			if (sig.epsg == 4326 || sig.epsg == 4171) && strings.Contains(lower, "projcs") {
				continue
			}
			return sig.epsg
		}
	}
	return 0
}
