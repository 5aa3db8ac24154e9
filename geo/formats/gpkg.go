// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package formats

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/geo"
	"geoconvert.io/geoconvert/geo/proj"
)

const gpkgApplicationID = 0x47504B47 // "GPKG"

// readGPKG loads the first feature table of a GeoPackage.
func readGPKG(path string) (_ *geo.Dataset, err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	var table, geomColumn string
	var srsID int
	err = db.QueryRow(`
		SELECT c.table_name, g.column_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
		LIMIT 1
	`).Scan(&table, &geomColumn, &srsID)
	if err != nil {
		return nil, errs.New("not a feature geopackage: %w", err)
	}

	ds := &geo.Dataset{}
	if proj.Supported(srsID) {
		ds.EPSG = srsID
	}

	columns, err := gpkgColumns(db, table, geomColumn)
	if err != nil {
		return nil, err
	}
	for _, col := range columns {
		ds.Fields = append(ds.Fields, geo.Field{Name: col.name, Type: col.fieldType})
	}

	names := make([]string, 0, len(columns)+1)
	names = append(names, quoteIdent(geomColumn))
	for _, col := range columns {
		names = append(names, quoteIdent(col.name))
	}

	rows, err := db.Query(fmt.Sprintf(`SELECT %s FROM %s`, strings.Join(names, ", "), quoteIdent(table)))
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	for rows.Next() {
		scan := make([]interface{}, len(names))
		var blob []byte
		scan[0] = &blob
		raws := make([]interface{}, len(columns))
		for i := range raws {
			scan[i+1] = &raws[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, errs.Wrap(err)
		}

		feature := geo.Feature{Values: make([]interface{}, len(columns))}
		if g, err := decodeGpkgBlob(blob); err == nil {
			feature.Geometry = g
		}
		for i, raw := range raws {
			feature.Values[i] = sqliteValue(raw, columns[i].fieldType)
		}
		ds.Features = append(ds.Features, feature)
	}
	return ds, errs.Wrap(rows.Err())
}

type gpkgColumn struct {
	name      string
	fieldType geo.FieldType
}

func gpkgColumns(db *sql.DB, table, geomColumn string) (_ []gpkgColumn, err error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var columns []gpkgColumn
	for rows.Next() {
		var cid int
		var name, declared string
		var notNull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &declared, &notNull, &dflt, &pk); err != nil {
			return nil, errs.Wrap(err)
		}
		if name == geomColumn || (pk == 1 && strings.EqualFold(name, "fid")) {
			continue
		}
		columns = append(columns, gpkgColumn{name: name, fieldType: declaredFieldType(declared)})
	}
	return columns, errs.Wrap(rows.Err())
}

func declaredFieldType(declared string) geo.FieldType {
	declared = strings.ToUpper(declared)
	switch {
	case strings.Contains(declared, "INT"), strings.Contains(declared, "REAL"),
		strings.Contains(declared, "FLOA"), strings.Contains(declared, "DOUB"):
		return geo.TypeReal
	case strings.Contains(declared, "DATE"), strings.Contains(declared, "TIME"):
		return geo.TypeTimestamp
	default:
		return geo.TypeString
	}
}

func sqliteValue(raw interface{}, t geo.FieldType) interface{} {
	switch raw := raw.(type) {
	case nil:
		return nil
	case int64:
		return float64(raw)
	case float64:
		return raw
	case time.Time:
		return raw
	case []byte:
		return coerceText(string(raw), t)
	case string:
		return coerceText(raw, t)
	default:
		return nil
	}
}

func coerceText(s string, t geo.FieldType) interface{} {
	if t == geo.TypeTimestamp {
		for _, layout := range []string{time.RFC3339, timestampLayout, "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts
			}
		}
		return nil
	}
	return s
}

// decodeGpkgBlob strips the GeoPackage binary header and decodes the
// WKB payload.
func decodeGpkgBlob(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, errs.New("not a geopackage geometry blob")
	}
	flags := blob[3]
	if flags&0x20 != 0 {
		return nil, errs.New("empty geometry")
	}
	offset := 8
	switch (flags >> 1) & 0x07 {
	case 0:
	case 1:
		offset += 32
	case 2, 3:
		offset += 48
	case 4:
		offset += 64
	default:
		return nil, errs.New("invalid envelope contents indicator")
	}
	if len(blob) < offset {
		return nil, errs.New("truncated geometry blob")
	}
	return wkb.Unmarshal(blob[offset:])
}

// encodeGpkgBlob wraps WKB in the GeoPackage binary header: no
// envelope, little-endian byte order, the layer's srs id.
func encodeGpkgBlob(g orb.Geometry, srsID int) ([]byte, error) {
	payload, err := wkb.Marshal(g)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	header := make([]byte, 8)
	header[0], header[1] = 'G', 'P'
	header[2] = 0    // version
	header[3] = 0x01 // little-endian, no envelope
	binary.LittleEndian.PutUint32(header[4:], uint32(int32(srsID)))
	return append(header, payload...), nil
}

// writeGPKG writes a single feature table GeoPackage.
func writeGPKG(ds *geo.Dataset, path string) (err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, db.Close()) }()

	table := layerName(path)
	srsID := ds.EPSG
	if srsID == 0 {
		srsID = -1 // undefined cartesian per the geopackage spec
	}

	statements := []string{
		fmt.Sprintf(`PRAGMA application_id = %d`, gpkgApplicationID),
		`PRAGMA user_version = 10300`,
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES
			('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', NULL),
			('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', NULL)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return errs.Wrap(err)
		}
	}

	if srsID > 0 {
		wkt, ok := proj.WKT(srsID)
		if !ok {
			wkt = "undefined"
		}
		_, err = db.Exec(
			`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, 'EPSG', ?, ?, NULL)`,
			fmt.Sprintf("EPSG:%d", srsID), srsID, srsID, wkt)
		if err != nil {
			return errs.Wrap(err)
		}
	}

	columns := []string{`fid INTEGER PRIMARY KEY AUTOINCREMENT`, `geom BLOB`}
	for _, field := range ds.Fields {
		columns = append(columns, quoteIdent(field.Name)+" "+sqliteType(field.Type))
	}
	_, err = db.Exec(fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(table), strings.Join(columns, ", ")))
	if err != nil {
		return errs.Wrap(err)
	}

	geomType := "GEOMETRY"
	var minX, minY, maxX, maxY interface{}
	if bound, ok := ds.Bound(); ok {
		minX, minY, maxX, maxY = bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]
	}
	_, err = db.Exec(
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id)
		 VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		table, table, minX, minY, maxX, maxY, srsID)
	if err != nil {
		return errs.Wrap(err)
	}
	_, err = db.Exec(
		`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', ?, ?, 0, 0)`,
		table, geomType, srsID)
	if err != nil {
		return errs.Wrap(err)
	}

	tx, err := db.Begin()
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, tx.Rollback())
		}
	}()

	placeholders := make([]string, 0, len(ds.Fields)+1)
	names := []string{"geom"}
	placeholders = append(placeholders, "?")
	for _, field := range ds.Fields {
		names = append(names, quoteIdent(field.Name))
		placeholders = append(placeholders, "?")
	}
	insert, err := tx.Prepare(fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(table), strings.Join(names, ", "), strings.Join(placeholders, ", ")))
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() { err = errs.Combine(err, insert.Close()) }()

	for _, feature := range ds.Features {
		args := make([]interface{}, 0, len(ds.Fields)+1)
		if feature.Geometry != nil {
			blob, err := encodeGpkgBlob(feature.Geometry, srsID)
			if err != nil {
				return err
			}
			args = append(args, blob)
		} else {
			args = append(args, nil)
		}
		for col := range ds.Fields {
			args = append(args, sqliteArg(feature.Value(col)))
		}
		if _, err := insert.Exec(args...); err != nil {
			return errs.Wrap(err)
		}
	}
	return errs.Wrap(tx.Commit())
}

func sqliteType(t geo.FieldType) string {
	switch t {
	case geo.TypeReal:
		return "DOUBLE"
	case geo.TypeTimestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func sqliteArg(v interface{}) interface{} {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(time.RFC3339)
	}
	return v
}

func layerName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, stem)
	if cleaned == "" {
		return "layer"
	}
	return cleaned
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
