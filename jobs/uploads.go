// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

package jobs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"geoconvert.io/geoconvert/console"
)

// allowedExtensions lists what an upload may be named, lowercased
// without the dot.
var allowedExtensions = map[string]bool{
	"shp": true, "geojson": true, "json": true, "gpkg": true,
	"kml": true, "kmz": true, "dxf": true, "csv": true,
	"zip": true, "fgb": true,
}

// magicBytes maps extensions to the content prefix they must carry.
// Extensions without an entry are accepted on name alone.
var magicBytes = map[string][]byte{
	"zip":  []byte("PK\x03\x04"),
	"kmz":  []byte("PK\x03\x04"),
	"gpkg": []byte("SQLite format 3"),
	"kml":  []byte("<?xml"),
}

// extensionFormats maps upload extensions to the format tag reported
// back to the client.
var extensionFormats = map[string]string{
	"shp": "ESRI Shapefile", "geojson": "GeoJSON", "json": "GeoJSON",
	"gpkg": "GPKG", "kml": "KML", "kmz": "KML", "dxf": "DXF",
	"csv": "CSV", "zip": "ZIP", "fgb": "FlatGeobuf",
}

// Upload is the receipt of a stored input blob.
type Upload struct {
	ID             uuid.UUID
	Filename       string
	Size           int64
	StoragePath    string
	SHA256         string
	DetectedFormat string
}

// Upload validates and stores an input payload under the uploads
// folder, enforcing the plan size limit and content checks.
func (service *Service) Upload(ctx context.Context, userID uuid.UUID, filename string, content []byte) (_ *Upload, err error) {
	defer mon.Task()(&ctx)(&err)

	sub, err := service.db.Subscriptions().Get(ctx, userID)
	plan := console.PlanFree
	if err == nil {
		plan = sub.Plan
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !allowedExtensions[ext] {
		return nil, ErrInvalidInput.New("extension %q is not allowed", ext)
	}
	if len(content) == 0 {
		return nil, ErrInvalidInput.New("uploaded file is empty")
	}
	if limit := plan.UploadLimit(); int64(len(content)) > limit {
		return nil, ErrSizeLimit.New("file exceeds the %d MiB plan limit", limit>>20)
	}
	if magic, ok := magicBytes[ext]; ok && !bytes.HasPrefix(content, magic) {
		return nil, ErrInvalidInput.New("file content does not match its extension")
	}
	// geojson must at least open a JSON value
	if (ext == "geojson" || ext == "json") && !bytes.HasPrefix(bytes.TrimLeft(content, " \t\r\n"), []byte("{")) {
		return nil, ErrInvalidInput.New("file content does not match its extension")
	}

	digest := sha256.Sum256(content)
	uploadID := uuid.New()
	safeName := uploadID.String() + "_" + filepath.Base(filename)

	storagePath, err := service.store.Save(ctx, content, safeName, "uploads")
	if err != nil {
		return nil, Error.Wrap(err)
	}

	service.log.Info("upload stored",
		zap.Stringer("user_id", userID),
		zap.String("path", storagePath),
		zap.Int("size", len(content)))

	return &Upload{
		ID:             uploadID,
		Filename:       filename,
		Size:           int64(len(content)),
		StoragePath:    storagePath,
		SHA256:         hex.EncodeToString(digest[:]),
		DetectedFormat: extensionFormats[ext],
	}, nil
}
