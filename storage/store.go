// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package storage defines the blob store boundary shared by the upload
// path, the conversion workers and artifact retrieval.
package storage

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the default storage errs class.
	Error = errs.Class("storage")
	// ErrNotFound is returned when a blob does not exist.
	ErrNotFound = errs.Class("blob not found")
	// ErrBackendMismatch is returned when a path belongs to a different
	// backend than the configured one.
	ErrBackendMismatch = errs.Class("backend mismatch")
)

// Store is the uniform blob store contract.
//
// Paths returned by Save and Put are opaque; the path alone carries no
// authority and ownership is enforced by artifact retrieval.
type Store interface {
	// Save writes data durably and returns its storage path. The path
	// embeds a random 128-bit identifier so it cannot be guessed and
	// cannot collide.
	Save(ctx context.Context, data []byte, name, folder string) (path string, err error)
	// Put writes data durably under a caller-chosen key. Writing the
	// same key twice overwrites, which makes job-keyed output paths
	// safe to retry.
	Put(ctx context.Context, data []byte, key string) (path string, err error)
	// URL returns a download URL for the blob valid for ttl.
	URL(ctx context.Context, path string, ttl time.Duration) (string, error)
	// Read returns the blob contents.
	Read(ctx context.Context, path string) ([]byte, error)
	// Stat returns the blob size, or ErrNotFound.
	Stat(ctx context.Context, path string) (int64, error)
	// Delete removes the blob. Absence is not an error.
	Delete(ctx context.Context, path string) error
}

// Config is the backend selection and its settings.
type Config struct {
	Backend string `help:"storage backend: local | s3 | minio" default:"local"`

	Dir         string `help:"base directory for the local backend" default:"/var/lib/geoconvert"`
	DownloadURL string `help:"base URL of the artifact retrieval endpoint used for local blobs" default:"/api/v1/download/file"`

	Endpoint  string `help:"S3-compatible endpoint" default:"s3.amazonaws.com"`
	Bucket    string `help:"bucket for uploaded and converted blobs" default:"geoconvert"`
	AccessKey string `help:"S3 access key" default:""`
	SecretKey string `help:"S3 secret key" default:""`
	Region    string `help:"S3 region" default:"eu-west-3"`
	UseSSL    bool   `help:"use TLS towards the S3 endpoint" default:"true"`
}
