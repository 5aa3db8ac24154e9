// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package s3store implements the blob store on an S3-compatible object
// store (AWS S3 or MinIO).
package s3store

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	minio "github.com/minio/minio-go"
	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/storage"
)

var (
	// Error is the default s3store errs class.
	Error = errs.Class("s3store")

	mon = monkit.Package()
)

var _ storage.Store = (*Store)(nil)

// Store is a blob store backed by an S3-compatible object store.
// Paths have the form s3://<bucket>/<key>.
type Store struct {
	client *minio.Client
	bucket string
}

// New creates an object store client from the configuration.
func New(config storage.Config) (*Store, error) {
	client, err := minio.NewWithRegion(
		config.Endpoint, config.AccessKey, config.SecretKey, config.UseSSL, config.Region)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{client: client, bucket: config.Bucket}, nil
}

// Save implements storage.Store. The key embeds a random 128-bit
// identifier so paths cannot collide or be guessed.
func (store *Store) Save(ctx context.Context, data []byte, name, folder string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return "", Error.Wrap(err)
	}
	key := path.Join(folder, hex.EncodeToString(token), path.Base(name))
	return store.put(key, data)
}

// Put implements storage.Store.
func (store *Store) Put(ctx context.Context, data []byte, key string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)
	return store.put(key, data)
}

func (store *Store) put(key string, data []byte) (string, error) {
	_, err := store.client.PutObject(store.bucket, key,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return "", Error.Wrap(err)
	}
	return "s3://" + store.bucket + "/" + key, nil
}

// URL implements storage.Store by returning a presigned URL.
func (store *Store) URL(ctx context.Context, storagePath string, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	bucket, key, err := store.split(storagePath)
	if err != nil {
		return "", err
	}
	presigned, err := store.client.PresignedGetObject(bucket, key, ttl, url.Values{})
	if err != nil {
		return "", Error.Wrap(err)
	}
	return presigned.String(), nil
}

// Read implements storage.Store.
func (store *Store) Read(ctx context.Context, storagePath string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	bucket, key, err := store.split(storagePath)
	if err != nil {
		return nil, err
	}
	object, err := store.client.GetObject(bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, object.Close()) }()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, storage.ErrNotFound.New("%s", storagePath)
		}
		return nil, Error.Wrap(err)
	}
	return data, nil
}

// Stat implements storage.Store.
func (store *Store) Stat(ctx context.Context, storagePath string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	bucket, key, err := store.split(storagePath)
	if err != nil {
		return 0, err
	}
	info, err := store.client.StatObject(bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, storage.ErrNotFound.New("%s", storagePath)
		}
		return 0, Error.Wrap(err)
	}
	return info.Size, nil
}

// Delete implements storage.Store. Absence is not an error.
func (store *Store) Delete(ctx context.Context, storagePath string) (err error) {
	defer mon.Task()(&ctx)(&err)

	bucket, key, err := store.split(storagePath)
	if err != nil {
		return err
	}
	err = store.client.RemoveObject(bucket, key)
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return Error.Wrap(err)
	}
	return nil
}

func (store *Store) split(storagePath string) (bucket, key string, err error) {
	if !strings.HasPrefix(storagePath, "s3://") {
		return "", "", storage.ErrBackendMismatch.New("local path %q on object store backend", storagePath)
	}
	trimmed := strings.TrimPrefix(storagePath, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", Error.New("malformed path %q", storagePath)
	}
	return parts[0], parts[1], nil
}
