// Copyright (C) 2026 GeoConvert SAS.
// See LICENSE for copying information.

// Package filestore implements the local filesystem blob store.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"geoconvert.io/geoconvert/storage"
)

var (
	// Error is the default filestore errs class.
	Error = errs.Class("filestore")

	mon = monkit.Package()
)

var _ storage.Store = (*Store)(nil)

// Store is a blob store on the local filesystem.
//
// Local paths are absolute filesystem paths below the base directory.
// URL returns a pointer at the artifact retrieval endpoint, which
// performs the ownership check itself.
type Store struct {
	dir         string
	downloadURL string
}

// New creates a local blob store rooted at dir.
func New(dir, downloadURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, Error.Wrap(err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{dir: abs, downloadURL: downloadURL}, nil
}

// Save implements storage.Store.
func (store *Store) Save(ctx context.Context, data []byte, name, folder string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return "", Error.Wrap(err)
	}
	key := filepath.Join(folder, hex.EncodeToString(token)+"_"+filepath.Base(name))
	return store.write(key, data)
}

// Put implements storage.Store.
func (store *Store) Put(ctx context.Context, data []byte, key string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)
	return store.write(key, data)
}

func (store *Store) write(key string, data []byte) (string, error) {
	path := filepath.Join(store.dir, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", Error.Wrap(err)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if _, err := file.Write(data); err != nil {
		return "", Error.Wrap(errs.Combine(err, file.Close()))
	}
	if err := file.Sync(); err != nil {
		return "", Error.Wrap(errs.Combine(err, file.Close()))
	}
	if err := file.Close(); err != nil {
		return "", Error.Wrap(err)
	}
	return path, nil
}

// URL implements storage.Store.
func (store *Store) URL(ctx context.Context, path string, ttl time.Duration) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := store.check(path); err != nil {
		return "", err
	}
	return store.downloadURL + "?path=" + url.QueryEscape(path), nil
}

// Read implements storage.Store.
func (store *Store) Read(ctx context.Context, path string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := store.check(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound.New("%s", path)
	}
	return data, Error.Wrap(err)
}

// Stat implements storage.Store.
func (store *Store) Stat(ctx context.Context, path string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := store.check(path); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, storage.ErrNotFound.New("%s", path)
	}
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return info.Size(), nil
}

// Delete implements storage.Store.
func (store *Store) Delete(ctx context.Context, path string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := store.check(path); err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return Error.Wrap(err)
}

func (store *Store) check(path string) error {
	if strings.HasPrefix(path, "s3://") {
		return storage.ErrBackendMismatch.New("object store path %q on local backend", path)
	}
	if !strings.HasPrefix(filepath.Clean(path), store.dir) {
		return storage.ErrBackendMismatch.New("path %q outside base directory", path)
	}
	return nil
}
