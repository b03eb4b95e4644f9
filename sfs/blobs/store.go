// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package blobs keeps object versions and multipart parts as plain files.
package blobs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/memory"
	"storj.io/common/uuid"
)

var (
	// Error is the default blobs error class.
	Error = errs.Class("blobs")

	mon = monkit.Package()
)

// Config is configuration for the blob store.
type Config struct {
	Dir       string `help:"directory holding object data" default:"$CONFDIR/data/blobs"`
	ForceSync bool   `help:"if true, force disk synchronization and atomic writes" default:"false"`
}

// Store keeps blobs below a root directory.
type Store struct {
	log    *zap.Logger
	root   string
	config Config
}

// New creates the store root when needed and returns the store.
func New(log *zap.Logger, config Config) (*Store, error) {
	root, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0700); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{log: log, root: root, config: config}, nil
}

// Root returns the store root.
func (store *Store) Root() string { return store.root }

// Path returns the absolute path of a blob.
func (store *Store) Path(rel string) string { return filepath.Join(store.root, rel) }

// Write stores data under rel. The file becomes visible only when complete.
func (store *Store) Write(ctx context.Context, rel string, data io.Reader) (_ memory.Size, err error) {
	defer mon.Task()(&ctx)(&err)

	path := store.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return 0, Error.Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Join(store.root, "tmp"), "blob-*.partial")
	if err != nil {
		return 0, Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, ignoreNotExist(os.Remove(tmp.Name())))
		}
	}()

	n, err := io.Copy(tmp, data)
	if err != nil {
		return 0, Error.Wrap(errs.Combine(err, tmp.Close()))
	}
	if store.config.ForceSync {
		if err := tmp.Sync(); err != nil {
			return 0, Error.Wrap(errs.Combine(err, tmp.Close()))
		}
	}
	if err := tmp.Close(); err != nil {
		return 0, Error.Wrap(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, Error.Wrap(err)
	}
	return memory.Size(n), nil
}

// Delete removes the blob at rel.
//
// It doesn't return an error if the blob isn't found for any reason.
func (store *Store) Delete(ctx context.Context, rel string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return Error.Wrap(ignoreNotExist(os.Remove(store.Path(rel))))
}

// Exists returns whether the blob at rel exists.
func (store *Store) Exists(ctx context.Context, rel string) (bool, error) {
	_, err := os.Stat(store.Path(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, Error.Wrap(err)
}

// Stats are the counts of blobs in the store.
type Stats struct {
	Versions int64
	Parts    int64
	Bytes    memory.Size
}

// Count walks the store and counts its blobs.
func (store *Store) Count(ctx context.Context) (stats Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	err = filepath.WalkDir(store.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			if path == filepath.Join(store.root, "tmp") {
				return filepath.SkipDir
			}
			return nil
		}

		switch filepath.Ext(path) {
		case versionExt:
			stats.Versions++
		case partExt:
			stats.Parts++
		default:
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		stats.Bytes += memory.Size(info.Size())
		return nil
	})
	return stats, Error.Wrap(err)
}

// WriteVersion stores the data of an object version.
func (store *Store) WriteVersion(ctx context.Context, objectID uuid.UUID, versionID int64, data io.Reader) (memory.Size, error) {
	return store.Write(ctx, VersionPath(objectID, versionID), data)
}

// DeleteVersion removes the data of an object version.
func (store *Store) DeleteVersion(ctx context.Context, objectID uuid.UUID, versionID int64) error {
	return store.Delete(ctx, VersionPath(objectID, versionID))
}

// WritePart stores the data of a multipart part.
func (store *Store) WritePart(ctx context.Context, pathUUID uuid.UUID, partNum int, data io.Reader) (memory.Size, error) {
	return store.Write(ctx, PartPath(pathUUID, partNum), data)
}

// DeletePart removes the data of a multipart part.
func (store *Store) DeletePart(ctx context.Context, pathUUID uuid.UUID, partNum int) error {
	return store.Delete(ctx, PartPath(pathUUID, partNum))
}

func ignoreNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
