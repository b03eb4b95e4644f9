// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package gc_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/sfs/sfs/blobs"
	"storj.io/sfs/sfs/gc"
	"storj.io/sfs/sfs/sfsdb"
	"storj.io/sfs/sfs/sfsdb/sfsdbtest"
)

type env struct {
	ctx     *testcontext.Context
	t       *testing.T
	db      *sfsdb.DB
	store   *blobs.Store
	service *gc.Service
}

func run(t *testing.T, config gc.Config, test func(env *env)) {
	sfsdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB) {
		store, err := blobs.New(zaptest.NewLogger(t), blobs.Config{Dir: ctx.Dir("blobs")})
		require.NoError(t, err)

		service := gc.NewService(zaptest.NewLogger(t), db, store, config)
		defer ctx.Check(service.Close)

		test(&env{ctx: ctx, t: t, db: db, store: store, service: service})
	})
}

func defaultConfig() gc.Config {
	return gc.Config{
		Enabled:                true,
		Interval:               time.Hour,
		MaxObjectsPerIteration: 1000,
	}
}

// version creates a committed version together with its file.
func (env *env) version(object sfsdb.Object, typ sfsdb.VersionType) sfsdb.Version {
	version := sfsdbtest.CreateVersion(env.ctx, env.t, env.db, object.UUID, typ, 64)
	if version.HasFile() {
		_, err := env.store.WriteVersion(env.ctx, object.UUID, version.ID, bytes.NewReader(testrand.BytesInt(64)))
		require.NoError(env.t, err)
	}
	return version
}

// upload creates an upload with the given number of parts and their files.
func (env *env) upload(bucketID string, state sfsdb.MultipartState, parts int) sfsdb.Multipart {
	upload := sfsdbtest.CreateMultipart(env.ctx, env.t, env.db, bucketID, state)
	for num := 1; num <= parts; num++ {
		sfsdbtest.AddPart(env.ctx, env.t, env.db, upload.UploadID, num, 32)
		_, err := env.store.WritePart(env.ctx, upload.PathUUID, num, bytes.NewReader(testrand.BytesInt(32)))
		require.NoError(env.t, err)
	}
	return upload
}

// populate fills a bucket with objects holding a regular version and a
// delete marker, and with one upload per multipart state.
func (env *env) populate(bucketID string, objects int) {
	sfsdbtest.CreateBucket(env.ctx, env.t, env.db, bucketID)
	for i := 0; i < objects; i++ {
		object := sfsdbtest.CreateObject(env.ctx, env.t, env.db, bucketID, testrand.UUID().String())
		env.version(object, sfsdb.VersionRegular)
		env.version(object, sfsdb.VersionDeleteMarker)
	}
	for state := sfsdb.MultipartNone; state <= sfsdb.MultipartAborted; state++ {
		env.upload(bucketID, state, 2)
	}
}

// block puts a non-empty directory at rel, so the file cannot be removed.
func (env *env) block(rel string) {
	path := env.store.Path(rel)
	require.NoError(env.t, os.RemoveAll(path))
	require.NoError(env.t, os.MkdirAll(path, 0700))
	require.NoError(env.t, os.WriteFile(filepath.Join(path, "stuck"), nil, 0600))
}

func (env *env) files() blobs.Stats {
	stats, err := env.store.Count(env.ctx)
	require.NoError(env.t, err)
	return stats
}

func (env *env) process() gc.Stats {
	stats, err := env.service.Process(env.ctx)
	require.NoError(env.t, err)
	return stats
}

func TestProcess_DeletedBucket(t *testing.T) {
	run(t, defaultConfig(), func(env *env) {
		ctx, db := env.ctx, env.db

		env.populate("gone", 5)
		env.populate("live", 3)
		require.Equal(t, blobs.Stats{Versions: 8, Parts: 28, Bytes: 8*64 + 28*32}, env.files())

		require.NoError(t, db.MarkBucketDeleted(ctx, "gone"))

		stats := env.process()
		require.Equal(t, gc.PhaseFinished, stats.Exit)
		require.EqualValues(t, 1, stats.BucketsDeleted)
		require.EqualValues(t, 5, stats.ObjectsDeleted)
		require.EqualValues(t, 10, stats.VersionsDeleted)
		// the live bucket loses its done and aborted uploads
		require.EqualValues(t, 7+2, stats.MultipartsDeleted)
		require.EqualValues(t, 14+4, stats.PartsDeleted)
		require.EqualValues(t, 2, stats.MultipartsAborted)
		require.Zero(t, stats.FileDeleteFailures)

		_, err := db.GetBucket(ctx, "gone")
		require.True(t, sfsdb.ErrNotFound.Has(err))

		require.Equal(t, blobs.Stats{Versions: 3, Parts: 10, Bytes: 3*64 + 10*32}, env.files())
		objects, err := db.CountObjects(ctx, "live")
		require.NoError(t, err)
		require.EqualValues(t, 3, objects)
		uploads, err := db.CountMultiparts(ctx, "live")
		require.NoError(t, err)
		require.EqualValues(t, 5, uploads)

		last, ok := env.service.LastStats()
		require.True(t, ok)
		require.Equal(t, stats, last)

		// nothing left to do
		stats = env.process()
		require.False(t, stats.Removed())
	})
}

func TestProcess_DeletedVersions(t *testing.T) {
	run(t, defaultConfig(), func(env *env) {
		ctx, db := env.ctx, env.db
		sfsdbtest.CreateBucket(ctx, t, db, "bucket")

		sole := sfsdbtest.CreateObject(ctx, t, db, "bucket", "sole")
		soleVersion := env.version(sole, sfsdb.VersionRegular)
		require.NoError(t, db.SetVersionState(ctx, soleVersion.ID, sfsdb.ObjectDeleted))

		shared := sfsdbtest.CreateObject(ctx, t, db, "bucket", "shared")
		kept := env.version(shared, sfsdb.VersionRegular)
		removed := env.version(shared, sfsdb.VersionRegular)
		require.NoError(t, db.SetVersionState(ctx, removed.ID, sfsdb.ObjectDeleted))

		marked := sfsdbtest.CreateObject(ctx, t, db, "bucket", "marked")
		marker := env.version(marked, sfsdb.VersionDeleteMarker)

		// files exist only for regular versions
		require.EqualValues(t, 3, env.files().Versions)

		stats := env.process()
		require.EqualValues(t, 2, stats.VersionsDeleted)
		require.EqualValues(t, 1, stats.ObjectsDeleted)
		require.Zero(t, stats.BucketsDeleted)

		_, err := db.GetObject(ctx, sole.UUID)
		require.True(t, sfsdb.ErrNotFound.Has(err))
		_, err = db.GetVersion(ctx, soleVersion.ID)
		require.True(t, sfsdb.ErrNotFound.Has(err))
		_, err = db.GetVersion(ctx, removed.ID)
		require.True(t, sfsdb.ErrNotFound.Has(err))

		_, err = db.GetVersion(ctx, kept.ID)
		require.NoError(t, err)
		_, err = db.GetVersion(ctx, marker.ID)
		require.NoError(t, err)

		exists, err := env.store.Exists(ctx, blobs.VersionPath(shared.UUID, kept.ID))
		require.NoError(t, err)
		require.True(t, exists)
		exists, err = env.store.Exists(ctx, blobs.VersionPath(shared.UUID, removed.ID))
		require.NoError(t, err)
		require.False(t, exists)

		require.EqualValues(t, 1, env.files().Versions)
	})
}

func TestProcess_DeletedMarkerWithoutFile(t *testing.T) {
	run(t, defaultConfig(), func(env *env) {
		ctx, db := env.ctx, env.db
		sfsdbtest.CreateBucket(ctx, t, db, "bucket")

		object := sfsdbtest.CreateObject(ctx, t, db, "bucket", "object")
		marker := env.version(object, sfsdb.VersionDeleteMarker)
		require.NoError(t, db.SetVersionState(ctx, marker.ID, sfsdb.ObjectDeleted))

		stats := env.process()
		require.EqualValues(t, 1, stats.VersionsDeleted)
		require.EqualValues(t, 1, stats.ObjectsDeleted)
		require.Zero(t, stats.FileDeleteFailures)
	})
}

func TestProcess_TerminalMultiparts(t *testing.T) {
	run(t, defaultConfig(), func(env *env) {
		ctx, db := env.ctx, env.db
		sfsdbtest.CreateBucket(ctx, t, db, "bucket")

		kept := map[sfsdb.MultipartState]sfsdb.Multipart{}
		for _, state := range []sfsdb.MultipartState{
			sfsdb.MultipartInit, sfsdb.MultipartInProgress,
			sfsdb.MultipartComplete, sfsdb.MultipartAggregating,
		} {
			kept[state] = env.upload("bucket", state, 3)
		}
		done := env.upload("bucket", sfsdb.MultipartDone, 3)
		aborted := env.upload("bucket", sfsdb.MultipartAborted, 2)
		empty := env.upload("bucket", sfsdb.MultipartDone, 0)

		stats := env.process()
		require.EqualValues(t, 3, stats.MultipartsDeleted)
		require.EqualValues(t, 5, stats.PartsDeleted)
		require.Zero(t, stats.MultipartsAborted)

		for _, upload := range []sfsdb.Multipart{done, aborted, empty} {
			_, err := db.GetMultipart(ctx, upload.UploadID)
			require.True(t, sfsdb.ErrNotFound.Has(err))
		}
		for state, upload := range kept {
			got, err := db.GetMultipart(ctx, upload.UploadID)
			require.NoError(t, err)
			require.Equal(t, state, got.State)

			parts, err := db.ListParts(ctx, upload.UploadID, 10)
			require.NoError(t, err)
			require.Len(t, parts, 3)
		}
		require.EqualValues(t, 12, env.files().Parts)
	})
}

func TestProcess_MaxObjectsPerIteration(t *testing.T) {
	config := defaultConfig()
	config.MaxObjectsPerIteration = 2

	run(t, config, func(env *env) {
		ctx, db := env.ctx, env.db
		sfsdbtest.CreateBucket(ctx, t, db, "bucket")
		for i := 0; i < 5; i++ {
			object := sfsdbtest.CreateObject(ctx, t, db, "bucket", testrand.UUID().String())
			env.version(object, sfsdb.VersionRegular)
		}
		require.NoError(t, db.MarkBucketDeleted(ctx, "bucket"))

		for _, left := range []int64{3, 1} {
			stats := env.process()
			require.Zero(t, stats.BucketsDeleted)
			require.EqualValues(t, 2, stats.ObjectsDeleted)

			count, err := db.CountObjects(ctx, "bucket")
			require.NoError(t, err)
			require.Equal(t, left, count)
			require.Equal(t, left, env.files().Versions)
		}

		stats := env.process()
		require.EqualValues(t, 1, stats.ObjectsDeleted)
		require.EqualValues(t, 1, stats.BucketsDeleted)
		require.Equal(t, blobs.Stats{}, env.files())
	})
}

func TestProcess_MaxProcessTime(t *testing.T) {
	config := defaultConfig()
	config.MaxProcessTime = time.Nanosecond

	run(t, config, func(env *env) {
		ctx, db := env.ctx, env.db
		env.populate("bucket", 2)
		require.NoError(t, db.MarkBucketDeleted(ctx, "bucket"))

		stats := env.process()
		require.Equal(t, gc.PhaseDeletedBuckets, stats.Exit)
		require.False(t, stats.Removed())

		_, err := db.GetBucket(ctx, "bucket")
		require.NoError(t, err)
	})
}

func TestProcess_FileDeleteFailure(t *testing.T) {
	run(t, defaultConfig(), func(env *env) {
		ctx, db := env.ctx, env.db
		sfsdbtest.CreateBucket(ctx, t, db, "bucket")

		object := sfsdbtest.CreateObject(ctx, t, db, "bucket", "object")
		version := sfsdbtest.CreateVersion(ctx, t, db, object.UUID, sfsdb.VersionRegular, 64)
		require.NoError(t, db.SetVersionState(ctx, version.ID, sfsdb.ObjectDeleted))

		env.block(blobs.VersionPath(object.UUID, version.ID))
		blocker := env.store.Path(blobs.VersionPath(object.UUID, version.ID))

		stats := env.process()
		require.EqualValues(t, 1, stats.FileDeleteFailures)
		require.Zero(t, stats.VersionsDeleted)
		require.Equal(t, gc.PhaseFinished, stats.Exit)

		_, err := db.GetVersion(ctx, version.ID)
		require.NoError(t, err)

		require.NoError(t, os.RemoveAll(blocker))

		stats = env.process()
		require.Zero(t, stats.FileDeleteFailures)
		require.EqualValues(t, 1, stats.VersionsDeleted)
		require.EqualValues(t, 1, stats.ObjectsDeleted)
	})
}

func TestProcess_FailuresDoNotStarveVersions(t *testing.T) {
	config := defaultConfig()
	config.MaxObjectsPerIteration = 2

	run(t, config, func(env *env) {
		ctx, db := env.ctx, env.db
		sfsdbtest.CreateBucket(ctx, t, db, "bucket")

		var blocked []sfsdb.Version
		for i := 0; i < 2; i++ {
			object := sfsdbtest.CreateObject(ctx, t, db, "bucket", fmt.Sprintf("blocked-%d", i))
			version := sfsdbtest.CreateVersion(ctx, t, db, object.UUID, sfsdb.VersionRegular, 100)
			require.NoError(t, db.SetVersionState(ctx, version.ID, sfsdb.ObjectDeleted))
			env.block(blobs.VersionPath(object.UUID, version.ID))
			blocked = append(blocked, version)
		}

		// smaller than the blocked versions, so it is listed after them
		free := sfsdbtest.CreateObject(ctx, t, db, "bucket", "free")
		freeVersion := sfsdbtest.CreateVersion(ctx, t, db, free.UUID, sfsdb.VersionRegular, 10)
		_, err := env.store.WriteVersion(ctx, free.UUID, freeVersion.ID, bytes.NewReader(testrand.BytesInt(10)))
		require.NoError(t, err)
		require.NoError(t, db.SetVersionState(ctx, freeVersion.ID, sfsdb.ObjectDeleted))

		stats := env.process()
		require.Equal(t, gc.PhaseFinished, stats.Exit)
		require.EqualValues(t, 2, stats.FileDeleteFailures)
		require.EqualValues(t, 1, stats.VersionsDeleted)
		require.EqualValues(t, 1, stats.ObjectsDeleted)

		_, err = db.GetVersion(ctx, freeVersion.ID)
		require.True(t, sfsdb.ErrNotFound.Has(err))
		for _, version := range blocked {
			_, err := db.GetVersion(ctx, version.ID)
			require.NoError(t, err)
		}
	})
}

func TestProcess_FailuresDoNotStarveMultiparts(t *testing.T) {
	config := defaultConfig()
	config.MaxObjectsPerIteration = 2

	run(t, config, func(env *env) {
		ctx, db := env.ctx, env.db
		sfsdbtest.CreateBucket(ctx, t, db, "bucket")

		var blocked []sfsdb.Multipart
		for i := 0; i < 2; i++ {
			upload := env.upload("bucket", sfsdb.MultipartAborted, 1)
			env.block(blobs.PartPath(upload.PathUUID, 1))
			blocked = append(blocked, upload)
		}
		free := env.upload("bucket", sfsdb.MultipartDone, 3)

		stats := env.process()
		require.EqualValues(t, 2, stats.FileDeleteFailures)
		require.EqualValues(t, 1, stats.MultipartsDeleted)
		require.EqualValues(t, 3, stats.PartsDeleted)

		_, err := db.GetMultipart(ctx, free.UploadID)
		require.True(t, sfsdb.ErrNotFound.Has(err))
		for _, upload := range blocked {
			_, err := db.GetMultipart(ctx, upload.UploadID)
			require.NoError(t, err)
		}
	})
}

func TestConcurrentVersions_FileCount(t *testing.T) {
	run(t, defaultConfig(), func(env *env) {
		ctx, db, store := env.ctx, env.db, env.store
		sfsdbtest.CreateBucket(ctx, t, db, "bucket")

		const workers, perWorker = 8, 25
		data := testrand.BytesInt(64)

		var group errgroup.Group
		results := make([][]sfsdb.Version, workers)
		for i := 0; i < workers; i++ {
			i := i
			group.Go(func() error {
				workerCtx := sfsdb.WithWorker(ctx, fmt.Sprintf("writer-%d", i))
				object := sfsdb.Object{
					UUID:     testrand.UUID(),
					BucketID: "bucket",
					Name:     fmt.Sprintf("object-%d", i),
				}
				if err := db.CreateObject(workerCtx, object); err != nil {
					return err
				}

				for k := 0; k < perWorker; k++ {
					version := sfsdb.Version{
						ObjectID:   object.UUID,
						VersionID:  testrand.UUID().String(),
						State:      sfsdb.ObjectCommitted,
						Size:       int64(len(data)),
						CommitTime: time.Now(),
					}
					if k%5 == 4 {
						version.Type = sfsdb.VersionDeleteMarker
						version.Size = 0
					}

					id, err := db.CreateVersion(workerCtx, version)
					if err != nil {
						return err
					}
					version.ID = id

					if version.HasFile() {
						if _, err := store.WriteVersion(workerCtx, object.UUID, id, bytes.NewReader(data)); err != nil {
							return err
						}
					}
					results[i] = append(results[i], version)
				}
				return nil
			})
		}
		require.NoError(t, group.Wait())

		const markers = workers * perWorker / 5
		require.EqualValues(t, workers*perWorker-markers, env.files().Versions)

		// nothing committed is reclaimed
		stats := env.process()
		require.False(t, stats.Removed())

		for _, versions := range results {
			for _, version := range versions {
				require.NoError(t, db.SetVersionState(ctx, version.ID, sfsdb.ObjectDeleted))
			}
		}

		stats = env.process()
		require.EqualValues(t, workers*perWorker, stats.VersionsDeleted)
		require.EqualValues(t, workers, stats.ObjectsDeleted)
		require.Zero(t, stats.FileDeleteFailures)
		require.Equal(t, blobs.Stats{}, env.files())
	})
}

func TestService_Suspend(t *testing.T) {
	config := defaultConfig()
	config.Enabled = false

	run(t, config, func(env *env) {
		ctx, db, service := env.ctx, env.db, env.service
		require.True(t, service.Suspended())

		env.populate("bucket", 1)
		require.NoError(t, db.MarkBucketDeleted(ctx, "bucket"))

		ctx.Go(func() error {
			return service.Run(ctx)
		})

		service.Loop.TriggerWait()
		_, err := db.GetBucket(ctx, "bucket")
		require.NoError(t, err)
		_, ok := service.LastStats()
		require.False(t, ok)

		service.Resume()
		require.False(t, service.Suspended())

		service.Loop.TriggerWait()
		_, err = db.GetBucket(ctx, "bucket")
		require.True(t, sfsdb.ErrNotFound.Has(err))

		stats, ok := service.LastStats()
		require.True(t, ok)
		require.EqualValues(t, 1, stats.BucketsDeleted)

		service.Suspend()
		require.True(t, service.Suspended())
	})
}
