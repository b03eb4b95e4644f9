// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/sfs/private/dbutil/sqliteutil"
	"storj.io/sfs/sfs/sfsdb"
	"storj.io/sfs/sfs/sfsdb/sfsdbtest"
)

func TestBuckets(t *testing.T) {
	sfsdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB) {
		bucket := sfsdbtest.CreateBucket(ctx, t, db, "bucket")
		sfsdbtest.CreateBucket(ctx, t, db, "other")

		got, err := db.GetBucket(ctx, bucket.ID)
		require.NoError(t, err)
		require.Equal(t, bucket.Name, got.Name)
		require.False(t, got.Deleted)
		require.WithinDuration(t, bucket.CreatedAt, got.CreatedAt, 0)

		_, err = db.GetBucket(ctx, "missing")
		require.True(t, sfsdb.ErrNotFound.Has(err))
		require.True(t, sfsdb.ErrNotFound.Has(db.MarkBucketDeleted(ctx, "missing")))

		deleted, err := db.ListDeletedBuckets(ctx)
		require.NoError(t, err)
		require.Empty(t, deleted)

		require.NoError(t, db.MarkBucketDeleted(ctx, bucket.ID))
		deleted, err = db.ListDeletedBuckets(ctx)
		require.NoError(t, err)
		require.Len(t, deleted, 1)
		require.Equal(t, bucket.ID, deleted[0].ID)

		object := sfsdbtest.CreateObject(ctx, t, db, bucket.ID, "object")
		removed, err := db.DeleteBucketIfEmpty(ctx, bucket.ID)
		require.NoError(t, err)
		require.False(t, removed)

		removedVersions, objectDeleted, err := db.DeleteVersions(ctx, object.UUID, nil)
		require.NoError(t, err)
		require.Zero(t, removedVersions)
		require.True(t, objectDeleted)

		removed, err = db.DeleteBucketIfEmpty(ctx, bucket.ID)
		require.NoError(t, err)
		require.True(t, removed)

		_, err = db.GetBucket(ctx, bucket.ID)
		require.True(t, sfsdb.ErrNotFound.Has(err))
	})
}

func TestBuckets_ForeignKeys(t *testing.T) {
	sfsdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB) {
		err := db.CreateBucket(ctx, sfsdb.Bucket{ID: "orphan", Name: "orphan", OwnerID: "nobody"})
		require.Error(t, err)
		require.True(t, sqliteutil.IsConstraint(err))
	})
}

func TestVersions(t *testing.T) {
	sfsdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB) {
		live := sfsdbtest.CreateBucket(ctx, t, db, "live")
		gone := sfsdbtest.CreateBucket(ctx, t, db, "gone")

		object := sfsdbtest.CreateObject(ctx, t, db, live.ID, "object")
		small := sfsdbtest.CreateVersion(ctx, t, db, object.UUID, sfsdb.VersionRegular, 10)
		large := sfsdbtest.CreateVersion(ctx, t, db, object.UUID, sfsdb.VersionRegular, 1000)
		marker := sfsdbtest.CreateVersion(ctx, t, db, object.UUID, sfsdb.VersionDeleteMarker, 0)
		require.True(t, small.HasFile())
		require.False(t, marker.HasFile())

		goneObject := sfsdbtest.CreateObject(ctx, t, db, gone.ID, "object")
		goneVersion := sfsdbtest.CreateVersion(ctx, t, db, goneObject.UUID, sfsdb.VersionRegular, 5000)

		versions, err := db.ListVersions(ctx, object.UUID)
		require.NoError(t, err)
		require.Len(t, versions, 3)
		require.Equal(t, []int64{small.ID, large.ID, marker.ID}, []int64{versions[0].ID, versions[1].ID, versions[2].ID})

		for _, version := range []sfsdb.Version{small, large, goneVersion} {
			require.NoError(t, db.SetVersionState(ctx, version.ID, sfsdb.ObjectDeleted))
		}
		require.NoError(t, db.MarkBucketDeleted(ctx, gone.ID))
		require.True(t, sfsdb.ErrNotFound.Has(db.SetVersionState(ctx, 12345, sfsdb.ObjectDeleted)))

		got, err := db.GetVersion(ctx, small.ID)
		require.NoError(t, err)
		require.Equal(t, sfsdb.ObjectDeleted, got.State)
		require.False(t, got.DeleteTime.IsZero())

		// versions of deleted buckets are left to the bucket sweep.
		deleted, err := db.ListDeletedVersions(ctx, sfsdb.VersionCursor{}, 10)
		require.NoError(t, err)
		require.Len(t, deleted, 2)
		require.Equal(t, large.ID, deleted[0].ID)
		require.Equal(t, small.ID, deleted[1].ID)

		// pages continue after the cursor
		deleted, err = db.ListDeletedVersions(ctx, sfsdb.VersionCursor{}, 1)
		require.NoError(t, err)
		require.Len(t, deleted, 1)
		require.Equal(t, large.ID, deleted[0].ID)

		cursor := sfsdb.VersionCursor{}.Next(deleted[0])
		deleted, err = db.ListDeletedVersions(ctx, cursor, 1)
		require.NoError(t, err)
		require.Len(t, deleted, 1)
		require.Equal(t, small.ID, deleted[0].ID)

		deleted, err = db.ListDeletedVersions(ctx, cursor.Next(deleted[0]), 1)
		require.NoError(t, err)
		require.Empty(t, deleted)

		// rows that are already gone are not counted
		removed, objectDeleted, err := db.DeleteVersions(ctx, object.UUID, []int64{small.ID, large.ID, goneVersion.ID, 12345})
		require.NoError(t, err)
		require.EqualValues(t, 2, removed)
		require.False(t, objectDeleted)

		removed, objectDeleted, err = db.DeleteVersions(ctx, object.UUID, []int64{small.ID, marker.ID})
		require.NoError(t, err)
		require.EqualValues(t, 1, removed)
		require.True(t, objectDeleted)

		_, err = db.GetObject(ctx, object.UUID)
		require.True(t, sfsdb.ErrNotFound.Has(err))
	})
}

func TestMultiparts(t *testing.T) {
	sfsdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB) {
		bucket := sfsdbtest.CreateBucket(ctx, t, db, "bucket")

		states := []sfsdb.MultipartState{
			sfsdb.MultipartInit,
			sfsdb.MultipartInProgress,
			sfsdb.MultipartComplete,
			sfsdb.MultipartAggregating,
			sfsdb.MultipartDone,
			sfsdb.MultipartAborted,
		}
		uploads := map[sfsdb.MultipartState]sfsdb.Multipart{}
		for _, state := range states {
			uploads[state] = sfsdbtest.CreateMultipart(ctx, t, db, bucket.ID, state)
		}

		terminal, err := db.ListTerminalMultiparts(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, terminal, 2)
		for _, upload := range terminal {
			require.True(t, upload.State.Terminal())
		}

		after, err := db.ListTerminalMultiparts(ctx, terminal[0].ID, 10)
		require.NoError(t, err)
		require.Len(t, after, 1)
		require.Equal(t, terminal[1].UploadID, after[0].UploadID)

		all, err := db.ListMultiparts(ctx, bucket.ID, 0, 10)
		require.NoError(t, err)
		require.Len(t, all, len(states))
		rest, err := db.ListMultiparts(ctx, bucket.ID, all[3].ID, 10)
		require.NoError(t, err)
		require.Len(t, rest, len(states)-4)

		done := uploads[sfsdb.MultipartDone]
		part1 := sfsdbtest.AddPart(ctx, t, db, done.UploadID, 1, 100)
		part2 := sfsdbtest.AddPart(ctx, t, db, done.UploadID, 2, 200)

		_, err = db.AddPart(ctx, sfsdb.Part{UploadID: done.UploadID, PartNum: 1})
		require.True(t, sqliteutil.IsConstraint(err))

		parts, err := db.ListParts(ctx, done.UploadID, 10)
		require.NoError(t, err)
		require.Len(t, parts, 2)
		require.Equal(t, 1, parts[0].PartNum)
		require.EqualValues(t, 200, parts[1].Size)

		removed, uploadDeleted, err := db.DeleteParts(ctx, done.UploadID, []int64{part1.ID})
		require.NoError(t, err)
		require.EqualValues(t, 1, removed)
		require.False(t, uploadDeleted)
		removed, uploadDeleted, err = db.DeleteParts(ctx, done.UploadID, []int64{part1.ID, part2.ID})
		require.NoError(t, err)
		require.EqualValues(t, 1, removed)
		require.True(t, uploadDeleted)

		aborted, err := db.AbortMultiparts(ctx, bucket.ID)
		require.NoError(t, err)
		require.EqualValues(t, 2, aborted)

		for _, state := range []sfsdb.MultipartState{sfsdb.MultipartInit, sfsdb.MultipartInProgress} {
			upload, err := db.GetMultipart(ctx, uploads[state].UploadID)
			require.NoError(t, err)
			require.Equal(t, sfsdb.MultipartAborted, upload.State)
		}
		for _, state := range []sfsdb.MultipartState{sfsdb.MultipartComplete, sfsdb.MultipartAggregating} {
			upload, err := db.GetMultipart(ctx, uploads[state].UploadID)
			require.NoError(t, err)
			require.Equal(t, state, upload.State)
		}

		count, err := db.CountMultiparts(ctx, bucket.ID)
		require.NoError(t, err)
		require.EqualValues(t, 5, count)

		require.NoError(t, db.SetMultipartState(ctx, uploads[sfsdb.MultipartComplete].UploadID, sfsdb.MultipartDone))
		require.True(t, sfsdb.ErrNotFound.Has(db.SetMultipartState(ctx, testrand.UUID().String(), sfsdb.MultipartDone)))
	})
}

func TestUsers(t *testing.T) {
	sfsdbtest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB) {
		require.NoError(t, db.CreateUser(ctx, sfsdb.User{ID: "user", DisplayName: "User", Email: "user@example.test", MaxBuckets: 10}))
		require.True(t, sqliteutil.IsConstraint(db.CreateUser(ctx, sfsdb.User{ID: "user"})))

		user, err := db.GetUser(ctx, "user")
		require.NoError(t, err)
		require.Equal(t, "User", user.DisplayName)
		require.Equal(t, 10, user.MaxBuckets)

		require.NoError(t, db.AddAccessKey(ctx, "user", "AKIA"))
		id, err := db.UserByAccessKey(ctx, "AKIA")
		require.NoError(t, err)
		require.Equal(t, "user", id)

		_, err = db.UserByAccessKey(ctx, "missing")
		require.True(t, sfsdb.ErrNotFound.Has(err))
	})
}
