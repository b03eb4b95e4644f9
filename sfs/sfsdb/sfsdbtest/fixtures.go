// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdbtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"
	"storj.io/common/uuid"
	"storj.io/sfs/sfs/sfsdb"
)

// CreateBucket creates a bucket and its owner.
func CreateBucket(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB, id string) sfsdb.Bucket {
	owner := "owner-" + id
	require.NoError(t, db.CreateUser(ctx, sfsdb.User{ID: owner, DisplayName: owner}))

	bucket := sfsdb.Bucket{
		ID:        id,
		Name:      id,
		OwnerID:   owner,
		CreatedAt: time.Now(),
	}
	require.NoError(t, db.CreateBucket(ctx, bucket))
	return bucket
}

// CreateObject creates an object in bucketID.
func CreateObject(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB, bucketID, name string) sfsdb.Object {
	object := sfsdb.Object{
		UUID:     testrand.UUID(),
		BucketID: bucketID,
		Name:     name,
	}
	require.NoError(t, db.CreateObject(ctx, object))
	return object
}

// CreateVersion creates a committed version of objectID.
func CreateVersion(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB, objectID uuid.UUID, typ sfsdb.VersionType, size int64) sfsdb.Version {
	version := sfsdb.Version{
		ObjectID:   objectID,
		VersionID:  testrand.UUID().String(),
		State:      sfsdb.ObjectCommitted,
		Type:       typ,
		Size:       size,
		CommitTime: time.Now(),
	}
	id, err := db.CreateVersion(ctx, version)
	require.NoError(t, err)

	version, err = db.GetVersion(ctx, id)
	require.NoError(t, err)
	return version
}

// CreateMultipart creates an upload in bucketID.
func CreateMultipart(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB, bucketID string, state sfsdb.MultipartState) sfsdb.Multipart {
	upload := sfsdb.Multipart{
		BucketID:   bucketID,
		UploadID:   testrand.UUID().String(),
		State:      state,
		ObjectName: "object-" + testrand.UUID().String(),
		PathUUID:   testrand.UUID(),
	}
	_, err := db.CreateMultipart(ctx, upload)
	require.NoError(t, err)

	upload, err = db.GetMultipart(ctx, upload.UploadID)
	require.NoError(t, err)
	return upload
}

// AddPart adds part number partNum to an upload.
func AddPart(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB, uploadID string, partNum int, size int64) sfsdb.Part {
	part := sfsdb.Part{
		UploadID: uploadID,
		PartNum:  partNum,
		Size:     size,
		MTime:    time.Now(),
	}
	id, err := db.AddPart(ctx, part)
	require.NoError(t, err)
	part.ID = id
	return part
}
