// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storj.io/sfs/sfs/sfsdb"
)

// sweep holds the state of a single Process call.
type sweep struct {
	log        *zap.Logger
	db         *sfsdb.DB
	blobs      Blobs
	maxObjects int

	start    time.Time
	deadline time.Time

	stats Stats
}

// run runs the phases in order and records where the sweep stopped.
func (sweep *sweep) run(ctx context.Context) error {
	phases := []struct {
		phase Phase
		run   func(context.Context) (bool, error)
	}{
		{PhaseDeletedBuckets, sweep.deletedBuckets},
		{PhaseDeletedVersions, sweep.deletedVersions},
		{PhaseTerminalMultiparts, sweep.terminalMultiparts},
	}

	for _, p := range phases {
		done, err := p.run(ctx)
		if err != nil {
			return err
		}
		if !done {
			sweep.stats.Exit = p.phase
			sweep.log.Info("sweep stopped, out of time", zap.Stringer("phase", p.phase))
			return nil
		}
	}
	sweep.stats.Exit = PhaseFinished
	return nil
}

// expired returns whether the sweep ran past its deadline.
func (sweep *sweep) expired() bool {
	return !sweep.deadline.IsZero() && !time.Now().Before(sweep.deadline)
}

func (sweep *sweep) fileDeleteFailed(err error, fields ...zap.Field) {
	sweep.stats.FileDeleteFailures++
	sweep.log.Warn("unable to delete file", append(fields, zap.Error(err))...)
}

// deletedBuckets reclaims every bucket flagged as deleted. At most
// maxObjects objects of a bucket are handled per sweep, a bucket with
// objects left over is finished by a later sweep.
func (sweep *sweep) deletedBuckets(ctx context.Context) (done bool, err error) {
	defer mon.Task()(&ctx)(&err)

	buckets, err := sweep.db.ListDeletedBuckets(ctx)
	if err != nil {
		return false, err
	}

	for _, bucket := range buckets {
		if sweep.expired() {
			return false, nil
		}

		aborted, err := sweep.db.AbortMultiparts(ctx, bucket.ID)
		if err != nil {
			return false, err
		}
		sweep.stats.MultipartsAborted += aborted

		done, err := sweep.bucketMultiparts(ctx, bucket.ID)
		if err != nil || !done {
			return false, err
		}

		done, err = sweep.bucketObjects(ctx, bucket.ID)
		if err != nil || !done {
			return false, err
		}

		deleted, err := sweep.db.DeleteBucketIfEmpty(ctx, bucket.ID)
		if err != nil {
			return false, err
		}
		if deleted {
			sweep.stats.BucketsDeleted++
			sweep.log.Debug("bucket removed", zap.String("bucket", bucket.ID))
		}
	}
	return true, nil
}

// bucketMultiparts reclaims every upload of a deleted bucket whatever its
// state.
func (sweep *sweep) bucketMultiparts(ctx context.Context, bucketID string) (done bool, err error) {
	var after int64
	for {
		uploads, err := sweep.db.ListMultiparts(ctx, bucketID, after, sweep.maxObjects)
		if err != nil || len(uploads) == 0 {
			return err == nil, err
		}

		for _, upload := range uploads {
			if sweep.expired() {
				return false, nil
			}
			if err := sweep.reclaimUpload(ctx, upload); err != nil {
				return false, err
			}
			after = upload.ID
		}
	}
}

// bucketObjects reclaims one batch of objects of a deleted bucket.
func (sweep *sweep) bucketObjects(ctx context.Context, bucketID string) (done bool, err error) {
	objects, err := sweep.db.ListObjects(ctx, bucketID, sweep.maxObjects)
	if err != nil {
		return false, err
	}

	for _, object := range objects {
		if sweep.expired() {
			return false, nil
		}

		versions, err := sweep.db.ListVersions(ctx, object.UUID)
		if err != nil {
			return false, err
		}

		ids := make([]int64, 0, len(versions))
		for _, version := range versions {
			if version.HasFile() {
				err := sweep.blobs.DeleteVersion(ctx, object.UUID, version.ID)
				if err != nil {
					sweep.fileDeleteFailed(err,
						zap.Stringer("object", object.UUID),
						zap.Int64("version", version.ID))
					continue
				}
			}
			ids = append(ids, version.ID)
		}
		if len(ids) == 0 && len(versions) > 0 {
			continue
		}

		deleted, objectDeleted, err := sweep.db.DeleteVersions(ctx, object.UUID, ids)
		if err != nil {
			return false, err
		}
		sweep.stats.VersionsDeleted += deleted
		if objectDeleted {
			sweep.stats.ObjectsDeleted++
		}
	}
	return true, nil
}

// deletedVersions reclaims deleted versions of live buckets, largest first.
// Every version is visited at most once per sweep.
func (sweep *sweep) deletedVersions(ctx context.Context) (done bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var cursor sfsdb.VersionCursor
	for {
		versions, err := sweep.db.ListDeletedVersions(ctx, cursor, sweep.maxObjects)
		if err != nil || len(versions) == 0 {
			return err == nil, err
		}

		for _, version := range versions {
			if sweep.expired() {
				return false, nil
			}
			cursor = cursor.Next(version)

			if version.HasFile() {
				err := sweep.blobs.DeleteVersion(ctx, version.ObjectID, version.ID)
				if err != nil {
					sweep.fileDeleteFailed(err,
						zap.Stringer("object", version.ObjectID),
						zap.Int64("version", version.ID))
					continue
				}
			}

			deleted, objectDeleted, err := sweep.db.DeleteVersions(ctx, version.ObjectID, []int64{version.ID})
			if err != nil {
				return false, err
			}
			sweep.stats.VersionsDeleted += deleted
			if objectDeleted {
				sweep.stats.ObjectsDeleted++
			}
		}
	}
}

// terminalMultiparts reclaims done and aborted uploads of live buckets.
// Every upload is visited at most once per sweep.
func (sweep *sweep) terminalMultiparts(ctx context.Context) (done bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var after int64
	for {
		uploads, err := sweep.db.ListTerminalMultiparts(ctx, after, sweep.maxObjects)
		if err != nil || len(uploads) == 0 {
			return err == nil, err
		}

		for _, upload := range uploads {
			if sweep.expired() {
				return false, nil
			}
			if err := sweep.reclaimUpload(ctx, upload); err != nil {
				return false, err
			}
			after = upload.ID
		}
	}
}

// reclaimUpload removes the part files and rows of an upload, and the
// upload once no part is left. A part whose file cannot be removed keeps
// the upload for a later sweep.
func (sweep *sweep) reclaimUpload(ctx context.Context, upload sfsdb.Multipart) error {
	for {
		parts, err := sweep.db.ListParts(ctx, upload.UploadID, sweep.maxObjects)
		if err != nil {
			return err
		}

		failed := false
		ids := make([]int64, 0, len(parts))
		for _, part := range parts {
			err := sweep.blobs.DeletePart(ctx, upload.PathUUID, part.PartNum)
			if err != nil {
				failed = true
				sweep.fileDeleteFailed(err,
					zap.String("upload", upload.UploadID),
					zap.Int("part", part.PartNum))
				continue
			}
			ids = append(ids, part.ID)
		}
		if len(ids) == 0 && len(parts) > 0 {
			return nil
		}

		deleted, uploadDeleted, err := sweep.db.DeleteParts(ctx, upload.UploadID, ids)
		if err != nil {
			return err
		}
		sweep.stats.PartsDeleted += deleted

		switch {
		case uploadDeleted:
			sweep.stats.MultipartsDeleted++
			return nil
		case failed, len(parts) == 0, sweep.expired():
			return nil
		}
	}
}
