// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"storj.io/sfs/private/tagsql"
)

// CreateBucket inserts a bucket.
func (db *DB) CreateBucket(ctx context.Context, bucket Bucket) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO buckets (bucket_id, bucket_name, tenant, owner_id, creation_time, deleted)
			VALUES (?, ?, ?, ?, ?, ?)
		`, bucket.ID, bucket.Name, bucket.Tenant, bucket.OwnerID, nanos(bucket.CreatedAt), bucket.Deleted)
		return err
	})
	return ErrDatabase.Wrap(err)
}

// GetBucket returns the bucket with id.
func (db *DB) GetBucket(ctx context.Context, id string) (bucket Bucket, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		var scanErr error
		bucket, scanErr = scanBucket(conn.QueryRowContext(ctx, `
			SELECT bucket_id, bucket_name, tenant, owner_id, creation_time, deleted
			FROM buckets WHERE bucket_id = ?
		`, id))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Bucket{}, ErrNotFound.New("bucket %q", id)
	}
	return bucket, ErrDatabase.Wrap(err)
}

// MarkBucketDeleted flags a bucket for garbage collection.
func (db *DB) MarkBucketDeleted(ctx context.Context, id string) (err error) {
	defer mon.Task()(&ctx)(&err)

	var affected int64
	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		result, err := conn.ExecContext(ctx, `UPDATE buckets SET deleted = 1 WHERE bucket_id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return ErrDatabase.Wrap(err)
	}
	if affected == 0 {
		return ErrNotFound.New("bucket %q", id)
	}
	return nil
}

// ListDeletedBuckets returns the buckets flagged for garbage collection.
func (db *DB) ListDeletedBuckets(ctx context.Context) (_ []Bucket, err error) {
	defer mon.Task()(&ctx)(&err)

	var buckets []Bucket
	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) (err error) {
		buckets = nil

		rows, err := conn.QueryContext(ctx, `
			SELECT bucket_id, bucket_name, tenant, owner_id, creation_time, deleted
			FROM buckets WHERE deleted = 1
			ORDER BY bucket_id
		`)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, rows.Close()) }()

		for rows.Next() {
			bucket, err := scanBucket(rows)
			if err != nil {
				return err
			}
			buckets = append(buckets, bucket)
		}
		return rows.Err()
	})
	return buckets, ErrDatabase.Wrap(err)
}

// DeleteBucketIfEmpty removes a bucket without objects and multipart
// uploads. It returns whether the bucket was removed.
func (db *DB) DeleteBucketIfEmpty(ctx context.Context, id string) (deleted bool, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		deleted = false

		var children int64
		err := tx.QueryRowContext(ctx, `
			SELECT (SELECT count(*) FROM objects WHERE bucket_id = ?) +
			       (SELECT count(*) FROM multiparts WHERE bucket_id = ?)
		`, id, id).Scan(&children)
		if err != nil || children > 0 {
			return err
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE bucket_id = ?`, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		deleted = affected > 0
		return err
	})
	return deleted, ErrDatabase.Wrap(err)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBucket(row scanner) (bucket Bucket, err error) {
	var tenant sql.NullString
	var created sql.NullInt64
	err = row.Scan(&bucket.ID, &bucket.Name, &tenant, &bucket.OwnerID, &created, &bucket.Deleted)
	bucket.Tenant = tenant.String
	bucket.CreatedAt = fromNanos(created)
	return bucket, err
}
