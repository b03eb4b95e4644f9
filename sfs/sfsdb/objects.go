// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"
	"storj.io/sfs/private/tagsql"
)

// CreateObject inserts an object.
func (db *DB) CreateObject(ctx context.Context, object Object) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO objects (uuid, bucket_id, name) VALUES (?, ?, ?)
		`, object.UUID.String(), object.BucketID, object.Name)
		return err
	})
	return ErrDatabase.Wrap(err)
}

// GetObject returns the object with id.
func (db *DB) GetObject(ctx context.Context, id uuid.UUID) (object Object, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		var scanErr error
		object, scanErr = scanObject(conn.QueryRowContext(ctx, `
			SELECT uuid, bucket_id, name FROM objects WHERE uuid = ?
		`, id.String()))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Object{}, ErrNotFound.New("object %s", id)
	}
	return object, ErrDatabase.Wrap(err)
}

// ListObjects returns at most limit objects of a bucket.
func (db *DB) ListObjects(ctx context.Context, bucketID string, limit int) (_ []Object, err error) {
	defer mon.Task()(&ctx)(&err)

	var objects []Object
	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) (err error) {
		objects = nil

		rows, err := conn.QueryContext(ctx, `
			SELECT uuid, bucket_id, name FROM objects
			WHERE bucket_id = ?
			ORDER BY name
			LIMIT ?
		`, bucketID, limit)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, rows.Close()) }()

		for rows.Next() {
			object, err := scanObject(rows)
			if err != nil {
				return err
			}
			objects = append(objects, object)
		}
		return rows.Err()
	})
	return objects, ErrDatabase.Wrap(err)
}

// CountObjects returns the number of objects of a bucket.
func (db *DB) CountObjects(ctx context.Context, bucketID string) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return conn.QueryRowContext(ctx, `SELECT count(*) FROM objects WHERE bucket_id = ?`, bucketID).Scan(&count)
	})
	return count, ErrDatabase.Wrap(err)
}

func scanObject(row scanner) (object Object, err error) {
	var id string
	if err := row.Scan(&id, &object.BucketID, &object.Name); err != nil {
		return Object{}, err
	}
	object.UUID, err = uuid.FromString(id)
	return object, err
}
