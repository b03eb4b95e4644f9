// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"
	"storj.io/sfs/private/tagsql"
)

const multipartColumns = `
	id, bucket_id, upload_id, state, state_change_time,
	object_name, path_uuid, owner_id, mtime
`

// CreateMultipart inserts a multipart upload and returns its id.
func (db *DB) CreateMultipart(ctx context.Context, upload Multipart) (id int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if upload.StateChangeTime.IsZero() {
		upload.StateChangeTime = time.Now()
	}

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return conn.QueryRowContext(ctx, `
			INSERT INTO multiparts (
				bucket_id, upload_id, state, state_change_time,
				object_name, path_uuid, owner_id, mtime
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, upload.BucketID, upload.UploadID, int(upload.State), nanos(upload.StateChangeTime),
			upload.ObjectName, upload.PathUUID.String(), upload.OwnerID, nanos(upload.MTime),
		).Scan(&id)
	})
	return id, ErrDatabase.Wrap(err)
}

// GetMultipart returns the multipart upload with uploadID.
func (db *DB) GetMultipart(ctx context.Context, uploadID string) (upload Multipart, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		var scanErr error
		upload, scanErr = scanMultipart(conn.QueryRowContext(ctx, `
			SELECT `+multipartColumns+` FROM multiparts WHERE upload_id = ?
		`, uploadID))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Multipart{}, ErrNotFound.New("multipart %q", uploadID)
	}
	return upload, ErrDatabase.Wrap(err)
}

// SetMultipartState changes the state of a multipart upload.
func (db *DB) SetMultipartState(ctx context.Context, uploadID string, state MultipartState) (err error) {
	defer mon.Task()(&ctx)(&err)

	var affected int64
	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		result, err := conn.ExecContext(ctx, `
			UPDATE multiparts SET state = ?, state_change_time = ? WHERE upload_id = ?
		`, int(state), nanos(time.Now()), uploadID)
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
		return ErrNotFound.New("multipart %q", uploadID)
	}
	return nil
}

// AddPart inserts a part of a multipart upload and returns its id.
func (db *DB) AddPart(ctx context.Context, part Part) (id int64, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return conn.QueryRowContext(ctx, `
			INSERT INTO multiparts_parts (upload_id, part_num, size, etag, mtime)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id
		`, part.UploadID, part.PartNum, part.Size, part.ETag, nanos(part.MTime)).Scan(&id)
	})
	return id, ErrDatabase.Wrap(err)
}

// AbortMultiparts aborts the uploads of a bucket that were not completed.
// It returns the number of aborted uploads.
func (db *DB) AbortMultiparts(ctx context.Context, bucketID string) (aborted int64, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		result, err := conn.ExecContext(ctx, `
			UPDATE multiparts SET state = ?, state_change_time = ?
			WHERE bucket_id = ? AND state >= ? AND state < ?
		`, int(MultipartAborted), nanos(time.Now()), bucketID, int(MultipartInit), int(MultipartComplete))
		if err != nil {
			return err
		}
		aborted, err = result.RowsAffected()
		return err
	})
	return aborted, ErrDatabase.Wrap(err)
}

// ListMultiparts returns at most limit multipart uploads of a bucket in any
// state with a row id above afterID.
func (db *DB) ListMultiparts(ctx context.Context, bucketID string, afterID int64, limit int) (_ []Multipart, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryMultiparts(ctx, `
		SELECT `+multipartColumns+` FROM multiparts
		WHERE bucket_id = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, bucketID, afterID, limit)
}

// ListTerminalMultiparts returns at most limit uploads that are done or
// aborted, whose bucket is not deleted and whose row id is above afterID.
func (db *DB) ListTerminalMultiparts(ctx context.Context, afterID int64, limit int) (_ []Multipart, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryMultiparts(ctx, `
		SELECT `+prefixColumns("m", multipartColumns)+`
		FROM multiparts m
		LEFT JOIN buckets b ON b.bucket_id = m.bucket_id
		WHERE m.state IN (?, ?) AND b.deleted IS NOT 1 AND m.id > ?
		ORDER BY m.id
		LIMIT ?
	`, int(MultipartDone), int(MultipartAborted), afterID, limit)
}

// CountMultiparts returns the number of multipart uploads of a bucket.
func (db *DB) CountMultiparts(ctx context.Context, bucketID string) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return conn.QueryRowContext(ctx, `SELECT count(*) FROM multiparts WHERE bucket_id = ?`, bucketID).Scan(&count)
	})
	return count, ErrDatabase.Wrap(err)
}

// ListParts returns at most limit parts of an upload.
func (db *DB) ListParts(ctx context.Context, uploadID string, limit int) (_ []Part, err error) {
	defer mon.Task()(&ctx)(&err)

	var parts []Part
	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) (err error) {
		parts = nil

		rows, err := conn.QueryContext(ctx, `
			SELECT id, upload_id, part_num, size, etag, mtime
			FROM multiparts_parts
			WHERE upload_id = ?
			ORDER BY part_num
			LIMIT ?
		`, uploadID, limit)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, rows.Close()) }()

		for rows.Next() {
			var part Part
			var etag sql.NullString
			var mtime sql.NullInt64
			if err := rows.Scan(&part.ID, &part.UploadID, &part.PartNum, &part.Size, &etag, &mtime); err != nil {
				return err
			}
			part.ETag = etag.String
			part.MTime = fromNanos(mtime)
			parts = append(parts, part)
		}
		return rows.Err()
	})
	return parts, ErrDatabase.Wrap(err)
}

// DeleteParts removes the listed parts of an upload, and the upload itself
// when no part is left. It returns how many parts were removed and whether
// the upload was removed.
func (db *DB) DeleteParts(ctx context.Context, uploadID string, ids []int64) (deleted int64, uploadDeleted bool, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		deleted, uploadDeleted = 0, false

		for _, id := range ids {
			result, err := tx.ExecContext(ctx, `
				DELETE FROM multiparts_parts WHERE id = ? AND upload_id = ?
			`, id, uploadID)
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			deleted += affected
		}

		var remaining int64
		err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM multiparts_parts WHERE upload_id = ?
		`, uploadID).Scan(&remaining)
		if err != nil || remaining > 0 {
			return err
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM multiparts WHERE upload_id = ?`, uploadID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		uploadDeleted = affected > 0
		return err
	})
	return deleted, uploadDeleted, ErrDatabase.Wrap(err)
}

func (db *DB) queryMultiparts(ctx context.Context, query string, args ...interface{}) (_ []Multipart, err error) {
	var uploads []Multipart
	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) (err error) {
		uploads = nil

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, rows.Close()) }()

		for rows.Next() {
			upload, err := scanMultipart(rows)
			if err != nil {
				return err
			}
			uploads = append(uploads, upload)
		}
		return rows.Err()
	})
	return uploads, ErrDatabase.Wrap(err)
}

func scanMultipart(row scanner) (upload Multipart, err error) {
	var pathUUID string
	var ownerID sql.NullString
	var stateChange, mtime sql.NullInt64
	err = row.Scan(
		&upload.ID, &upload.BucketID, &upload.UploadID, &upload.State, &stateChange,
		&upload.ObjectName, &pathUUID, &ownerID, &mtime,
	)
	if err != nil {
		return Multipart{}, err
	}

	upload.PathUUID, err = uuid.FromString(pathUUID)
	upload.StateChangeTime = fromNanos(stateChange)
	upload.OwnerID = ownerID.String
	upload.MTime = fromNanos(mtime)
	return upload, err
}
