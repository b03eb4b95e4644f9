// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"storj.io/common/uuid"
	"storj.io/sfs/private/tagsql"
)

const versionColumns = `
	id, object_id, version_id, object_state, version_type, size,
	checksum, etag, create_time, commit_time, delete_time, mtime
`

// CreateVersion inserts a version and returns its id.
func (db *DB) CreateVersion(ctx context.Context, version Version) (id int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if version.CreateTime.IsZero() {
		version.CreateTime = time.Now()
	}

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return conn.QueryRowContext(ctx, `
			INSERT INTO versioned_objects (
				object_id, version_id, object_state, version_type, size,
				checksum, etag, create_time, commit_time, delete_time, mtime
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, version.ObjectID.String(), version.VersionID, int(version.State), int(version.Type), version.Size,
			version.Checksum, version.ETag, nanos(version.CreateTime), nanos(version.CommitTime),
			nanos(version.DeleteTime), nanos(version.MTime),
		).Scan(&id)
	})
	return id, ErrDatabase.Wrap(err)
}

// GetVersion returns the version with id.
func (db *DB) GetVersion(ctx context.Context, id int64) (version Version, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		var scanErr error
		version, scanErr = scanVersion(conn.QueryRowContext(ctx, `
			SELECT `+versionColumns+` FROM versioned_objects WHERE id = ?
		`, id))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound.New("version %d", id)
	}
	return version, ErrDatabase.Wrap(err)
}

// SetVersionState changes the state of a version and stamps the matching
// commit or delete time.
func (db *DB) SetVersionState(ctx context.Context, id int64, state ObjectState) (err error) {
	defer mon.Task()(&ctx)(&err)

	now := nanos(time.Now())

	var affected int64
	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		var result sql.Result
		var err error
		switch state {
		case ObjectCommitted:
			result, err = conn.ExecContext(ctx, `
				UPDATE versioned_objects SET object_state = ?, commit_time = ?, mtime = ? WHERE id = ?
			`, int(state), now, now, id)
		case ObjectDeleted:
			result, err = conn.ExecContext(ctx, `
				UPDATE versioned_objects SET object_state = ?, delete_time = ? WHERE id = ?
			`, int(state), now, id)
		default:
			result, err = conn.ExecContext(ctx, `
				UPDATE versioned_objects SET object_state = ? WHERE id = ?
			`, int(state), id)
		}
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
		return ErrNotFound.New("version %d", id)
	}
	return nil
}

// ListVersions returns the versions of an object, oldest first.
func (db *DB) ListVersions(ctx context.Context, objectID uuid.UUID) (_ []Version, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryVersions(ctx, `
		SELECT `+versionColumns+` FROM versioned_objects
		WHERE object_id = ?
		ORDER BY id
	`, objectID.String())
}

// VersionCursor is a position in the listing of deleted versions. The zero
// value starts from the beginning.
type VersionCursor struct {
	Size int64
	ID   int64
}

// Next returns the cursor positioned after version.
func (cursor VersionCursor) Next(version Version) VersionCursor {
	return VersionCursor{Size: version.Size, ID: version.ID}
}

// ListDeletedVersions returns at most limit versions in the deleted state
// whose bucket is not deleted, largest first, starting after cursor.
func (db *DB) ListDeletedVersions(ctx context.Context, cursor VersionCursor, limit int) (_ []Version, err error) {
	defer mon.Task()(&ctx)(&err)

	return db.queryVersions(ctx, `
		SELECT `+prefixColumns("v", versionColumns)+`
		FROM versioned_objects v
		JOIN objects o ON o.uuid = v.object_id
		LEFT JOIN buckets b ON b.bucket_id = o.bucket_id
		WHERE v.object_state = ? AND b.deleted IS NOT 1
			AND (? = 0 OR v.size < ? OR (v.size = ? AND v.id > ?))
		ORDER BY v.size DESC, v.id
		LIMIT ?
	`, int(ObjectDeleted), cursor.ID, cursor.Size, cursor.Size, cursor.ID, limit)
}

func (db *DB) queryVersions(ctx context.Context, query string, args ...interface{}) (_ []Version, err error) {
	var versions []Version
	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) (err error) {
		versions = nil

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { err = errs.Combine(err, rows.Close()) }()

		for rows.Next() {
			version, err := scanVersion(rows)
			if err != nil {
				return err
			}
			versions = append(versions, version)
		}
		return rows.Err()
	})
	return versions, ErrDatabase.Wrap(err)
}

// DeleteVersions removes the listed versions of an object, and the object
// itself when no version is left. It returns how many versions were removed
// and whether the object was removed.
func (db *DB) DeleteVersions(ctx context.Context, objectID uuid.UUID, ids []int64) (deleted int64, objectDeleted bool, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.WithTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		deleted, objectDeleted = 0, false

		for _, id := range ids {
			result, err := tx.ExecContext(ctx, `
				DELETE FROM versioned_objects WHERE id = ? AND object_id = ?
			`, id, objectID.String())
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
			SELECT count(*) FROM versioned_objects WHERE object_id = ?
		`, objectID.String()).Scan(&remaining)
		if err != nil || remaining > 0 {
			return err
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE uuid = ?`, objectID.String())
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		objectDeleted = affected > 0
		return err
	})
	return deleted, objectDeleted, ErrDatabase.Wrap(err)
}

func scanVersion(row scanner) (version Version, err error) {
	var objectID string
	var checksum, etag sql.NullString
	var createTime, commitTime, deleteTime, mtime sql.NullInt64
	err = row.Scan(
		&version.ID, &objectID, &version.VersionID, &version.State, &version.Type, &version.Size,
		&checksum, &etag, &createTime, &commitTime, &deleteTime, &mtime,
	)
	if err != nil {
		return Version{}, err
	}

	version.ObjectID, err = uuid.FromString(objectID)
	version.Checksum = checksum.String
	version.ETag = etag.String
	version.CreateTime = fromNanos(createTime)
	version.CommitTime = fromNanos(commitTime)
	version.DeleteTime = fromNanos(deleteTime)
	version.MTime = fromNanos(mtime)
	return version, err
}

// prefixColumns qualifies every column of list with table.
func prefixColumns(table, list string) string {
	columns := strings.Split(list, ",")
	for i, column := range columns {
		columns[i] = table + "." + strings.TrimSpace(column)
	}
	return strings.Join(columns, ", ")
}
