// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"database/sql"
	"time"

	"storj.io/common/uuid"
)

// ObjectState is the state of an object version.
type ObjectState int

const (
	// ObjectOpen is a version that is still being written.
	ObjectOpen ObjectState = 0
	// ObjectCommitted is a version whose data is complete.
	ObjectCommitted ObjectState = 1
	// ObjectDeleted is a version waiting for garbage collection.
	ObjectDeleted ObjectState = 2
)

// String implements fmt.Stringer.
func (state ObjectState) String() string {
	switch state {
	case ObjectOpen:
		return "OPEN"
	case ObjectCommitted:
		return "COMMITTED"
	case ObjectDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// VersionType distinguishes data versions from delete markers.
type VersionType int

const (
	// VersionRegular is a version with data on disk.
	VersionRegular VersionType = 0
	// VersionDeleteMarker is a delete marker, it has no file.
	VersionDeleteMarker VersionType = 1
)

// String implements fmt.Stringer.
func (typ VersionType) String() string {
	switch typ {
	case VersionRegular:
		return "REGULAR"
	case VersionDeleteMarker:
		return "DELETE_MARKER"
	default:
		return "UNKNOWN"
	}
}

// MultipartState is the state of a multipart upload.
type MultipartState int

const (
	// MultipartNone is the zero state.
	MultipartNone MultipartState = 0
	// MultipartInit is an upload that was created.
	MultipartInit MultipartState = 1
	// MultipartInProgress is an upload that receives parts.
	MultipartInProgress MultipartState = 2
	// MultipartComplete is an upload the client completed.
	MultipartComplete MultipartState = 3
	// MultipartAggregating is an upload whose parts are being joined.
	MultipartAggregating MultipartState = 4
	// MultipartDone is an upload whose object exists, parts are garbage.
	MultipartDone MultipartState = 5
	// MultipartAborted is an upload the client or the collector aborted.
	MultipartAborted MultipartState = 6
)

// String implements fmt.Stringer.
func (state MultipartState) String() string {
	switch state {
	case MultipartNone:
		return "NONE"
	case MultipartInit:
		return "INIT"
	case MultipartInProgress:
		return "INPROGRESS"
	case MultipartComplete:
		return "COMPLETE"
	case MultipartAggregating:
		return "AGGREGATING"
	case MultipartDone:
		return "DONE"
	case MultipartAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal returns whether the upload will never resume.
func (state MultipartState) Terminal() bool {
	return state == MultipartDone || state == MultipartAborted
}

// User is a row of the users table.
type User struct {
	ID          string
	Tenant      string
	DisplayName string
	Email       string
	Suspended   bool
	MaxBuckets  int
}

// Bucket is a row of the buckets table.
type Bucket struct {
	ID        string
	Name      string
	Tenant    string
	OwnerID   string
	CreatedAt time.Time
	Deleted   bool
}

// Object is a row of the objects table.
type Object struct {
	UUID     uuid.UUID
	BucketID string
	Name     string
}

// Version is a row of the versioned_objects table.
type Version struct {
	ID         int64
	ObjectID   uuid.UUID
	VersionID  string
	State      ObjectState
	Type       VersionType
	Size       int64
	Checksum   string
	ETag       string
	CreateTime time.Time
	CommitTime time.Time
	DeleteTime time.Time
	MTime      time.Time
}

// HasFile returns whether the version has a file on disk.
func (version *Version) HasFile() bool {
	return version.Type != VersionDeleteMarker
}

// Multipart is a row of the multiparts table.
type Multipart struct {
	ID              int64
	BucketID        string
	UploadID        string
	State           MultipartState
	StateChangeTime time.Time
	ObjectName      string
	PathUUID        uuid.UUID
	OwnerID         string
	MTime           time.Time
}

// Part is a row of the multiparts_parts table.
type Part struct {
	ID       int64
	UploadID string
	PartNum  int
	Size     int64
	ETag     string
	MTime    time.Time
}

func nanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}
