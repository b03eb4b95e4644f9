// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

const createUsers = `CREATE TABLE users (
	user_id TEXT NOT NULL PRIMARY KEY,
	tenant TEXT,
	ns TEXT,
	display_name TEXT,
	user_email TEXT,
	suspended INTEGER NOT NULL DEFAULT 0,
	max_buckets INTEGER NOT NULL DEFAULT 1000,
	op_mask INTEGER,
	admin INTEGER NOT NULL DEFAULT 0,
	system INTEGER NOT NULL DEFAULT 0,
	placement_name TEXT,
	type INTEGER,
	user_attrs BLOB,
	user_version INTEGER,
	user_version_tag TEXT
)`

const createBuckets = `CREATE TABLE buckets (
	bucket_id TEXT NOT NULL PRIMARY KEY,
	bucket_name TEXT NOT NULL,
	tenant TEXT,
	marker TEXT,
	owner_id TEXT NOT NULL REFERENCES users (user_id),
	flags INTEGER,
	zone_group TEXT,
	quota BLOB,
	creation_time INTEGER,
	placement_name TEXT,
	deleted INTEGER NOT NULL DEFAULT 0,
	bucket_attrs BLOB,
	object_lock BLOB
)`

const createObjects = `CREATE TABLE objects (
	uuid TEXT NOT NULL PRIMARY KEY,
	bucket_id TEXT NOT NULL REFERENCES buckets (bucket_id),
	name TEXT NOT NULL
)`

const createVersionedObjects = `CREATE TABLE versioned_objects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	object_id TEXT NOT NULL REFERENCES objects (uuid),
	checksum TEXT,
	size INTEGER NOT NULL DEFAULT 0,
	create_time INTEGER,
	delete_time INTEGER,
	commit_time INTEGER,
	mtime INTEGER,
	object_state INTEGER NOT NULL,
	version_id TEXT NOT NULL,
	etag TEXT,
	attrs BLOB,
	version_type INTEGER NOT NULL DEFAULT 0
)`

const createAccessKeys = `CREATE TABLE access_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	access_key TEXT NOT NULL,
	user_id TEXT NOT NULL REFERENCES users (user_id)
)`

const createLCHead = `CREATE TABLE lc_head (
	lc_index TEXT NOT NULL PRIMARY KEY,
	marker TEXT,
	start_date INTEGER
)`

const createLCEntries = `CREATE TABLE lc_entries (
	lc_index TEXT NOT NULL,
	bucket_name TEXT NOT NULL,
	start_time INTEGER,
	status INTEGER,
	PRIMARY KEY (lc_index, bucket_name)
)`

const createMultiparts = `CREATE TABLE multiparts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bucket_id TEXT NOT NULL REFERENCES buckets (bucket_id),
	upload_id TEXT NOT NULL UNIQUE,
	state INTEGER NOT NULL,
	state_change_time INTEGER,
	object_name TEXT NOT NULL,
	path_uuid TEXT NOT NULL UNIQUE,
	meta_str TEXT,
	owner_id TEXT,
	mtime INTEGER,
	attrs BLOB,
	placement TEXT,
	UNIQUE (bucket_id, upload_id)
)`

const createMultipartsParts = `CREATE TABLE multiparts_parts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	upload_id TEXT NOT NULL REFERENCES multiparts (upload_id),
	part_num INTEGER NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	etag TEXT,
	mtime INTEGER,
	UNIQUE (upload_id, part_num)
)`

// Statements returns the statements creating the current schema.
func Statements() []string {
	return []string{
		createUsers,
		createBuckets,
		createObjects,
		createVersionedObjects,
		createAccessKeys,
		createLCHead,
		createLCEntries,
		createMultiparts,
		createMultipartsParts,
		`CREATE UNIQUE INDEX versioned_object_objid_vid_unique ON versioned_objects (object_id, version_id)`,
		`CREATE UNIQUE INDEX object_bucketid_name ON objects (bucket_id, name)`,
		`CREATE INDEX bucket_ownerid_idx ON buckets (owner_id)`,
		`CREATE INDEX bucket_name_idx ON buckets (bucket_name)`,
		`CREATE INDEX objects_bucketid_idx ON objects (bucket_id)`,
		`CREATE INDEX vobjs_versionid_idx ON versioned_objects (version_id)`,
		`CREATE INDEX vobjs_object_id_idx ON versioned_objects (object_id)`,
	}
}
