// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sqliteutil

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ncruces/go-sqlite3"
	sqlitedriver "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed" // sqlite build used by the driver.
	"github.com/zeebo/errs"

	"storj.io/sfs/private/tagsql"
)

// Initializer configures a freshly opened connection.
type Initializer func(conn *sqlite3.Conn) error

// DSN returns the data source name for the database file at path. Write
// transactions take the write lock when they begin.
func DSN(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: path, RawQuery: "_txlock=immediate"}).String()
}

// Open opens the database file at path. init runs on every connection the
// pool creates.
func Open(path string, init Initializer) (*sql.DB, error) {
	if init == nil {
		init = func(*sqlite3.Conn) error { return nil }
	}
	db, err := sqlitedriver.Open(DSN(path), init)
	return db, Error.Wrap(err)
}

// MemoryDB is a private in-memory database.
type MemoryDB struct {
	tagsql.DB
	db *sql.DB
}

// OpenMemory opens a private in-memory database with a single connection.
func OpenMemory() (*MemoryDB, error) {
	db, err := sqlitedriver.Open("file::memory:", func(*sqlite3.Conn) error { return nil })
	if err != nil {
		return nil, Error.Wrap(err)
	}
	db.SetMaxOpenConns(1)
	return &MemoryDB{DB: tagsql.Wrap(db, nil), db: db}, nil
}

// Close closes the database.
func (db *MemoryDB) Close() error { return db.db.Close() }

// RawConn calls fn with the sqlite connection behind conn.
func RawConn(conn *sql.Conn, fn func(*sqlite3.Conn) error) error {
	return conn.Raw(func(driverConn interface{}) error {
		raw, ok := driverConn.(sqlitedriver.Conn)
		if !ok {
			return Error.New("unexpected driver connection %T", driverConn)
		}
		return fn(raw.Raw())
	})
}

// Backup copies the main database behind conn into the file at dst with the
// online backup API, so that concurrent writers never expose a torn copy.
func Backup(ctx context.Context, conn *sql.Conn, dst string) (err error) {
	defer mon.Task()(&ctx)(&err)

	return Error.Wrap(RawConn(conn, func(raw *sqlite3.Conn) error {
		return raw.Backup("main", dst)
	}))
}

// BackupFile copies the database file at src into the file at dst with the
// online backup API.
func BackupFile(ctx context.Context, src, dst string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := os.Stat(src); err != nil {
		return Error.Wrap(err)
	}

	conn, err := sqlite3.Open(src)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(conn.Close())) }()

	return Error.Wrap(conn.Backup("main", dst))
}

// RemoveFiles removes the database file at path together with its
// write-ahead log and shared memory files. Missing files are ignored.
func RemoveFiles(path string) error {
	var group errs.Group
	for _, name := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			group.Add(err)
		}
	}
	return Error.Wrap(group.Err())
}
