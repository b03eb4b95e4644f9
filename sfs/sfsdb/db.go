// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sfsdb implements the metadata database: per-worker connections
// over a single sqlite file, schema versioning and the row accessors used
// by the garbage collector.
package sfsdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/ncruces/go-sqlite3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/sfs/private/dbutil/sqliteutil"
	"storj.io/sfs/private/dbutil/txutil"
	"storj.io/sfs/private/tagsql"
	"storj.io/sfs/sfs/checkpoint"
)

var (
	mon = monkit.Package()

	// ErrDatabase represents errors from the database.
	ErrDatabase = errs.Class("sfsdb")
	// ErrSetup is returned when the database can not be used by this release.
	ErrSetup = errs.Class("sfsdb setup")
	// ErrPreflight represents an error during the preflight check.
	ErrPreflight = errs.Class("preflight")
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errs.Class("not found")
)

// DB is the metadata database.
type DB struct {
	log    *zap.Logger
	config Config

	sqlDB    *sql.DB
	pool     *Pool
	expected *sqliteutil.Expected
}

// Open opens the metadata database, creating it when needed, and brings its
// schema to the current version.
func Open(ctx context.Context, log *zap.Logger, config Config) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := os.MkdirAll(config.Dir, 0700); err != nil {
		return nil, ErrDatabase.Wrap(err)
	}

	db := &DB{
		log:    log,
		config: config,
	}

	db.migrateLegacy(ctx)

	db.expected, err = sqliteutil.LoadExpected(ctx, Statements())
	if err != nil {
		return nil, ErrSetup.Wrap(err)
	}

	db.sqlDB, err = sqliteutil.Open(config.Path(), db.initConn)
	if err != nil {
		return nil, ErrDatabase.New("opening %q: %w", config.Path(), err)
	}

	var profiler *tagsql.Profiler
	if config.Profile || config.SlowQueryThreshold > 0 {
		profiler = tagsql.NewProfiler(log.Named("sql"), config.Profile, config.SlowQueryThreshold)
	}
	db.pool = NewPool(log.Named("pool"), db.sqlDB, profiler)

	defer func() {
		if err != nil {
			err = errs.Combine(err, db.Close())
		}
	}()

	// the main connection stays open for the lifetime of the database.
	if _, err := db.pool.Conn(WithWorker(ctx, MainWorker)); err != nil {
		return nil, err
	}

	if err := db.MigrateToLatest(ctx); err != nil {
		return nil, err
	}
	if err := db.CheckCompatibility(ctx); err != nil {
		return nil, err
	}
	if err := db.Sync(ctx); err != nil {
		return nil, err
	}
	if err := db.Preflight(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// initConn prepares every connection the driver opens.
func (db *DB) initConn(conn *sqlite3.Conn) error {
	if err := conn.BusyTimeout(db.config.BusyTimeout); err != nil {
		return err
	}
	for _, pragma := range pragmas(db.config) {
		if err := conn.Exec(pragma); err != nil {
			return errs.New("%s: %w", pragma, err)
		}
	}
	checkpoint.Install(db.log.Named("checkpoint"), conn, db.config.Checkpoint)
	return nil
}

func pragmas(config Config) []string {
	return []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA temp_store = MEMORY`,
		`PRAGMA case_sensitive_like = ON`,
		`PRAGMA mmap_size = 30000000000`,
		fmt.Sprintf(`PRAGMA journal_size_limit = %d`, config.WALSizeLimit.Int64()),
		`PRAGMA foreign_keys = ON`,
	}
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() Config { return db.config }

// Pool returns the connection pool.
func (db *DB) Pool() *Pool { return db.pool }

// Close closes the database.
func (db *DB) Close() error {
	var group errs.Group
	if db.pool != nil {
		group.Add(db.pool.Close())
	}
	if db.sqlDB != nil {
		group.Add(ErrDatabase.Wrap(db.sqlDB.Close()))
	}
	return group.Err()
}

// WithConn calls fn with the connection of the worker carried by ctx.
// Contention errors restart fn.
func (db *DB) WithConn(ctx context.Context, fn func(ctx context.Context, conn tagsql.DB) error) error {
	conn, err := db.pool.Conn(ctx)
	if err != nil {
		return err
	}
	return conn.Do(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return sqliteutil.Exec(ctx, db.log, func(ctx context.Context) error {
			return fn(ctx, conn)
		})
	})
}

// WithTx calls fn in a transaction on the connection of the worker carried
// by ctx. Contention errors restart the transaction.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx tagsql.Tx) error) error {
	conn, err := db.pool.Conn(ctx)
	if err != nil {
		return err
	}
	return conn.Do(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return txutil.WithTx(ctx, db.log, conn, nil, fn)
	})
}

// Version returns the schema version of the database.
func (db *DB) Version(ctx context.Context) (version int, err error) {
	err = db.WithConn(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return conn.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version)
	})
	return version, ErrDatabase.Wrap(err)
}
