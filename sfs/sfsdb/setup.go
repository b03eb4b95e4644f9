// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/go-cmp/cmp"
	"github.com/ncruces/go-sqlite3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/sfs/private/dbutil/dbschema"
	"storj.io/sfs/private/dbutil/sqliteutil"
	"storj.io/sfs/private/tagsql"
)

// migrateLegacy moves a database written under the legacy name to the
// current name. A partially moved database is not recoverable, so any
// failure stops the process.
func (db *DB) migrateLegacy(ctx context.Context) {
	legacy := db.config.LegacyPath()
	if legacy == "" || legacy == db.config.Path() {
		return
	}

	if _, err := os.Stat(legacy); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			db.log.Fatal("unable to stat legacy database", zap.String("path", legacy), zap.Error(err))
		}
		return
	}
	if _, err := os.Stat(db.config.Path()); err == nil {
		db.log.Warn("legacy database ignored, database already exists",
			zap.String("legacy", legacy), zap.String("path", db.config.Path()))
		return
	}

	db.log.Info("migrating legacy database", zap.String("from", legacy), zap.String("to", db.config.Path()))

	if err := sqliteutil.BackupFile(ctx, legacy, db.config.Path()); err != nil {
		db.log.Fatal("legacy database migration failed", zap.String("path", legacy), zap.Error(err))
	}
	if err := sqliteutil.RemoveFiles(legacy); err != nil {
		db.log.Fatal("unable to remove legacy database", zap.String("path", legacy), zap.Error(err))
	}
}

// MigrateToLatest runs the versioned migration steps.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	conn, err := db.pool.Conn(WithWorker(ctx, MainWorker))
	if err != nil {
		return err
	}
	return conn.Do(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return ErrSetup.Wrap(Migration().Run(ctx, db.log.Named("migration"), conn))
	})
}

// CheckCompatibility syncs the expected schema into a copy of the database
// and fails when a table would have to be dropped, or when the copy can not
// be made or synced.
func (db *DB) CheckCompatibility(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	scratch := db.config.ScratchPath()
	if err := sqliteutil.RemoveFiles(scratch); err != nil {
		return ErrSetup.Wrap(err)
	}
	defer func() {
		if removeErr := sqliteutil.RemoveFiles(scratch); removeErr != nil {
			db.log.Warn("unable to remove scratch database", zap.String("path", scratch), zap.Error(removeErr))
		}
	}()

	conn, err := db.pool.Conn(WithWorker(ctx, MainWorker))
	if err != nil {
		return err
	}
	if err := conn.Backup(ctx, scratch); err != nil {
		return ErrSetup.New("copying database, possible corruption: %w", err)
	}

	copyDB, err := sqliteutil.Open(scratch, func(conn *sqlite3.Conn) error {
		if err := conn.BusyTimeout(db.config.BusyTimeout); err != nil {
			return err
		}
		return conn.Exec(`PRAGMA foreign_keys = OFF`)
	})
	if err != nil {
		return ErrSetup.Wrap(err)
	}
	copyDB.SetMaxOpenConns(1)
	defer func() { err = errs.Combine(err, ErrSetup.Wrap(copyDB.Close())) }()

	results, err := sqliteutil.SyncSchema(ctx, tagsql.Wrap(copyDB, nil), db.expected)
	if err != nil {
		return ErrSetup.New("schema sync on copy, possible corruption: %w", err)
	}
	if destructive := results.Destructive(); len(destructive) > 0 {
		return ErrSetup.New("incompatible schema, tables %v would be dropped and recreated", destructive)
	}
	return nil
}

// Sync brings the schema to the expected one. It runs after
// CheckCompatibility, so it only creates tables, columns and indexes.
func (db *DB) Sync(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	conn, err := db.pool.Conn(WithWorker(ctx, MainWorker))
	if err != nil {
		return err
	}
	return conn.Do(ctx, func(ctx context.Context, conn tagsql.DB) error {
		results, err := sqliteutil.Do(ctx, db.log, func(ctx context.Context) (sqliteutil.SyncResults, error) {
			return sqliteutil.SyncSchema(ctx, conn, db.expected)
		})
		if err != nil {
			return ErrSetup.Wrap(err)
		}
		for table, result := range results {
			if result != sqliteutil.AlreadyInSync {
				db.log.Info("schema synced", zap.String("table", table), zap.Stringer("result", result))
			}
		}
		return nil
	})
}

// Preflight conducts a pre-flight check to ensure correct schemas and
// minimal read+write functionality of the database.
func (db *DB) Preflight(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	conn, err := db.pool.Conn(WithWorker(ctx, MainWorker))
	if err != nil {
		return err
	}
	return conn.Do(ctx, func(ctx context.Context, conn tagsql.DB) error {
		return db.preflight(ctx, conn)
	})
}

func (db *DB) preflight(ctx context.Context, conn tagsql.DB) (err error) {
	// Preflight stage 1: test schema correctness
	schema, err := sqliteutil.QuerySchema(ctx, conn)
	if err != nil {
		return ErrPreflight.New("schema check failed: %v", err)
	}
	// if there was a previous pre-flight failure, test_table might still be in the schema
	schema.DropTable("test_table")

	expected := db.expected.Schema

	// find extra indexes
	var extraIdxs []*dbschema.Index
	for _, idx := range schema.Indexes {
		if _, exists := expected.FindIndex(idx.Name); exists {
			continue
		}
		extraIdxs = append(extraIdxs, idx)
	}
	// drop index from schema if it is not unique to not fail preflight
	for _, idx := range extraIdxs {
		if !idx.Unique {
			schema.DropIndex(idx.Name)
		}
	}
	if len(extraIdxs) > 0 {
		db.log.Warn(fmt.Sprintf("schema contains unexpected indices %v", extraIdxs))
	}

	if diff := cmp.Diff(expected, schema); diff != "" {
		return ErrPreflight.New("expected schema does not match actual: %s", diff)
	}

	// Preflight stage 2: test basic read/write access
	if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS test_table"); err != nil {
		return ErrPreflight.New("failed drop if test_table: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "CREATE TABLE test_table(id int NOT NULL, name varchar(30), PRIMARY KEY (id))"); err != nil {
		return ErrPreflight.New("failed create test_table: %w", err)
	}

	expectedID, expectedName := 1, "TEST"
	if _, err := conn.ExecContext(ctx, "INSERT INTO test_table VALUES ( ?, ? )", expectedID, expectedName); err != nil {
		return ErrPreflight.New("failed inserting test value: %w", err)
	}

	var actualID int
	var actualName string
	if err := conn.QueryRowContext(ctx, "SELECT id, name FROM test_table").Scan(&actualID, &actualName); err != nil {
		return ErrPreflight.New("failed selecting test value: %w", err)
	}
	if expectedID != actualID || expectedName != actualName {
		return ErrPreflight.New("expected (%d, '%s'), actual (%d, '%s')", expectedID, expectedName, actualID, actualName)
	}

	if _, err := conn.ExecContext(ctx, "DROP TABLE test_table"); err != nil {
		return ErrPreflight.New("failed drop test_table: %w", err)
	}
	return nil
}
