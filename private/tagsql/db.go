// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package tagsql wraps database/sql handles behind small interfaces and
// profiles the statements that go through them.
package tagsql

import (
	"context"
	"database/sql"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()

// Querier is the part shared by databases, connections and transactions.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB is an interface for *sql.DB-like handles, including a single pinned
// *sql.Conn.
type DB interface {
	Querier
	BeginTx(ctx context.Context, txOptions *sql.TxOptions) (Tx, error)
}

// Tx is an interface for *sql.Tx-like transactions.
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// Beginner is implemented by *sql.DB and *sql.Conn.
type Beginner interface {
	Querier
	BeginTx(ctx context.Context, txOptions *sql.TxOptions) (*sql.Tx, error)
}

// Wrap turns db into a DB. Statements are reported to profiler, which may be nil.
func Wrap(db Beginner, profiler *Profiler) DB {
	return &sqlDB{db: db, profiler: profiler}
}

// sqlDB implements DB.
type sqlDB struct {
	db       Beginner
	profiler *Profiler
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	defer s.profiler.observe(query, time.Now())
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	defer s.profiler.observe(query, time.Now())
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	defer s.profiler.observe(query, time.Now())
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, txOptions *sql.TxOptions) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, txOptions)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, profiler: s.profiler}, nil
}

// sqlTx implements Tx.
type sqlTx struct {
	tx       *sql.Tx
	profiler *Profiler
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	defer s.profiler.observe(query, time.Now())
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	defer s.profiler.observe(query, time.Now())
	return s.tx.QueryContext(ctx, query, args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	defer s.profiler.observe(query, time.Now())
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error { return s.tx.Commit() }

func (s *sqlTx) Rollback() error { return s.tx.Rollback() }
