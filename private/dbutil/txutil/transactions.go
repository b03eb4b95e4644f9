// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package txutil provides safe transaction-encapsulation functions which have retry
// semantics as necessary.
package txutil

import (
	"context"
	"database/sql"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/sfs/private/dbutil/sqliteutil"
	"storj.io/sfs/private/tagsql"
)

var mon = monkit.Package()

// WithTx starts a transaction on the given db. The transaction is restarted
// when sqlite reports contention, and the process is aborted when sqlite
// reports a critical error. While in the transaction, fn is called with a
// handle to the transaction in order to make use of it. If fn returns an
// error, the transaction is rolled back. If fn returns nil, the transaction
// is committed.
//
// If fn has any side effects outside of changes to the database, they must be idempotent! fn may
// be called more than one time.
func WithTx(ctx context.Context, log *zap.Logger, db tagsql.DB, txOpts *sql.TxOptions, fn func(context.Context, tagsql.Tx) error) (err error) {
	defer mon.Task()(&ctx)(&err)

	return sqliteutil.Exec(ctx, log, func(ctx context.Context) error {
		err, rollbackErr := withTxOnce(ctx, db, txOpts, fn)
		if rollbackErr != nil {
			log.Warn("transaction rollback failed", zap.Error(rollbackErr))
		}
		return err
	})
}

// withTxOnce creates a transaction, ensures that it is eventually released (commit or rollback)
// and passes it to the provided callback. It does not handle retries or anything, delegating
// that to callers.
func withTxOnce(ctx context.Context, db tagsql.DB, txOpts *sql.TxOptions, fn func(context.Context, tagsql.Tx) error) (err, rollbackErr error) {
	defer mon.Task()(&ctx)(&err)

	tx, err := db.BeginTx(ctx, txOpts)
	if err != nil {
		return errs.Wrap(err), nil
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
		} else {
			rollbackErr = tx.Rollback()
		}
	}()

	return fn(ctx, tx), nil
}
