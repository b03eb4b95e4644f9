// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sqliteutil

import (
	"context"

	"github.com/ncruces/go-sqlite3"
	"go.uber.org/zap"
)

// Retry runs an operation against sqlite until it succeeds.
//
// Busy and locked errors are retried immediately and without bound, the busy
// timeout of the connection is what spaces the attempts. Errors with any
// other sqlite code, apart from constraint violations and interrupts, are
// treated as possible corruption and terminate the process through
// log.Fatal. Errors that don't carry a sqlite code are returned as is.
//
// The only way to stop retrying is to cancel ctx.
type Retry[T any] struct {
	log *zap.Logger
	fn  func(ctx context.Context) (T, error)

	successful bool
	failedCode sqlite3.ExtendedErrorCode
	retries    int
}

// NewRetry returns a Retry for fn.
func NewRetry[T any](log *zap.Logger, fn func(ctx context.Context) (T, error)) *Retry[T] {
	return &Retry[T]{
		log: log,
		fn:  fn,
	}
}

// Run executes the operation. When it returns an error the zero value is
// returned and Successful reports false.
func (retry *Retry[T]) Run(ctx context.Context) (_ T, err error) {
	defer mon.Task()(&ctx)(&err)

	var zero T
	retry.successful = false
	retry.retries = 0

	defer func() {
		mon.IntVal("sqlite_retries").Observe(int64(retry.retries))
		if retry.retries > 0 {
			retry.log.Debug("sqlite operation retried",
				zap.Int("retries", retry.retries),
				zap.Bool("successful", retry.successful),
				zap.Stringer("last code", codeStringer(retry.failedCode)))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := retry.fn(ctx)
		if err == nil {
			retry.successful = true
			retry.failedCode = 0
			return value, nil
		}

		code, ok := ErrorCode(err)
		if !ok {
			return zero, err
		}

		switch classifyCode(code) {
		case ClassTransient:
			retry.failedCode = code
			retry.retries++
			mon.Event("sqlite_retry")
			continue
		case ClassConstraint, ClassInterrupted:
			return zero, err
		default:
			retry.log.Fatal("critical SQLite error",
				zap.Stringer("code", codeStringer(code)),
				zap.Error(err))
			// only reached when the logger's fatal hook returns.
			return zero, err
		}
	}
}

// Successful returns whether the last Run succeeded.
func (retry *Retry[T]) Successful() bool { return retry.successful }

// FailedCode returns the last transient code seen by an unsuccessful Run,
// or zero after a successful one.
func (retry *Retry[T]) FailedCode() sqlite3.ExtendedErrorCode { return retry.failedCode }

// Retries returns how many transient failures the last Run went through.
func (retry *Retry[T]) Retries() int { return retry.retries }

// Do runs fn through a new Retry.
func Do[T any](ctx context.Context, log *zap.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	return NewRetry(log, fn).Run(ctx)
}

// Exec runs fn, which produces no value, through a new Retry.
func Exec(ctx context.Context, log *zap.Logger, fn func(ctx context.Context) error) error {
	_, err := NewRetry(log, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}).Run(ctx)
	return err
}

type codeStringer sqlite3.ExtendedErrorCode

func (code codeStringer) String() string {
	if code == 0 {
		return "none"
	}
	return sqlite3.ExtendedErrorCode(code).Error()
}
