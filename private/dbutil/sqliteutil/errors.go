// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sqliteutil contains helpers for working with sqlite databases:
// error classification, the retry executor, schema introspection and sync.
package sqliteutil

import (
	"context"
	"errors"

	"github.com/ncruces/go-sqlite3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	mon = monkit.Package()

	// Error is the default error class for sqliteutil.
	Error = errs.Class("sqliteutil")
)

// Class is the handling class of an error returned by an operation.
type Class int

const (
	// ClassNone means the error does not carry a sqlite result code.
	ClassNone Class = iota
	// ClassTransient are contention errors: busy, locked and their extended codes.
	ClassTransient
	// ClassConstraint are constraint violations, which belong to the caller.
	ClassConstraint
	// ClassInterrupted means the statement was interrupted by a canceled context.
	ClassInterrupted
	// ClassCritical is everything else: corruption, misuse, schema and unknown codes.
	ClassCritical
)

// String implements fmt.Stringer.
func (class Class) String() string {
	switch class {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassConstraint:
		return "constraint"
	case ClassInterrupted:
		return "interrupted"
	case ClassCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ErrorCode returns the extended sqlite result code carried by err.
func ErrorCode(err error) (code sqlite3.ExtendedErrorCode, ok bool) {
	if err == nil {
		return 0, false
	}

	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode(), true
	}

	var extended sqlite3.ExtendedErrorCode
	if errors.As(err, &extended) {
		return extended, true
	}

	var primary sqlite3.ErrorCode
	if errors.As(err, &primary) {
		return sqlite3.ExtendedErrorCode(primary), true
	}

	return 0, false
}

// PrimaryCode strips the extended bits of a result code.
func PrimaryCode(code sqlite3.ExtendedErrorCode) sqlite3.ErrorCode {
	return sqlite3.ErrorCode(uint16(code) & 0xff)
}

// Classify returns how err should be handled.
func Classify(err error) Class {
	code, ok := ErrorCode(err)
	if !ok {
		return ClassNone
	}
	return classifyCode(code)
}

func classifyCode(code sqlite3.ExtendedErrorCode) Class {
	switch PrimaryCode(code) {
	case sqlite3.BUSY, sqlite3.LOCKED:
		return ClassTransient
	case sqlite3.CONSTRAINT:
		return ClassConstraint
	case sqlite3.INTERRUPT:
		return ClassInterrupted
	default:
		return ClassCritical
	}
}

// IsTransient returns whether err is a busy or locked error.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// IsConstraint returns whether err is a constraint violation, for example a
// foreign key still referencing the row.
func IsConstraint(err error) bool {
	return Classify(err) == ClassConstraint
}

// IsCanceled returns whether err happened because ctx was canceled.
func IsCanceled(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx.Err() != nil && Classify(err) == ClassInterrupted
}
