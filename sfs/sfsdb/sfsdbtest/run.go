// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sfsdbtest opens metadata databases for tests.
package sfsdbtest

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/sfs/sfs/sfsdb"
)

// Run opens a fresh database in a temporary directory and calls test with it.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB)) {
	RunWithConfig(t, nil, test)
}

// RunWithConfig is Run with a configuration changed by configure.
func RunWithConfig(t *testing.T, configure func(config *sfsdb.Config), test func(ctx *testcontext.Context, t *testing.T, db *sfsdb.DB)) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := sfsdb.DefaultConfig(ctx.Dir("db"))
	if configure != nil {
		configure(&config)
	}

	db, err := sfsdb.Open(ctx, zaptest.NewLogger(t), config)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		err := db.Close()
		if err != nil {
			t.Fatal(err)
		}
	}()

	test(ctx, t, db)
}
