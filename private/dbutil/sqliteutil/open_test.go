// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sqliteutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/sfs/private/dbutil/sqliteutil"
)

func TestBackup(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("backup")
	src := filepath.Join(dir, "src.db")

	db, err := sqliteutil.Open(src, nil)
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	_, err = db.ExecContext(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO kv VALUES ('a', 'b')`)
	require.NoError(t, err)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer ctx.Check(conn.Close)

	dst := filepath.Join(dir, "dst.db")
	require.NoError(t, sqliteutil.Backup(ctx, conn, dst))

	copied, err := sqliteutil.Open(dst, nil)
	require.NoError(t, err)
	var value string
	require.NoError(t, copied.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = 'a'`).Scan(&value))
	require.Equal(t, "b", value)
	require.NoError(t, copied.Close())

	again := filepath.Join(dir, "again.db")
	require.NoError(t, sqliteutil.BackupFile(ctx, dst, again))
	require.FileExists(t, again)

	require.Error(t, sqliteutil.BackupFile(ctx, filepath.Join(dir, "missing.db"), filepath.Join(dir, "x.db")))

	require.NoError(t, sqliteutil.RemoveFiles(again))
	_, err = os.Stat(again)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, sqliteutil.RemoveFiles(again))
}

func TestDSN(t *testing.T) {
	require.Equal(t, "file:///tmp/store/sfs.db?_txlock=immediate", sqliteutil.DSN("/tmp/store/sfs.db"))
}
