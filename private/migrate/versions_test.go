// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/sfs/private/dbutil/sqliteutil"
	"storj.io/sfs/private/migrate"
	"storj.io/sfs/private/tagsql"
)

func newMigration(failAt int) *migrate.Migration {
	return &migrate.Migration{
		MinVersion: 1,
		Steps: []*migrate.Step{
			{
				Description: "add users",
				Version:     2,
				Action:      migrate.SQL{`CREATE TABLE users (id TEXT)`},
			},
			{
				Description: "add users name",
				Version:     3,
				Action: migrate.Func(func(ctx context.Context, log *zap.Logger, tx tagsql.Tx) error {
					if failAt == 3 {
						return errs.New("interrupted")
					}
					_, err := tx.ExecContext(ctx, `ALTER TABLE users ADD COLUMN name TEXT`)
					return err
				}),
			},
		},
	}
}

func TestMigration_Fresh(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := sqliteutil.OpenMemory()
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	migration := newMigration(0)
	require.Equal(t, 3, migration.CurrentVersion())

	require.NoError(t, migration.Run(ctx, zaptest.NewLogger(t), db))

	version, err := migrate.GetVersion(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 3, version)

	// steps are not executed for a fresh database.
	schema, err := sqliteutil.QuerySchema(ctx, db)
	require.NoError(t, err)
	require.Empty(t, schema.Tables)
}

func TestMigration_Upgrade(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)

	db, err := sqliteutil.OpenMemory()
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	require.NoError(t, migrate.SetVersion(ctx, db, 1))

	// the version is persisted after each step, a failing step is resumed.
	err = newMigration(3).Run(ctx, log, db)
	require.Error(t, err)

	version, err := migrate.GetVersion(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 2, version)

	require.NoError(t, newMigration(0).Run(ctx, log, db))

	version, err = migrate.GetVersion(ctx, db)
	require.NoError(t, err)
	require.Equal(t, 3, version)

	schema, err := sqliteutil.QuerySchema(ctx, db)
	require.NoError(t, err)
	users, ok := schema.FindTable("users")
	require.True(t, ok)
	require.Equal(t, []string{"id", "name"}, users.ColumnNames())

	// running again is a no-op.
	require.NoError(t, newMigration(0).Run(ctx, log, db))
}

func TestMigration_Versions(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)

	for _, tt := range []struct {
		version int
		class   *errs.Class
	}{
		{version: -1, class: &migrate.ErrTooOld},
		{version: 4, class: &migrate.ErrTooNew},
		{version: 100, class: &migrate.ErrTooNew},
	} {
		db, err := sqliteutil.OpenMemory()
		require.NoError(t, err)

		require.NoError(t, migrate.SetVersion(ctx, db, tt.version))

		err = newMigration(0).Run(ctx, log, db)
		require.Error(t, err)
		require.True(t, tt.class.Has(err), err)

		version, err := migrate.GetVersion(ctx, db)
		require.NoError(t, err)
		require.Equal(t, tt.version, version)

		require.NoError(t, db.Close())
	}

	migration := newMigration(0)
	migration.MinVersion = 2
	require.True(t, migrate.ErrTooOld.Has(migration.ValidateVersion(1)))
	require.NoError(t, migration.ValidateVersion(2))
	require.NoError(t, migration.ValidateVersion(3))
}

func TestMigration_ValidateSteps(t *testing.T) {
	migration := newMigration(0)
	require.NoError(t, migration.ValidateSteps())

	gap := newMigration(0)
	gap.Steps[1].Version = 4
	require.Error(t, gap.ValidateSteps())

	unordered := newMigration(0)
	unordered.Steps[0], unordered.Steps[1] = unordered.Steps[1], unordered.Steps[0]
	require.Error(t, unordered.ValidateSteps())

	require.Equal(t, 2, migration.TargetVersion(2).CurrentVersion())
}

func TestMigration_UnversionedWithTables(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := sqliteutil.OpenMemory()
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	_, err = db.ExecContext(ctx, `CREATE TABLE users (id TEXT)`)
	require.NoError(t, err)

	err = newMigration(0).Run(ctx, zaptest.NewLogger(t), db)
	require.Error(t, err)
	require.True(t, migrate.ErrTooOld.Has(err))

	version, err := migrate.GetVersion(ctx, db)
	require.NoError(t, err)
	require.Zero(t, version)
}
