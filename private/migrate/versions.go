// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package migrate implements versioned migrations of sqlite databases. The
// version is kept in the database header (PRAGMA user_version).
package migrate

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/sfs/private/dbutil/txutil"
	"storj.io/sfs/private/tagsql"
)

var (
	// Error is the default migrate errs class.
	Error = errs.Class("migrate")
	// ErrValidateVersionQuery is when there is an error querying the version.
	ErrValidateVersionQuery = errs.Class("validate db version query error")
	// ErrTooOld is when the database is older than the oldest version the steps can migrate from.
	ErrTooOld = errs.Class("database too old to migrate")
	// ErrTooNew is when the database was written by a newer release.
	ErrTooNew = errs.Class("database from the future, upgrade the software")
)

/*

Scenarios it doesn't handle properly.

1. Undoing migrations.

	Intentionally left out, the database can only move forward.

2. Side effects outside of the database.

	A step runs in a transaction together with the version update, moving
	files in a step can not be rolled back.

*/

// Migration describes a migration steps.
type Migration struct {
	// MinVersion is the oldest version the steps can upgrade from.
	MinVersion int
	Steps      []*Step
}

// Step describes a single step in migration. Running it moves the database
// from Version-1 to Version.
type Step struct {
	Description string
	Version     int
	Action      Action
}

// Action is something that needs to be done.
type Action interface {
	Run(ctx context.Context, log *zap.Logger, tx tagsql.Tx) error
}

// CurrentVersion returns the version the database has after all steps.
func (migration *Migration) CurrentVersion() int {
	if len(migration.Steps) == 0 {
		return migration.MinVersion
	}
	return migration.Steps[len(migration.Steps)-1].Version
}

// TargetVersion returns migration with steps upto specified version.
func (migration *Migration) TargetVersion(version int) *Migration {
	m := *migration
	m.Steps = nil
	for _, step := range migration.Steps {
		if step.Version <= version {
			m.Steps = append(m.Steps, step)
		}
	}
	return &m
}

// ValidateSteps checks that the version for each migration step increments in order.
func (migration *Migration) ValidateSteps() error {
	if migration.MinVersion < 1 {
		return Error.New("minimum version must be positive: %d", migration.MinVersion)
	}
	sorted := sort.SliceIsSorted(migration.Steps, func(i, j int) bool {
		return migration.Steps[i].Version < migration.Steps[j].Version
	})
	if !sorted {
		return Error.New("steps have incorrect order")
	}
	expected := migration.MinVersion + 1
	for _, step := range migration.Steps {
		if step.Version > expected {
			return Error.New("missing step for version %d", expected)
		}
		if step.Version == expected {
			expected++
		}
	}
	return nil
}

// ValidateVersion checks that version can be migrated by the steps.
func (migration *Migration) ValidateVersion(version int) error {
	current := migration.CurrentVersion()
	switch {
	case version > current:
		return ErrTooNew.New("database version %d, supported %d", version, current)
	case version < migration.MinVersion:
		return ErrTooOld.New("database version %d, minimum %d", version, migration.MinVersion)
	}
	return nil
}

// Run runs the migration steps. An empty database without a version is
// stamped with the current version.
func (migration *Migration) Run(ctx context.Context, log *zap.Logger, db tagsql.DB) error {
	err := migration.ValidateSteps()
	if err != nil {
		return err
	}

	version, err := GetVersion(ctx, db)
	if err != nil {
		return ErrValidateVersionQuery.Wrap(err)
	}

	current := migration.CurrentVersion()
	if version == 0 {
		tables, err := countTables(ctx, db)
		if err != nil {
			return ErrValidateVersionQuery.Wrap(err)
		}
		if tables > 0 {
			return ErrTooOld.New("database without version has %d tables, minimum %d", tables, migration.MinVersion)
		}

		err = txutil.WithTx(ctx, log, db, nil, func(ctx context.Context, tx tagsql.Tx) error {
			return setVersion(ctx, tx, current)
		})
		if err != nil {
			return Error.Wrap(err)
		}
		log.Info("Database Created", zap.Int("version", current))
		return nil
	}

	if err := migration.ValidateVersion(version); err != nil {
		return err
	}

	for _, step := range migration.Steps {
		step := step
		if step.Version <= version {
			continue
		}

		stepLog := log.Named(strconv.Itoa(step.Version))
		stepLog.Info(step.Description, zap.Int("from", version))

		err = txutil.WithTx(ctx, log, db, nil, func(ctx context.Context, tx tagsql.Tx) error {
			err := step.Action.Run(ctx, stepLog, tx)
			if err != nil {
				return err
			}
			return setVersion(ctx, tx, step.Version)
		})
		if err != nil {
			return Error.New("step %d: %w", step.Version, err)
		}
		version = step.Version
	}

	log.Info("Database Version", zap.Int("version", version))
	return nil
}

func countTables(ctx context.Context, db tagsql.Querier) (count int, err error) {
	err = db.QueryRowContext(ctx, `
		SELECT count(*) FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
	`).Scan(&count)
	return count, err
}

// GetVersion returns the schema version stored in the database.
func GetVersion(ctx context.Context, db tagsql.Querier) (version int, err error) {
	err = db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version)
	return version, Error.Wrap(err)
}

// SetVersion stores the schema version outside of a migration.
func SetVersion(ctx context.Context, db tagsql.Querier, version int) error {
	return Error.Wrap(setVersion(ctx, db, version))
}

func setVersion(ctx context.Context, db tagsql.Querier, version int) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, version))
	return err
}

// SQL statements that are executed on the database.
type SQL []string

// Run runs the SQL statements.
func (sql SQL) Run(ctx context.Context, log *zap.Logger, tx tagsql.Tx) (err error) {
	for _, query := range sql {
		_, err := tx.ExecContext(ctx, query)
		if err != nil {
			return errs.Wrap(err)
		}
	}
	return nil
}

// Func is an arbitrary operation.
type Func func(ctx context.Context, log *zap.Logger, tx tagsql.Tx) error

// Run runs the migration.
func (fn Func) Run(ctx context.Context, log *zap.Logger, tx tagsql.Tx) error {
	return fn(ctx, log, tx)
}
