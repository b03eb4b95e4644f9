// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sfsdb

import (
	"context"

	"go.uber.org/zap"

	"storj.io/sfs/private/migrate"
	"storj.io/sfs/private/tagsql"
)

const (
	// MinVersion is the oldest schema version Open can upgrade.
	MinVersion = 1
	// CurrentVersion is the schema version of this release.
	CurrentVersion = 4
)

// Migration returns the steps upgrading a database to CurrentVersion.
func Migration() *migrate.Migration {
	return &migrate.Migration{
		MinVersion: MinVersion,
		Steps: []*migrate.Step{
			{
				Description: "Add multipart uploads",
				Version:     2,
				Action: migrate.SQL{
					`CREATE TABLE IF NOT EXISTS multiparts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						bucket_id TEXT NOT NULL REFERENCES buckets (bucket_id),
						upload_id TEXT NOT NULL UNIQUE,
						state INTEGER NOT NULL,
						state_change_time INTEGER,
						object_name TEXT NOT NULL,
						path_uuid TEXT NOT NULL UNIQUE,
						meta_str TEXT,
						owner_id TEXT,
						mtime INTEGER,
						attrs BLOB,
						placement TEXT,
						UNIQUE (bucket_id, upload_id)
					)`,
					`CREATE TABLE IF NOT EXISTS multiparts_parts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						upload_id TEXT NOT NULL REFERENCES multiparts (upload_id),
						part_num INTEGER NOT NULL,
						len INTEGER NOT NULL DEFAULT 0,
						etag TEXT,
						mtime INTEGER,
						UNIQUE (upload_id, part_num)
					)`,
				},
			},
			{
				Description: "Rename multipart part len to size",
				Version:     3,
				Action: migrate.Func(func(ctx context.Context, log *zap.Logger, tx tagsql.Tx) error {
					ok, err := hasColumn(ctx, tx, "multiparts_parts", "len")
					if err != nil || !ok {
						return err
					}
					_, err = tx.ExecContext(ctx, `ALTER TABLE multiparts_parts RENAME COLUMN len TO size`)
					return err
				}),
			},
			{
				Description: "Add version type to versioned objects",
				Version:     4,
				Action: migrate.Func(func(ctx context.Context, log *zap.Logger, tx tagsql.Tx) error {
					ok, err := hasColumn(ctx, tx, "versioned_objects", "version_type")
					if err != nil || ok {
						return err
					}
					_, err = tx.ExecContext(ctx, `ALTER TABLE versioned_objects ADD COLUMN version_type INTEGER NOT NULL DEFAULT 0`)
					return err
				}),
			},
		},
	}
}

func hasColumn(ctx context.Context, db tagsql.Querier, table, column string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT count(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	return count > 0, err
}
