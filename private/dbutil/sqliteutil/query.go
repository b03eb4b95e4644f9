// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sqliteutil

import (
	"context"
	"database/sql"
	"sort"

	"github.com/zeebo/errs"

	"storj.io/sfs/private/dbutil/dbschema"
	"storj.io/sfs/private/tagsql"
)

// QuerySchema loads the schema from sqlite database.
func QuerySchema(ctx context.Context, db tagsql.Querier) (_ *dbschema.Schema, err error) {
	defer mon.Task()(&ctx)(&err)

	schema := &dbschema.Schema{}

	objects, err := queryObjects(ctx, db)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	for _, object := range objects {
		switch object.kind {
		case "table":
			table, err := queryTable(ctx, db, object.name)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			schema.Tables = append(schema.Tables, table)
		case "index":
			// unique constraints create indexes without sql, those are part of the table.
			if !object.sql.Valid {
				continue
			}
			index, err := queryIndex(ctx, db, object.table, object.name)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			schema.Indexes = append(schema.Indexes, index)
		}
	}

	schema.Sort()
	return schema, nil
}

// Definitions are the statements that created each table and index.
type Definitions struct {
	Tables  map[string]string
	Indexes map[string]string
}

// QueryDefinitions loads the create statements from sqlite database.
func QueryDefinitions(ctx context.Context, db tagsql.Querier) (_ *Definitions, err error) {
	defer mon.Task()(&ctx)(&err)

	objects, err := queryObjects(ctx, db)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	definitions := &Definitions{
		Tables:  map[string]string{},
		Indexes: map[string]string{},
	}
	for _, object := range objects {
		if !object.sql.Valid {
			continue
		}
		switch object.kind {
		case "table":
			definitions.Tables[object.name] = object.sql.String
		case "index":
			definitions.Indexes[object.name] = object.sql.String
		}
	}
	return definitions, nil
}

type schemaObject struct {
	kind  string
	name  string
	table string
	sql   sql.NullString
}

func queryObjects(ctx context.Context, db tagsql.Querier) (_ []schemaObject, err error) {
	rows, err := db.QueryContext(ctx, `
		SELECT type, name, tbl_name, sql
		FROM sqlite_master
		WHERE type IN ('table', 'index') AND name NOT LIKE 'sqlite_%'
		ORDER BY type DESC, name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var objects []schemaObject
	for rows.Next() {
		var object schemaObject
		if err := rows.Scan(&object.kind, &object.name, &object.table, &object.sql); err != nil {
			return nil, err
		}
		objects = append(objects, object)
	}
	return objects, rows.Err()
}

func queryTable(ctx context.Context, db tagsql.Querier, name string) (_ *dbschema.Table, err error) {
	table := &dbschema.Table{Name: name}

	type primaryKeyColumn struct {
		name     string
		position int
	}
	var primaryKey []primaryKeyColumn

	err = withRows(db.QueryContext(ctx, `
		SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)
	`, name))(func(rows *sql.Rows) error {
		for rows.Next() {
			var column dbschema.Column
			var notNull bool
			var defaultValue sql.NullString
			var pk int
			if err := rows.Scan(&column.Name, &column.Type, &notNull, &defaultValue, &pk); err != nil {
				return err
			}
			column.IsNullable = !notNull && pk == 0
			column.Default = defaultValue.String
			if pk > 0 {
				primaryKey = append(primaryKey, primaryKeyColumn{name: column.Name, position: pk})
			}
			table.AddColumn(&column)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(primaryKey, func(i, k int) bool { return primaryKey[i].position < primaryKey[k].position })
	for _, column := range primaryKey {
		table.PrimaryKey = append(table.PrimaryKey, column.name)
	}

	err = withRows(db.QueryContext(ctx, `
		SELECT "table", "from", "to", on_update, on_delete FROM pragma_foreign_key_list(?)
	`, name))(func(rows *sql.Rows) error {
		for rows.Next() {
			var reference dbschema.Reference
			var from string
			var to sql.NullString
			var onUpdate, onDelete string
			if err := rows.Scan(&reference.Table, &from, &to, &onUpdate, &onDelete); err != nil {
				return err
			}
			reference.Column = to.String
			if onDelete != "NO ACTION" {
				reference.OnDelete = onDelete
			}
			if onUpdate != "NO ACTION" {
				reference.OnUpdate = onUpdate
			}
			if column, ok := table.FindColumn(from); ok {
				column.Reference = &reference
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	var uniqueIndexes []string
	err = withRows(db.QueryContext(ctx, `
		SELECT name FROM pragma_index_list(?) WHERE origin = 'u'
	`, name))(func(rows *sql.Rows) error {
		for rows.Next() {
			var index string
			if err := rows.Scan(&index); err != nil {
				return err
			}
			uniqueIndexes = append(uniqueIndexes, index)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	for _, index := range uniqueIndexes {
		columns, err := queryIndexColumns(ctx, db, index)
		if err != nil {
			return nil, err
		}
		table.Unique = append(table.Unique, columns)
	}

	return table, nil
}

func queryIndex(ctx context.Context, db tagsql.Querier, table, name string) (_ *dbschema.Index, err error) {
	index := &dbschema.Index{Name: name, Table: table}

	err = withRows(db.QueryContext(ctx, `
		SELECT "unique" FROM pragma_index_list(?) WHERE name = ?
	`, table, name))(func(rows *sql.Rows) error {
		for rows.Next() {
			if err := rows.Scan(&index.Unique); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	index.Columns, err = queryIndexColumns(ctx, db, name)
	if err != nil {
		return nil, err
	}
	return index, nil
}

func queryIndexColumns(ctx context.Context, db tagsql.Querier, index string) (columns []string, err error) {
	err = withRows(db.QueryContext(ctx, `
		SELECT name FROM pragma_index_info(?) ORDER BY seqno
	`, index))(func(rows *sql.Rows) error {
		for rows.Next() {
			var column string
			if err := rows.Scan(&column); err != nil {
				return err
			}
			columns = append(columns, column)
		}
		return rows.Err()
	})
	return columns, err
}

func withRows(rows *sql.Rows, err error) func(func(*sql.Rows) error) error {
	return func(callback func(*sql.Rows) error) error {
		if err != nil {
			return err
		}
		err := callback(rows)
		return errs.Combine(rows.Err(), rows.Close(), err)
	}
}
