// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package sqliteutil

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/errs"

	"storj.io/sfs/private/dbutil/dbschema"
	"storj.io/sfs/private/tagsql"
)

// SyncResult describes what syncing did, or would do, to a table.
type SyncResult int

const (
	// AlreadyInSync means the table matches the expected definition.
	AlreadyInSync SyncResult = iota
	// NewTableCreated means the table did not exist.
	NewTableCreated
	// NewColumnsAdded means the table only lacked columns that can be added in place.
	NewColumnsAdded
	// DroppedAndRecreated means the table can only be fixed by dropping it,
	// which loses its rows.
	DroppedAndRecreated
)

// String implements fmt.Stringer.
func (result SyncResult) String() string {
	switch result {
	case AlreadyInSync:
		return "already in sync"
	case NewTableCreated:
		return "new table created"
	case NewColumnsAdded:
		return "new columns added"
	case DroppedAndRecreated:
		return "dropped and recreated"
	default:
		return fmt.Sprintf("SyncResult(%d)", int(result))
	}
}

// SyncResults maps table names to their sync result.
type SyncResults map[string]SyncResult

// Destructive returns the sorted names of tables that are dropped and recreated.
func (results SyncResults) Destructive() []string {
	var tables []string
	for table, result := range results {
		if result == DroppedAndRecreated {
			tables = append(tables, table)
		}
	}
	sort.Strings(tables)
	return tables
}

// Expected is the schema a database is synced towards.
type Expected struct {
	Schema      *dbschema.Schema
	Definitions *Definitions
}

// LoadExpected executes statements on a scratch database and captures the
// resulting schema.
func LoadExpected(ctx context.Context, statements []string) (_ *Expected, err error) {
	defer mon.Task()(&ctx)(&err)

	db, err := OpenMemory()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(db.Close())) }()

	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return nil, Error.New("expected schema: %w", err)
		}
	}

	schema, err := QuerySchema(ctx, db)
	if err != nil {
		return nil, err
	}
	definitions, err := QueryDefinitions(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Expected{Schema: schema, Definitions: definitions}, nil
}

// PlanSync compares actual against expected and returns the result syncing
// each expected table would have.
func PlanSync(expected, actual *dbschema.Schema) SyncResults {
	results := SyncResults{}
	for _, want := range expected.Tables {
		have, ok := actual.FindTable(want.Name)
		if !ok {
			results[want.Name] = NewTableCreated
			continue
		}
		results[want.Name] = planTable(want, have)
	}
	return results
}

func planTable(want, have *dbschema.Table) SyncResult {
	for _, column := range have.Columns {
		if _, ok := want.FindColumn(column.Name); !ok {
			return DroppedAndRecreated
		}
	}

	added := false
	for _, column := range want.Columns {
		existing, ok := have.FindColumn(column.Name)
		if !ok {
			if !canAddColumn(want, column) {
				return DroppedAndRecreated
			}
			added = true
			continue
		}
		if !sameColumn(column, existing) {
			return DroppedAndRecreated
		}
	}

	if !equalStrings(want.PrimaryKey, have.PrimaryKey) {
		return DroppedAndRecreated
	}

	if added {
		return NewColumnsAdded
	}
	return AlreadyInSync
}

// canAddColumn reports whether ALTER TABLE ADD COLUMN can create column.
func canAddColumn(table *dbschema.Table, column *dbschema.Column) bool {
	for _, pk := range table.PrimaryKey {
		if pk == column.Name {
			return false
		}
	}
	for _, unique := range table.Unique {
		for _, name := range unique {
			if name == column.Name {
				return false
			}
		}
	}
	return column.IsNullable || column.Default != ""
}

func sameColumn(a, b *dbschema.Column) bool {
	if !strings.EqualFold(a.Type, b.Type) || a.IsNullable != b.IsNullable || a.Default != b.Default {
		return false
	}
	if (a.Reference == nil) != (b.Reference == nil) {
		return false
	}
	return a.Reference == nil || *a.Reference == *b.Reference
}

// SyncSchema brings db to the expected schema. Missing tables are created,
// missing columns are added, and tables that cannot be altered in place are
// dropped and created again. Missing indexes are created.
//
// Dropping a table referenced by foreign keys fails while foreign keys are
// enforced.
func SyncSchema(ctx context.Context, db tagsql.DB, expected *Expected) (_ SyncResults, err error) {
	defer mon.Task()(&ctx)(&err)

	actual, err := QuerySchema(ctx, db)
	if err != nil {
		return nil, err
	}

	results := PlanSync(expected.Schema, actual)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, Error.Wrap(tx.Rollback()))
		} else {
			err = Error.Wrap(tx.Commit())
		}
	}()

	for _, table := range expected.Schema.Tables {
		definition, ok := expected.Definitions.Tables[table.Name]
		if !ok {
			return nil, Error.New("missing definition for table %q", table.Name)
		}

		switch results[table.Name] {
		case NewTableCreated:
			_, err = tx.ExecContext(ctx, definition)
		case NewColumnsAdded:
			have, _ := actual.FindTable(table.Name)
			err = addColumns(ctx, tx, table, have)
		case DroppedAndRecreated:
			_, err = tx.ExecContext(ctx, `DROP TABLE `+quoteIdent(table.Name))
			if err == nil {
				_, err = tx.ExecContext(ctx, definition)
			}
		}
		if err != nil {
			return nil, Error.New("sync table %q: %w", table.Name, err)
		}
	}

	for _, index := range expected.Schema.Indexes {
		result := results[index.Table]
		if _, exists := actual.FindIndex(index.Name); exists && result != DroppedAndRecreated {
			continue
		}
		definition, ok := expected.Definitions.Indexes[index.Name]
		if !ok {
			return nil, Error.New("missing definition for index %q", index.Name)
		}
		if _, err = tx.ExecContext(ctx, definition); err != nil {
			return nil, Error.New("sync index %q: %w", index.Name, err)
		}
	}

	return results, nil
}

func addColumns(ctx context.Context, tx tagsql.Tx, want, have *dbschema.Table) error {
	for _, column := range want.Columns {
		if _, ok := have.FindColumn(column.Name); ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `ALTER TABLE `+quoteIdent(want.Name)+` ADD COLUMN `+columnDefinition(column)); err != nil {
			return err
		}
	}
	return nil
}

func columnDefinition(column *dbschema.Column) string {
	var def strings.Builder
	def.WriteString(quoteIdent(column.Name))
	if column.Type != "" {
		def.WriteString(" " + column.Type)
	}
	if !column.IsNullable {
		def.WriteString(" NOT NULL")
	}
	if column.Default != "" {
		def.WriteString(" DEFAULT " + column.Default)
	}
	if ref := column.Reference; ref != nil {
		def.WriteString(" REFERENCES " + quoteIdent(ref.Table))
		if ref.Column != "" {
			def.WriteString("(" + quoteIdent(ref.Column) + ")")
		}
		if ref.OnDelete != "" {
			def.WriteString(" ON DELETE " + ref.OnDelete)
		}
		if ref.OnUpdate != "" {
			def.WriteString(" ON UPDATE " + ref.OnUpdate)
		}
	}
	return def.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
