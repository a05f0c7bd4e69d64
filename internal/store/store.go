// Package store holds the record store backends the import service writes
// to, plus the schema migrations shared by the SQL backends.
//
// Each backend exposes one RecordStore per registered entity. Stores map
// entity fields to same-named columns and add the bookkeeping columns
// created_by, created_at and updated_at.
package store

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/importer/internal/core"
)

// Drivers accepted by STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Drivers lists the supported store drivers.
var Drivers = []string{DriverMemory, DriverPostgres, DriverSQLite}

// ForEntities builds one store per registered entity using newStore.
func ForEntities(newStore func(def core.EntityDefinition) core.RecordStore) map[string]core.RecordStore {
	defs := core.All()
	stores := make(map[string]core.RecordStore, len(defs))
	for _, def := range defs {
		stores[def.Info.Key] = newStore(def)
	}
	return stores
}

// QuoteIdentifier quotes a SQL identifier, doubling embedded quotes.
// Both Postgres and SQLite accept double-quoted identifiers.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteColumns quotes each column name.
func QuoteColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = QuoteIdentifier(c)
	}
	return out
}

// TableName returns the table an entity is stored in.
func TableName(def core.EntityDefinition) string {
	if def.Info.Table != "" {
		return def.Info.Table
	}
	return def.Info.Key
}

// Statements holds the SQL a backend runs for one entity.
type Statements struct {
	Insert string // entity columns then created_by
	Select string // one arg: unique key value
	Update string // entity columns then the unique key value
}

// BuildStatements renders the insert, lookup and update statements for def.
// placeholder returns the bind marker for the n-th (1-based) argument.
func BuildStatements(def core.EntityDefinition, placeholder func(n int) string) (Statements, error) {
	if def.Info.UniqueKey == "" {
		return Statements{}, fmt.Errorf("entity %s has no unique key", def.Info.Key)
	}

	table := QuoteIdentifier(TableName(def))
	cols := def.Info.Columns
	quoted := QuoteColumns(cols)
	key := QuoteIdentifier(def.Info.UniqueKey)

	insertCols := append(append([]string{}, quoted...), QuoteIdentifier("created_by"))
	marks := make([]string, len(insertCols))
	for i := range marks {
		marks[i] = placeholder(i + 1)
	}

	sets := make([]string, len(quoted))
	for i, c := range quoted {
		sets[i] = fmt.Sprintf("%s = %s", c, placeholder(i+1))
	}
	sets = append(sets, QuoteIdentifier("updated_at")+" = CURRENT_TIMESTAMP")

	return Statements{
		Insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(insertCols, ", "), strings.Join(marks, ", ")),
		Select: fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
			strings.Join(quoted, ", "), table, key, placeholder(1)),
		Update: fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
			table, strings.Join(sets, ", "), key, placeholder(len(quoted)+1)),
	}, nil
}

// DollarPlaceholder renders Postgres-style $n markers.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// QuestionPlaceholder renders SQLite-style ? markers.
func QuestionPlaceholder(int) string { return "?" }

// NullableActor returns the actor for created_by, or nil when anonymous.
func NullableActor(actor string) any {
	if actor == "" {
		return nil
	}
	return actor
}
