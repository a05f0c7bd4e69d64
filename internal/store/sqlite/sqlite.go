// Package sqlite stores imported records in a SQLite database using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/store"
)

const dateLayout = "2006-01-02"

// Open opens the database at path. SQLite allows a single writer, so the
// pool is capped at one connection; this also keeps ":memory:" databases
// shared across calls.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Store persists one entity to its table.
type Store struct {
	db    *sql.DB
	def   core.EntityDefinition
	stmts store.Statements
}

var (
	_ core.RecordStore   = (*Store)(nil)
	_ core.RecordUpdater = (*Store)(nil)
)

// New creates a store for def backed by db.
func New(db *sql.DB, def core.EntityDefinition) (*Store, error) {
	stmts, err := store.BuildStatements(def, store.QuestionPlaceholder)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, def: def, stmts: stmts}, nil
}

// NewStores creates a store for every registered entity.
func NewStores(db *sql.DB) (map[string]core.RecordStore, error) {
	var firstErr error
	stores := store.ForEntities(func(def core.EntityDefinition) core.RecordStore {
		s, err := New(db, def)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return s
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return stores, nil
}

func (s *Store) Create(ctx context.Context, rec core.Record) error {
	args := append(s.args(rec), store.NullableActor(core.ActorFromContext(ctx)))

	if _, err := s.db.ExecContext(ctx, s.stmts.Insert, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", s.def.Info.Key, core.ErrRecordExists)
		}
		return fmt.Errorf("insert %s: %w", s.def.Info.Key, err)
	}
	return nil
}

func (s *Store) FindByUniqueKey(ctx context.Context, value string) (core.Record, bool, error) {
	cols := s.def.Info.Columns
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	err := s.db.QueryRowContext(ctx, s.stmts.Select, value).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s: %w", s.def.Info.Key, err)
	}

	rec := make(core.Record, len(cols))
	for i, col := range cols {
		spec, _ := s.def.Spec(col)
		if v := fromSQLite(spec.Type, dest[i]); v != nil {
			rec[col] = v
		}
	}
	return rec, true, nil
}

func (s *Store) Update(ctx context.Context, key string, rec core.Record) error {
	args := append(s.args(rec), key)

	res, err := s.db.ExecContext(ctx, s.stmts.Update, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", s.def.Info.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", s.def.Info.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s %q: record not found", s.def.Info.Key, key)
	}
	return nil
}

func (s *Store) args(rec core.Record) []any {
	args := make([]any, len(s.def.Info.Columns))
	for i, col := range s.def.Info.Columns {
		spec, _ := s.def.Spec(col)
		args[i] = toSQLite(spec.Type, rec[col])
	}
	return args
}

// toSQLite converts a cleaned field value into a driver value.
// Dates are stored as ISO text.
func toSQLite(ft core.FieldType, v any) any {
	if v == nil {
		return nil
	}
	if t, ok := v.(time.Time); ok && ft == core.FieldDate {
		return t.Format(dateLayout)
	}
	return v
}

func fromSQLite(ft core.FieldType, v any) any {
	if v == nil {
		return nil
	}
	switch ft {
	case core.FieldDate:
		if s, ok := asString(v); ok {
			if t, err := time.Parse(dateLayout, s); err == nil {
				return t
			}
		}
	case core.FieldBool:
		if n, ok := v.(int64); ok {
			return n != 0
		}
	case core.FieldNumeric:
		switch n := v.(type) {
		case int64:
			return float64(n)
		case float64:
			return n
		}
	default:
		if s, ok := asString(v); ok {
			return s
		}
	}
	return v
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
