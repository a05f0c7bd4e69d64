// Package postgres stores imported records in PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/store"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// DBTX is the subset of pgxpool.Pool and pgx.Tx the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists one entity to its table.
type Store struct {
	db    DBTX
	def   core.EntityDefinition
	stmts store.Statements
}

var (
	_ core.RecordStore   = (*Store)(nil)
	_ core.RecordUpdater = (*Store)(nil)
)

// New creates a store for def backed by db.
func New(db DBTX, def core.EntityDefinition) (*Store, error) {
	stmts, err := store.BuildStatements(def, store.DollarPlaceholder)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, def: def, stmts: stmts}, nil
}

// NewStores creates a store for every registered entity.
func NewStores(pool *pgxpool.Pool) (map[string]core.RecordStore, error) {
	var firstErr error
	stores := store.ForEntities(func(def core.EntityDefinition) core.RecordStore {
		s, err := New(pool, def)
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

	if _, err := s.db.Exec(ctx, s.stmts.Insert, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert %s: %w", s.def.Info.Key, core.ErrRecordExists)
		}
		return fmt.Errorf("insert %s: %w", s.def.Info.Key, err)
	}
	return nil
}

func (s *Store) FindByUniqueKey(ctx context.Context, value string) (core.Record, bool, error) {
	rows, err := s.db.Query(ctx, s.stmts.Select, value)
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s: %w", s.def.Info.Key, err)
	}

	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s: %w", s.def.Info.Key, err)
	}
	return s.record(row), true, nil
}

func (s *Store) Update(ctx context.Context, key string, rec core.Record) error {
	args := append(s.args(rec), key)

	tag, err := s.db.Exec(ctx, s.stmts.Update, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", s.def.Info.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %q: record not found", s.def.Info.Key, key)
	}
	return nil
}

// args converts rec into bind arguments in column order.
func (s *Store) args(rec core.Record) []any {
	args := make([]any, len(s.def.Info.Columns))
	for i, col := range s.def.Info.Columns {
		spec, _ := s.def.Spec(col)
		args[i] = toPg(spec.Type, rec[col])
	}
	return args
}

// record converts a scanned row back into a Record, dropping NULLs.
func (s *Store) record(row map[string]any) core.Record {
	rec := make(core.Record, len(row))
	for col, v := range row {
		if v = fromPg(v); v != nil {
			rec[col] = v
		}
	}
	return rec
}

// toPg converts a cleaned field value into its pgtype counterpart.
// Absent values become typed NULLs.
func toPg(ft core.FieldType, v any) any {
	switch ft {
	case core.FieldDate:
		if t, ok := v.(time.Time); ok {
			return pgtype.Date{Time: t, Valid: true}
		}
		return pgtype.Date{}

	case core.FieldNumeric:
		if f, ok := v.(float64); ok {
			return toPgNumeric(f)
		}
		return pgtype.Numeric{}

	case core.FieldBool:
		if b, ok := v.(bool); ok {
			return pgtype.Bool{Bool: b, Valid: true}
		}
		return pgtype.Bool{}

	default:
		return toPgText(v)
	}
}

func toPgText(v any) pgtype.Text {
	if v == nil {
		return pgtype.Text{}
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPgNumeric(f float64) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(strconv.FormatFloat(f, 'f', -1, 64)); err != nil {
		return pgtype.Numeric{}
	}
	return n
}

// fromPg unwraps pgtype values returned for numeric columns.
func fromPg(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case nil:
		return nil
	default:
		return val
	}
}
