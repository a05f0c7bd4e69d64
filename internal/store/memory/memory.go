// Package memory is an in-process record store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/store"
)

// Store keeps records for one entity keyed by its unique field.
type Store struct {
	def core.EntityDefinition

	mu      sync.RWMutex
	records map[string]core.Record
	order   []string
}

var (
	_ core.RecordStore   = (*Store)(nil)
	_ core.RecordUpdater = (*Store)(nil)
)

// New creates an empty store for def.
func New(def core.EntityDefinition) *Store {
	return &Store{def: def, records: make(map[string]core.Record)}
}

// NewStores creates one empty store per registered entity.
func NewStores() map[string]core.RecordStore {
	return store.ForEntities(func(def core.EntityDefinition) core.RecordStore {
		return New(def)
	})
}

func (s *Store) Create(ctx context.Context, rec core.Record) error {
	key, err := s.keyOf(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[key]; exists {
		return fmt.Errorf("insert %s %q: %w", s.def.Info.Key, key, core.ErrRecordExists)
	}

	stored := copyRecord(rec)
	if actor := core.ActorFromContext(ctx); actor != "" {
		stored["created_by"] = actor
	}
	stored["created_at"] = time.Now().UTC()
	s.records[key] = stored
	s.order = append(s.order, key)
	return nil
}

func (s *Store) FindByUniqueKey(_ context.Context, value string) (core.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[value]
	if !ok {
		return nil, false, nil
	}
	return copyRecord(rec), true, nil
}

// Update replaces the entity fields of the record stored under key.
// Bookkeeping fields are kept.
func (s *Store) Update(_ context.Context, key string, rec core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if !ok {
		return fmt.Errorf("update %s %q: record not found", s.def.Info.Key, key)
	}

	updated := copyRecord(rec)
	for _, f := range []string{"created_by", "created_at"} {
		if v, ok := existing[f]; ok {
			updated[f] = v
		}
	}
	updated["updated_at"] = time.Now().UTC()
	s.records[key] = updated
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns copies of all records in insertion order.
func (s *Store) Records() []core.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Record, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, copyRecord(s.records[key]))
	}
	return out
}

func (s *Store) keyOf(rec core.Record) (string, error) {
	v, ok := rec[s.def.Info.UniqueKey]
	if !ok || v == nil {
		return "", fmt.Errorf("insert %s: missing unique field %s", s.def.Info.Key, s.def.Info.UniqueKey)
	}
	return fmt.Sprint(v), nil
}

func copyRecord(rec core.Record) core.Record {
	out := make(core.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
