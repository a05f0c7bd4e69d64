package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	entities   = make(map[string]EntityDefinition)
	entitiesMu sync.RWMutex
)

// Register adds an entity definition to the catalogue.
// Panics if an entity with the same key is already registered.
func Register(def EntityDefinition) {
	entitiesMu.Lock()
	defer entitiesMu.Unlock()

	if _, exists := entities[def.Info.Key]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Info.Key))
	}

	// Populate Columns from FieldSpecs if not set
	if len(def.Info.Columns) == 0 && len(def.FieldSpecs) > 0 {
		def.Info.Columns = make([]string, len(def.FieldSpecs))
		for i, spec := range def.FieldSpecs {
			def.Info.Columns[i] = spec.Name
		}
	}

	entities[def.Info.Key] = def
}

// Get returns an entity definition by key.
func Get(key string) (EntityDefinition, bool) {
	entitiesMu.RLock()
	defer entitiesMu.RUnlock()

	def, ok := entities[key]
	return def, ok
}

// Lookup is Get with an ErrUnknownEntity error for missing keys.
func Lookup(key string) (EntityDefinition, error) {
	def, ok := Get(key)
	if !ok {
		return EntityDefinition{}, fmt.Errorf("%w: %s", ErrUnknownEntity, key)
	}
	return def, nil
}

// All returns all registered entity definitions sorted by key.
func All() []EntityDefinition {
	entitiesMu.RLock()
	defer entitiesMu.RUnlock()

	result := make([]EntityDefinition, 0, len(entities))
	for _, def := range entities {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})

	return result
}

// EntityCount returns the number of registered entities.
func EntityCount() int {
	entitiesMu.RLock()
	defer entitiesMu.RUnlock()
	return len(entities)
}
