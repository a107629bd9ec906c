package schema

import (
	"fmt"
	"sync"

	"github.com/arjunmenon/qcompile/schema/field"
)

// indices are the memoized, derived-from-Fields views a Cache computes
// once per model and then serves from memory for the model's lifetime.
type indices struct {
	byName     map[string]Field
	scalar     map[string]struct{}
	relation   map[string]struct{}
	json       map[string]struct{}
	array      map[string]struct{}
	numeric    map[string]struct{}
	primaryKey []Field
}

func buildIndices(m *Model) *indices {
	idx := &indices{
		byName:   make(map[string]Field, len(m.Fields)),
		scalar:   make(map[string]struct{}),
		relation: make(map[string]struct{}),
		json:     make(map[string]struct{}),
		array:    make(map[string]struct{}),
		numeric:  make(map[string]struct{}),
	}
	for _, f := range m.Fields {
		idx.byName[f.Name] = f
		if f.IsRelation {
			idx.relation[f.Name] = struct{}{}
			continue
		}
		idx.scalar[f.Name] = struct{}{}
		if f.Type == field.TypeJSON {
			idx.json[f.Name] = struct{}{}
		}
		if f.Array {
			idx.array[f.Name] = struct{}{}
		}
		if f.Type.Numeric() {
			idx.numeric[f.Name] = struct{}{}
		}
	}
	return idx
}

// Cache is the per-model memoized index set described by spec.md §4.4:
// field-by-name lookup plus scalar/relation/JSON/array/numeric
// classification and primary-key resolution. A Cache is read-only after
// construction and safe for concurrent use by multiple compilations.
type Cache struct {
	models map[string]*Model
	mu     sync.RWMutex
	idx    map[string]*indices
}

// NewCache builds a Cache over the given models, keyed by Model.Name.
// Per-model indices are computed lazily on first access and memoized
// thereafter, so constructing a Cache over a large schema is cheap even
// when only a handful of models are ever queried.
func NewCache(models []*Model) *Cache {
	byName := make(map[string]*Model, len(models))
	for _, m := range models {
		byName[m.Name] = m
	}
	return &Cache{models: byName, idx: make(map[string]*indices)}
}

// Model returns the Model registered under name.
func (c *Cache) Model(name string) (*Model, error) {
	m, ok := c.models[name]
	if !ok {
		return nil, fmt.Errorf("schema: unknown model %q", name)
	}
	return m, nil
}

func (c *Cache) indicesFor(name string) (*Model, *indices, error) {
	m, err := c.Model(name)
	if err != nil {
		return nil, nil, err
	}
	c.mu.RLock()
	idx, ok := c.idx[name]
	c.mu.RUnlock()
	if ok {
		return m, idx, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.idx[name]; ok {
		return m, idx, nil
	}
	idx = buildIndices(m)
	c.idx[name] = idx
	return m, idx, nil
}

// GetFieldByName returns model's field named name.
func (c *Cache) GetFieldByName(model, name string) (Field, bool) {
	_, idx, err := c.indicesFor(model)
	if err != nil {
		return Field{}, false
	}
	f, ok := idx.byName[name]
	return f, ok
}

// IsRelation reports whether model.name is a relation field.
func (c *Cache) IsRelation(model, name string) bool {
	_, idx, err := c.indicesFor(model)
	if err != nil {
		return false
	}
	_, ok := idx.relation[name]
	return ok
}

// IsScalar reports whether model.name is a non-relation field.
func (c *Cache) IsScalar(model, name string) bool {
	_, idx, err := c.indicesFor(model)
	if err != nil {
		return false
	}
	_, ok := idx.scalar[name]
	return ok
}

// IsJSONType reports whether model.name is a JSON-typed scalar field.
func (c *Cache) IsJSONType(model, name string) bool {
	_, idx, err := c.indicesFor(model)
	if err != nil {
		return false
	}
	_, ok := idx.json[name]
	return ok
}

// IsArrayType reports whether model.name holds a list of its base type.
func (c *Cache) IsArrayType(model, name string) bool {
	_, idx, err := c.indicesFor(model)
	if err != nil {
		return false
	}
	_, ok := idx.array[name]
	return ok
}

// IsNumeric reports whether model.name's base type supports ordering
// comparisons (gt/gte/lt/lte).
func (c *Cache) IsNumeric(model, name string) bool {
	_, idx, err := c.indicesFor(model)
	if err != nil {
		return false
	}
	_, ok := idx.numeric[name]
	return ok
}

// GetPrimaryKeyFields returns model's primary-key fields. The result always
// has length 1: composite primary keys are not discovered.
func (c *Cache) GetPrimaryKeyFields(model string) ([]Field, error) {
	m, idx, err := c.indicesFor(model)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	pk := idx.primaryKey
	c.mu.RUnlock()
	if pk != nil {
		return pk, nil
	}
	// Field carries no primary-key tag, so the key is found by name: the
	// first scalar field named "id". No other name is recognized.
	for _, f := range m.Fields {
		if !f.IsRelation && f.Name == "id" {
			pk = []Field{f}
			c.mu.Lock()
			idx.primaryKey = pk
			c.mu.Unlock()
			return pk, nil
		}
	}
	return nil, fmt.Errorf("schema: model %q has no primary key field", model)
}

// GetPrimaryKey returns model's sole primary-key field, erroring if the
// key is composite.
func (c *Cache) GetPrimaryKey(model string) (Field, error) {
	fs, err := c.GetPrimaryKeyFields(model)
	if err != nil {
		return Field{}, err
	}
	if len(fs) != 1 {
		return Field{}, fmt.Errorf("schema: model %q has a composite primary key", model)
	}
	return fs[0], nil
}
