// Package arangotest provides an in-memory arango.Database for exercising
// the pipeline engines without a running server. The fixed AQL statements of
// the state store are interpreted directly; anything else can be routed
// through the overridable query hooks.
package arangotest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mowtools/emsync/internal/arango"
)

// ExecCall records one Exec invocation
type ExecCall struct {
	Query string
	Bind  map[string]interface{}
}

// IndexCall records one EnsurePersistentIndex invocation
type IndexCall struct {
	Collection string
	Fields     []string
	Sparse     bool
}

type collection struct {
	edge bool
	docs map[string]map[string]interface{}
}

// MemoryDB is an in-memory arango.Database
type MemoryDB struct {
	mu          sync.Mutex
	collections map[string]*collection

	Graphs  map[string]arango.EdgeDefinition
	Indexes []IndexCall
	Execs   []ExecCall

	// Optional hooks for queries the built-in interpreter does not cover
	QueryAllFn     func(query string, bind map[string]interface{}) ([]map[string]interface{}, error)
	QueryStringsFn func(query string, bind map[string]interface{}) ([]string, error)
	ExecFn         func(query string, bind map[string]interface{}) error
}

// NewMemoryDB creates an empty in-memory database
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		collections: make(map[string]*collection),
		Graphs:      make(map[string]arango.EdgeDefinition),
	}
}

func (m *MemoryDB) coll(name string) *collection {
	c, ok := m.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]map[string]interface{})}
		m.collections[name] = c
	}
	return c
}

// Docs returns the documents of a collection
func (m *MemoryDB) Docs(name string) []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(c.docs))
	for _, doc := range c.docs {
		out = append(out, doc)
	}
	return out
}

// Doc returns one document by key, nil when absent
func (m *MemoryDB) Doc(collection, key string) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil
	}
	return c.docs[key]
}

// Collections lists the existing collection names
func (m *MemoryDB) Collections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	return names
}

// CollectionExists implements arango.Database
func (m *MemoryDB) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.collections[name]
	return ok, nil
}

// EnsureCollection implements arango.Database
func (m *MemoryDB) EnsureCollection(_ context.Context, name string, edge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(name)
	c.edge = edge
	return nil
}

// TruncateCollection implements arango.Database
func (m *MemoryDB) TruncateCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coll(name).docs = make(map[string]map[string]interface{})
	return nil
}

// Count implements arango.Database
func (m *MemoryDB) Count(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.coll(name).docs)), nil
}

// ImportBulk implements arango.Database with on-duplicate=update semantics
func (m *MemoryDB) ImportBulk(_ context.Context, name string, docs []map[string]interface{}, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(name)
	for _, doc := range docs {
		key, _ := doc["_key"].(string)
		if key == "" {
			return fmt.Errorf("imported document without _key in %s", name)
		}
		existing, ok := c.docs[key]
		if !ok {
			existing = make(map[string]interface{}, len(doc))
			c.docs[key] = existing
		}
		for k, v := range doc {
			existing[k] = v
		}
	}
	return nil
}

// Exec implements arango.Database. The params-collection statements of the
// state store are interpreted; other statements go to ExecFn when set.
func (m *MemoryDB) Exec(_ context.Context, query string, bind map[string]interface{}) error {
	m.mu.Lock()
	m.Execs = append(m.Execs, ExecCall{Query: query, Bind: bind})
	m.mu.Unlock()

	switch {
	case strings.Contains(query, "UPSERT") && strings.Contains(query, "IN params"):
		key, _ := bind["key"].(string)
		m.mu.Lock()
		defer m.mu.Unlock()
		c := m.coll("params")
		doc, ok := c.docs[key]
		if !ok {
			doc = map[string]interface{}{"_key": key}
			c.docs[key] = doc
		}
		doc["value"] = bind["value"]
		return nil

	case strings.Contains(query, "UPDATE @key WITH") && strings.Contains(query, "IN params"):
		key, _ := bind["key"].(string)
		m.mu.Lock()
		defer m.mu.Unlock()
		doc, ok := m.coll("params").docs[key]
		if !ok {
			return fmt.Errorf("params document %q not found", key)
		}
		if strings.Contains(query, "from: @from") {
			doc["from"] = bind["from"]
		}
		if strings.Contains(query, "from: null") {
			doc["from"] = nil
		}
		if strings.Contains(query, "fill: false") {
			doc["fill"] = false
		}
		if strings.Contains(query, "fill: true") {
			doc["fill"] = true
		}
		return nil

	case strings.Contains(query, "STARTS_WITH(doc._key, \"fill_\")") && strings.Contains(query, "REMOVE"):
		m.mu.Lock()
		defer m.mu.Unlock()
		c := m.coll("params")
		for key := range c.docs {
			if strings.HasPrefix(key, "fill_") {
				delete(c.docs, key)
			}
		}
		return nil
	}

	if m.ExecFn != nil {
		return m.ExecFn(query, bind)
	}
	return nil
}

// QueryAll implements arango.Database
func (m *MemoryDB) QueryAll(_ context.Context, query string, bind map[string]interface{}) ([]map[string]interface{}, error) {
	if strings.Contains(query, "doc.page == -1") {
		var out []map[string]interface{}
		for _, doc := range m.Docs("params") {
			if page, ok := doc["page"]; ok && intValue(page) == -1 {
				out = append(out, doc)
			}
		}
		return out, nil
	}
	if m.QueryAllFn != nil {
		return m.QueryAllFn(query, bind)
	}

	// lookup loads of the form RETURN { field: X, key: Y }
	for _, c := range []struct{ name, field string }{
		{"assettypes", "uri"},
		{"relatietypes", "uri"},
		{"beheerders", "referentie"},
	} {
		if strings.Contains(query, "IN "+c.name+" ") || strings.Contains(query, "IN "+c.name+"\n") ||
			strings.Contains(query, "IN "+c.name+" RETURN") {
			var out []map[string]interface{}
			for _, doc := range m.Docs(c.name) {
				out = append(out, map[string]interface{}{
					"field": doc[c.field],
					"key":   doc["_key"],
				})
			}
			return out, nil
		}
	}
	return nil, nil
}

// QueryStrings implements arango.Database
func (m *MemoryDB) QueryStrings(_ context.Context, query string, bind map[string]interface{}) ([]string, error) {
	if m.QueryStringsFn != nil {
		return m.QueryStringsFn(query, bind)
	}
	return nil, nil
}

// GetDocument implements arango.Database
func (m *MemoryDB) GetDocument(_ context.Context, collection, key string) (map[string]interface{}, bool, error) {
	doc := m.Doc(collection, key)
	if doc == nil {
		return nil, false, nil
	}
	return doc, true, nil
}

// InsertDocument implements arango.Database
func (m *MemoryDB) InsertDocument(_ context.Context, name string, doc map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, _ := doc["_key"].(string)
	c := m.coll(name)
	if _, exists := c.docs[key]; exists {
		return fmt.Errorf("document %q already exists in %s", key, name)
	}
	stored := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		stored[k] = v
	}
	c.docs[key] = stored
	return nil
}

// UpdateDocument implements arango.Database
func (m *MemoryDB) UpdateDocument(_ context.Context, name, key string, patch map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.coll(name).docs[key]
	if !ok {
		return fmt.Errorf("document %q not found in %s", key, name)
	}
	for k, v := range patch {
		doc[k] = v
	}
	return nil
}

// RemoveDocument implements arango.Database
func (m *MemoryDB) RemoveDocument(_ context.Context, name, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.coll(name).docs, key)
	return nil
}

// EnsurePersistentIndex implements arango.Database
func (m *MemoryDB) EnsurePersistentIndex(_ context.Context, collection string, fields []string, sparse bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Indexes = append(m.Indexes, IndexCall{Collection: collection, Fields: fields, Sparse: sparse})
	return nil
}

// RecreateGraph implements arango.Database
func (m *MemoryDB) RecreateGraph(_ context.Context, name string, def arango.EdgeDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Graphs[name] = def
	return nil
}

// DropAllGraphs implements arango.Database
func (m *MemoryDB) DropAllGraphs(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Graphs = make(map[string]arango.EdgeDefinition)
	return nil
}

// DropAllCollections implements arango.Database
func (m *MemoryDB) DropAllCollections(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]*collection)
	return nil
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

var _ arango.Database = (*MemoryDB)(nil)
