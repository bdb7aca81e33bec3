// Package arango wraps the target document+graph store behind a small
// adapter so the pipeline engines can be exercised against an in-memory
// implementation in tests.
package arango

import "context"

// EdgeDefinition declares the legal endpoint collections of a named graph
type EdgeDefinition struct {
	Collection string
	From       []string
	To         []string
}

// Database is the storage surface the pipeline depends on
type Database interface {
	// CollectionExists reports whether a collection exists
	CollectionExists(ctx context.Context, name string) (bool, error)
	// EnsureCollection creates a document or edge collection if absent
	EnsureCollection(ctx context.Context, name string, edge bool) error
	// TruncateCollection removes all documents from a collection
	TruncateCollection(ctx context.Context, name string) error
	// Count returns the number of documents in a collection
	Count(ctx context.Context, name string) (int64, error)

	// ImportBulk bulk-imports docs with on-duplicate=update, chunked to
	// chunkSize per request (0 uses the default chunk size)
	ImportBulk(ctx context.Context, collection string, docs []map[string]interface{}, chunkSize int) error

	// Exec runs a query that returns no rows
	Exec(ctx context.Context, query string, bind map[string]interface{}) error
	// QueryAll runs a query and collects all rows
	QueryAll(ctx context.Context, query string, bind map[string]interface{}) ([]map[string]interface{}, error)
	// QueryStrings runs a query returning a list of strings
	QueryStrings(ctx context.Context, query string, bind map[string]interface{}) ([]string, error)

	// GetDocument reads a document by key; found is false when absent
	GetDocument(ctx context.Context, collection, key string) (doc map[string]interface{}, found bool, err error)
	// InsertDocument creates a single document
	InsertDocument(ctx context.Context, collection string, doc map[string]interface{}) error
	// UpdateDocument patches a single document
	UpdateDocument(ctx context.Context, collection, key string, patch map[string]interface{}) error
	// RemoveDocument deletes a single document, ignoring absence
	RemoveDocument(ctx context.Context, collection, key string) error

	// EnsurePersistentIndex creates a persistent index on the listed fields
	EnsurePersistentIndex(ctx context.Context, collection string, fields []string, sparse bool) error
	// RecreateGraph drops the named graph if present (keeping collections)
	// and creates it with the given edge definition
	RecreateGraph(ctx context.Context, name string, def EdgeDefinition) error

	// DropAllGraphs drops every named graph
	DropAllGraphs(ctx context.Context) error
	// DropAllCollections drops every non-system collection
	DropAllCollections(ctx context.Context) error
}
