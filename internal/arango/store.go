package arango

import (
	"context"
	"strings"

	driver "github.com/arangodb/go-driver"
	driverhttp "github.com/arangodb/go-driver/http"

	"github.com/mowtools/emsync/internal/config"
	"github.com/mowtools/emsync/internal/errors"
	"github.com/mowtools/emsync/internal/logger"
)

// DefaultImportChunkSize bounds a single bulk-import request
const DefaultImportChunkSize = 1000

// Store implements Database over the ArangoDB driver
type Store struct {
	db  driver.Database
	log logger.Logger
}

// Connect opens the target database
func Connect(ctx context.Context, cfg config.DatabaseSettings) (*Store, error) {
	conn, err := driverhttp.NewConnection(driverhttp.ConnectionConfig{
		Endpoints: []string{cfg.Endpoint},
	})
	if err != nil {
		return nil, errors.NewConfigurationError("create database connection").WithCause(err)
	}
	client, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(cfg.User, cfg.Password),
	})
	if err != nil {
		return nil, errors.NewConfigurationError("create database client").WithCause(err)
	}
	db, err := client.Database(ctx, cfg.Database)
	if err != nil {
		return nil, errors.NewConfigurationError("open database").WithCause(err).
			WithDetail("database", cfg.Database)
	}
	return &Store{db: db, log: logger.New("arango")}, nil
}

// Name returns the database name
func (s *Store) Name() string {
	return s.db.Name()
}

// CollectionExists reports whether a collection exists
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.db.CollectionExists(ctx, name)
	if err != nil {
		return false, errors.NewStorageError("check collection").WithCause(err).
			WithDetail("collection", name)
	}
	return exists, nil
}

// EnsureCollection creates a document or edge collection if absent
func (s *Store) EnsureCollection(ctx context.Context, name string, edge bool) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	var opts *driver.CreateCollectionOptions
	if edge {
		opts = &driver.CreateCollectionOptions{Type: driver.CollectionTypeEdge}
	}
	if _, err := s.db.CreateCollection(ctx, name, opts); err != nil {
		return errors.NewStorageError("create collection").WithCause(err).
			WithDetail("collection", name)
	}
	s.log.Info("created collection", logger.String("collection", name), logger.Bool("edge", edge))
	return nil
}

// TruncateCollection removes all documents from a collection
func (s *Store) TruncateCollection(ctx context.Context, name string) error {
	col, err := s.db.Collection(ctx, name)
	if err != nil {
		return errors.NewStorageError("open collection").WithCause(err).
			WithDetail("collection", name)
	}
	if err := col.Truncate(ctx); err != nil {
		return errors.NewStorageError("truncate collection").WithCause(err).
			WithDetail("collection", name)
	}
	return nil
}

// Count returns the number of documents in a collection
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	col, err := s.db.Collection(ctx, name)
	if err != nil {
		return 0, errors.NewStorageError("open collection").WithCause(err).
			WithDetail("collection", name)
	}
	count, err := col.Count(ctx)
	if err != nil {
		return 0, errors.NewStorageError("count collection").WithCause(err).
			WithDetail("collection", name)
	}
	return count, nil
}

// ImportBulk bulk-imports docs with on-duplicate=update, without overwrite
// of existing keys, chunked to chunkSize per request
func (s *Store) ImportBulk(ctx context.Context, collection string, docs []map[string]interface{}, chunkSize int) error {
	if len(docs) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultImportChunkSize
	}
	col, err := s.db.Collection(ctx, collection)
	if err != nil {
		return errors.NewStorageError("open collection").WithCause(err).
			WithDetail("collection", collection)
	}

	opts := &driver.ImportDocumentOptions{
		OnDuplicate: driver.ImportOnDuplicateUpdate,
	}
	for start := 0; start < len(docs); start += chunkSize {
		end := start + chunkSize
		if end > len(docs) {
			end = len(docs)
		}
		if _, err := col.ImportDocuments(ctx, docs[start:end], opts); err != nil {
			return errors.NewStorageError("bulk import").WithCause(err).
				WithDetail("collection", collection).
				WithDetail("batch_size", end-start)
		}
	}
	return nil
}

// Exec runs a query that returns no rows
func (s *Store) Exec(ctx context.Context, query string, bind map[string]interface{}) error {
	cursor, err := s.db.Query(ctx, query, bind)
	if err != nil {
		return errors.NewStorageError("execute query").WithCause(err)
	}
	return cursor.Close()
}

// QueryAll runs a query and collects all rows
func (s *Store) QueryAll(ctx context.Context, query string, bind map[string]interface{}) ([]map[string]interface{}, error) {
	cursor, err := s.db.Query(driver.WithQueryBatchSize(ctx, 1000), query, bind)
	if err != nil {
		return nil, errors.NewStorageError("execute query").WithCause(err)
	}
	defer cursor.Close()

	var rows []map[string]interface{}
	for {
		var doc map[string]interface{}
		_, err := cursor.ReadDocument(ctx, &doc)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, errors.NewStorageError("read query result").WithCause(err)
		}
		rows = append(rows, doc)
	}
	return rows, nil
}

// QueryStrings runs a query returning a list of strings
func (s *Store) QueryStrings(ctx context.Context, query string, bind map[string]interface{}) ([]string, error) {
	cursor, err := s.db.Query(driver.WithQueryBatchSize(ctx, 1000), query, bind)
	if err != nil {
		return nil, errors.NewStorageError("execute query").WithCause(err)
	}
	defer cursor.Close()

	var rows []string
	for {
		var value string
		_, err := cursor.ReadDocument(ctx, &value)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, errors.NewStorageError("read query result").WithCause(err)
		}
		rows = append(rows, value)
	}
	return rows, nil
}

// GetDocument reads a document by key; found is false when absent
func (s *Store) GetDocument(ctx context.Context, collection, key string) (map[string]interface{}, bool, error) {
	col, err := s.db.Collection(ctx, collection)
	if err != nil {
		return nil, false, errors.NewStorageError("open collection").WithCause(err).
			WithDetail("collection", collection)
	}
	var doc map[string]interface{}
	if _, err := col.ReadDocument(ctx, key, &doc); err != nil {
		if driver.IsNotFoundGeneral(err) {
			return nil, false, nil
		}
		return nil, false, errors.NewStorageError("read document").WithCause(err).
			WithDetail("collection", collection).
			WithDetail("key", key)
	}
	return doc, true, nil
}

// InsertDocument creates a single document
func (s *Store) InsertDocument(ctx context.Context, collection string, doc map[string]interface{}) error {
	col, err := s.db.Collection(ctx, collection)
	if err != nil {
		return errors.NewStorageError("open collection").WithCause(err).
			WithDetail("collection", collection)
	}
	if _, err := col.CreateDocument(ctx, doc); err != nil {
		return errors.NewStorageError("insert document").WithCause(err).
			WithDetail("collection", collection)
	}
	return nil
}

// UpdateDocument patches a single document
func (s *Store) UpdateDocument(ctx context.Context, collection, key string, patch map[string]interface{}) error {
	col, err := s.db.Collection(ctx, collection)
	if err != nil {
		return errors.NewStorageError("open collection").WithCause(err).
			WithDetail("collection", collection)
	}
	if _, err := col.UpdateDocument(ctx, key, patch); err != nil {
		return errors.NewStorageError("update document").WithCause(err).
			WithDetail("collection", collection).
			WithDetail("key", key)
	}
	return nil
}

// RemoveDocument deletes a single document, ignoring absence
func (s *Store) RemoveDocument(ctx context.Context, collection, key string) error {
	col, err := s.db.Collection(ctx, collection)
	if err != nil {
		return errors.NewStorageError("open collection").WithCause(err).
			WithDetail("collection", collection)
	}
	if _, err := col.RemoveDocument(ctx, key); err != nil && !driver.IsNotFoundGeneral(err) {
		return errors.NewStorageError("remove document").WithCause(err).
			WithDetail("collection", collection).
			WithDetail("key", key)
	}
	return nil
}

// EnsurePersistentIndex creates a persistent index on the listed fields
func (s *Store) EnsurePersistentIndex(ctx context.Context, collection string, fields []string, sparse bool) error {
	col, err := s.db.Collection(ctx, collection)
	if err != nil {
		return errors.NewStorageError("open collection").WithCause(err).
			WithDetail("collection", collection)
	}
	opts := &driver.EnsurePersistentIndexOptions{Sparse: sparse}
	if _, _, err := col.EnsurePersistentIndex(ctx, fields, opts); err != nil {
		return errors.NewStorageError("create index").WithCause(err).
			WithDetail("collection", collection).
			WithDetail("fields", strings.Join(fields, ","))
	}
	return nil
}

// RecreateGraph drops the named graph if present (keeping its collections)
// and creates it with the given edge definition
func (s *Store) RecreateGraph(ctx context.Context, name string, def EdgeDefinition) error {
	exists, err := s.db.GraphExists(ctx, name)
	if err != nil {
		return errors.NewStorageError("check graph").WithCause(err).
			WithDetail("graph", name)
	}
	if exists {
		graph, err := s.db.Graph(ctx, name)
		if err != nil {
			return errors.NewStorageError("open graph").WithCause(err).
				WithDetail("graph", name)
		}
		if err := graph.Remove(ctx); err != nil {
			return errors.NewStorageError("drop graph").WithCause(err).
				WithDetail("graph", name)
		}
	}
	_, err = s.db.CreateGraphV2(ctx, name, &driver.CreateGraphOptions{
		EdgeDefinitions: []driver.EdgeDefinition{{
			Collection: def.Collection,
			From:       def.From,
			To:         def.To,
		}},
	})
	if err != nil {
		return errors.NewStorageError("create graph").WithCause(err).
			WithDetail("graph", name)
	}
	s.log.Info("created graph", logger.String("graph", name))
	return nil
}

// DropAllGraphs drops every named graph
func (s *Store) DropAllGraphs(ctx context.Context) error {
	graphs, err := s.db.Graphs(ctx)
	if err != nil {
		return errors.NewStorageError("list graphs").WithCause(err)
	}
	for _, graph := range graphs {
		if err := graph.Remove(ctx); err != nil {
			return errors.NewStorageError("drop graph").WithCause(err).
				WithDetail("graph", graph.Name())
		}
		s.log.Info("dropped graph", logger.String("graph", graph.Name()))
	}
	return nil
}

// DropAllCollections drops every non-system collection
func (s *Store) DropAllCollections(ctx context.Context) error {
	cols, err := s.db.Collections(ctx)
	if err != nil {
		return errors.NewStorageError("list collections").WithCause(err)
	}
	for _, col := range cols {
		if strings.HasPrefix(col.Name(), "_") {
			continue
		}
		if err := col.Remove(ctx); err != nil {
			return errors.NewStorageError("drop collection").WithCause(err).
				WithDetail("collection", col.Name())
		}
		s.log.Info("dropped collection", logger.String("collection", col.Name()))
	}
	return nil
}
