package pipeline

import (
	"context"

	"github.com/mowtools/emsync/internal/arango"
	"github.com/mowtools/emsync/internal/logger"
	"github.com/mowtools/emsync/internal/state"
)

// DocumentCollections are the vertex/lookup collections of the mirror
var DocumentCollections = []string{
	state.Collection,
	"assets", "assettypes", "relatietypes", "agents", "toezichtgroepen",
	"identiteiten", "beheerders", "bestekken", "vplankoppelingen",
	"aansluitingrefs",
}

// EdgeCollections are the relation collections, including the derived
// per-relation-type ones rebuilt by the extra fill
var EdgeCollections = []string{
	"assetrelaties", "betrokkenerelaties", "bestekkoppelingen", "aansluitingen",
	"voedt_relaties", "sturing_relaties", "bevestiging_relaties", "hoortbij_relaties",
}

// FeedNames are the event feeds whose markers get seeded at provisioning
var FeedNames = []string{"assetrelaties", "betrokkenerelaties", "agents", "assets"}

// CreateDBStep provisions the target database schema. The params collection
// doubles as the initialization sentinel: when it is absent the database is
// wiped and rebuilt, otherwise the step is a no-op.
type CreateDBStep struct {
	db    arango.Database
	state *state.Store
	log   logger.Logger
}

// NewCreateDBStep builds the provisioner
func NewCreateDBStep(db arango.Database, st *state.Store) *CreateDBStep {
	return &CreateDBStep{db: db, state: st, log: logger.New("createdb")}
}

// Execute provisions the schema if needed and advances the step marker
func (s *CreateDBStep) Execute(ctx context.Context) error {
	exists, err := s.db.CollectionExists(ctx, state.Collection)
	if err != nil {
		return err
	}

	if !exists {
		s.log.Info("params collection not found, resetting database")
		if err := s.provision(ctx); err != nil {
			return err
		}
	} else {
		s.log.Info("params collection exists, no changes made")
	}

	return s.state.SetStep(ctx, state.StepInitialFill)
}

func (s *CreateDBStep) provision(ctx context.Context) error {
	if err := s.db.DropAllGraphs(ctx); err != nil {
		return err
	}
	if err := s.db.DropAllCollections(ctx); err != nil {
		return err
	}

	for _, name := range DocumentCollections {
		if err := s.db.EnsureCollection(ctx, name, false); err != nil {
			return err
		}
		s.log.Debug("created document collection", logger.String("collection", name))
	}
	for _, name := range EdgeCollections {
		if err := s.db.EnsureCollection(ctx, name, true); err != nil {
			return err
		}
		s.log.Debug("created edge collection", logger.String("collection", name))
	}

	if err := s.state.SeedFeedDefaults(ctx, FeedNames); err != nil {
		return err
	}
	s.log.Info("database provisioned",
		logger.Int("document_collections", len(DocumentCollections)),
		logger.Int("edge_collections", len(EdgeCollections)),
		logger.Int("feeds", len(FeedNames)))
	return nil
}
