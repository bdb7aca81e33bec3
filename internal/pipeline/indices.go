package pipeline

import (
	"context"

	"github.com/mowtools/emsync/internal/arango"
	"github.com/mowtools/emsync/internal/logger"
)

// CreateIndicesStep idempotently creates the persistent indexes of the hot
// query paths and (re)creates the named graphs
type CreateIndicesStep struct {
	db  arango.Database
	log logger.Logger
}

// NewCreateIndicesStep builds the index/graph builder
func NewCreateIndicesStep(db arango.Database) *CreateIndicesStep {
	return &CreateIndicesStep{db: db, log: logger.New("indices")}
}

type indexSpec struct {
	collection string
	fields     []string
	sparse     bool
}

var indexes = []indexSpec{
	{"assets", []string{"assettype_key"}, false},
	{"assets", []string{"toezichter_key"}, false},
	{"assets", []string{"toezichtgroep_key"}, false},
	{"assets", []string{"beheerder_key"}, false},
	{"assets", []string{"naampad_parts"}, true},
	{"assets", []string{"assettype_key", "active"}, false},
	{"assets", []string{"assettype_key", "active", "toestand"}, false},
	{"assetrelaties", []string{"relatietype_key"}, false},
	{"assetrelaties", []string{"relatietype_key", "active"}, false},
	{"assettypes", []string{"short_uri"}, false},
	{"relatietypes", []string{"short"}, false},
	{"betrokkenerelaties", []string{"_from", "role"}, false},
	{"betrokkenerelaties", []string{"_to", "role"}, false},
	{"vplankoppelingen", []string{"assets_key"}, false},
}

type graphSpec struct {
	name string
	def  arango.EdgeDefinition
}

var graphs = []graphSpec{
	{"assetrelaties_graph", arango.EdgeDefinition{
		Collection: "assetrelaties",
		From:       []string{"assets"},
		To:         []string{"assets"},
	}},
	{"betrokkenerelaties_graph", arango.EdgeDefinition{
		Collection: "betrokkenerelaties",
		From:       []string{"assets", "agents"},
		To:         []string{"agents"},
	}},
	{"bestekkoppelingen_graph", arango.EdgeDefinition{
		Collection: "bestekkoppelingen",
		From:       []string{"assets"},
		To:         []string{"bestekken"},
	}},
	{"aansluitingen_graph", arango.EdgeDefinition{
		Collection: "aansluitingen",
		From:       []string{"assets"},
		To:         []string{"aansluitingrefs"},
	}},
}

// Execute creates every index, then recreates every named graph without
// dropping their collections
func (s *CreateIndicesStep) Execute(ctx context.Context) error {
	for _, idx := range indexes {
		if err := s.db.EnsurePersistentIndex(ctx, idx.collection, idx.fields, idx.sparse); err != nil {
			return err
		}
		s.log.Debug("index ensured",
			logger.String("collection", idx.collection),
			logger.Any("fields", idx.fields))
	}
	for _, g := range graphs {
		if err := s.db.RecreateGraph(ctx, g.name, g.def); err != nil {
			return err
		}
		s.log.Info("graph created", logger.String("graph", g.name))
	}
	return nil
}
