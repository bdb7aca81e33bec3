package pipeline

import (
	"context"

	"github.com/mowtools/emsync/internal/transform"
)

// insertAssetRelaties transforms and imports one page of asset-to-asset
// relation records; relations with an unknown relation type are skipped
func (e *FillEngine) insertAssetRelaties(ctx context.Context, items []map[string]interface{}) error {
	if err := e.ensureLookups(ctx); err != nil {
		return err
	}

	docs := make([]map[string]interface{}, 0, len(items))
	for _, record := range items {
		result, err := e.transformer.AssetRelation(record)
		if err != nil {
			return err
		}
		if result.SkippedUnknownType {
			e.skip(ResourceAssetRelaties, "unknown_relatietype", 1)
			continue
		}
		docs = append(docs, result.Doc)
	}
	return e.importDocs(ctx, ResourceAssetRelaties, "assetrelaties", docs)
}

// insertBetrokkeneRelaties transforms and imports one page of betrokkene
// relation records
func (e *FillEngine) insertBetrokkeneRelaties(ctx context.Context, items []map[string]interface{}) error {
	docs := make([]map[string]interface{}, 0, len(items))
	for _, record := range items {
		doc, err := transform.BetrokkeneRelation(record)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	return e.importDocs(ctx, ResourceBetrokkeneRelaties, "betrokkenerelaties", docs)
}
