package pipeline

import (
	"context"

	"github.com/mowtools/emsync/internal/logger"
	"github.com/mowtools/emsync/internal/metrics"
	"github.com/mowtools/emsync/internal/transform"
)

// ensureLookups loads the reference tables into memory once per engine.
// The first caller populates them; concurrent workers block on the Once
// and observe the fully published maps.
func (e *FillEngine) ensureLookups(ctx context.Context) error {
	e.lookupOnce.Do(func() {
		e.lookupErr = e.loadLookups(ctx)
	})
	return e.lookupErr
}

func (e *FillEngine) loadLookups(ctx context.Context) error {
	assetTypes, err := e.keyedLookup(ctx,
		`FOR at IN assettypes RETURN { field: at.uri, key: at._key }`)
	if err != nil {
		return err
	}
	relationTypes, err := e.keyedLookup(ctx,
		`FOR rt IN relatietypes RETURN { field: rt.uri, key: rt._key }`)
	if err != nil {
		return err
	}
	beheerders, err := e.keyedLookup(ctx,
		`FOR b IN beheerders RETURN { field: b.referentie, key: b._key }`)
	if err != nil {
		return err
	}

	e.transformer.Lookups = transform.Lookups{
		AssetTypeByURI:    assetTypes,
		RelationTypeByURI: relationTypes,
		BeheerderByRef:    beheerders,
	}
	e.log.Info("lookups loaded",
		logger.Int("assettypes", len(assetTypes)),
		logger.Int("relatietypes", len(relationTypes)),
		logger.Int("beheerders", len(beheerders)))
	return nil
}

func (e *FillEngine) keyedLookup(ctx context.Context, query string) (map[string]string, error) {
	rows, err := e.db.QueryAll(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		field, _ := row["field"].(string)
		key, _ := row["key"].(string)
		if field != "" && key != "" {
			out[field] = key
		}
	}
	return out, nil
}

// insertAssets transforms and imports one page of asset records, spilling
// the extracted bestek-coupling edges into their own batch. Both batches
// flush at their chunk thresholds and again at end of page.
func (e *FillEngine) insertAssets(ctx context.Context, items []map[string]interface{}) error {
	if err := e.ensureLookups(ctx); err != nil {
		return err
	}

	assets := make([]map[string]interface{}, 0, e.cfg.AssetChunkSize)
	koppelingen := make([]map[string]interface{}, 0, e.cfg.BestekChunkSize)

	for _, record := range items {
		result, err := e.transformer.Asset(record)
		if err != nil {
			return err
		}
		if result.SkippedUnknownType {
			e.skip(ResourceAssets, "unknown_assettype", 1)
			continue
		}
		if result.GeometrySkipped {
			metrics.Default().GeometryFailures.Inc()
		}
		if result.BeheerderMissing {
			metrics.Default().RecordsSkipped.WithLabelValues(ResourceAssets, "missing_beheerder").Inc()
			e.log.Warn("beheerder reference not in lookup, key omitted",
				logger.Any("asset", result.Doc["_key"]))
		}

		assets = append(assets, result.Doc)
		koppelingen = append(koppelingen, result.Koppelingen...)

		if len(assets) >= e.cfg.AssetChunkSize {
			if err := e.importDocs(ctx, ResourceAssets, "assets", assets); err != nil {
				return err
			}
			assets = assets[:0]
		}
		if len(koppelingen) >= e.cfg.BestekChunkSize {
			if err := e.importDocs(ctx, "bestekkoppelingen", "bestekkoppelingen", koppelingen); err != nil {
				return err
			}
			koppelingen = koppelingen[:0]
		}
	}

	if err := e.importDocs(ctx, ResourceAssets, "assets", assets); err != nil {
		return err
	}
	return e.importDocs(ctx, "bestekkoppelingen", "bestekkoppelingen", koppelingen)
}
