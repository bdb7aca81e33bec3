package pipeline

import (
	"context"
	"fmt"

	"github.com/mowtools/emsync/internal/arango"
	"github.com/mowtools/emsync/internal/emapi"
	"github.com/mowtools/emsync/internal/logger"
	"github.com/mowtools/emsync/internal/state"
	"github.com/mowtools/emsync/internal/transform"
)

// Kenmerk names probed on the asset types
const (
	kenmerkNameVPlan       = "Vplan"
	kenmerkNameAansluiting = "Elektrisch aansluitpunt"
)

// Extra-fill progress markers. They live next to the initial-fill markers
// in params but carry their own keys so the passes resume independently.
const (
	markerAssetTypeFlags  = "assettype_kenmerken"
	markerVPlannen        = "vplankoppelingen"
	markerAansluitingRefs = "aansluitingrefs"
	markerAansluitingen   = "aansluitingen"
	markerDerivedEdges    = "derived_relaties"
)

// derivedRelations maps the short relation-type names to the edge
// collections rebuilt from assetrelaties
var derivedRelations = map[string]string{
	"Voedt":       "voedt_relaties",
	"Sturing":     "sturing_relaties",
	"Bevestiging": "bevestiging_relaties",
	"HoortBij":    "hoortbij_relaties",
}

// ExtraFillStep enriches the mirror after the bulk fill: asset-type
// capability flags, plan couplings, electrical-connection references and
// edges, and the derived per-relation-type edge collections.
type ExtraFillStep struct {
	db    arango.Database
	state *state.Store
	infra *emapi.InfraClient
	cfg   Config
	sum   *Summary
	log   logger.Logger
}

// NewExtraFillStep builds the enrichment step
func NewExtraFillStep(db arango.Database, st *state.Store, infra *emapi.InfraClient, cfg Config, sum *Summary) *ExtraFillStep {
	cfg.normalize()
	return &ExtraFillStep{db: db, state: st, infra: infra, cfg: cfg, sum: sum, log: logger.New("extrafill")}
}

// Execute runs every enrichment pass in dependency order
func (s *ExtraFillStep) Execute(ctx context.Context) error {
	passes := []struct {
		marker string
		run    func(ctx context.Context, from interface{}) error
	}{
		{markerAssetTypeFlags, s.fillAssetTypeFlags},
		{markerVPlannen, s.fillVPlankoppelingen},
		{markerAansluitingRefs, s.fillAansluitingRefs},
		{markerAansluitingen, s.fillAansluitingen},
		{markerDerivedEdges, s.rebuildDerivedEdges},
	}
	for _, pass := range passes {
		progress, err := s.state.Progress(ctx, pass.marker)
		if err != nil {
			return err
		}
		if !progress.Fill {
			s.log.Info("skipping, already filled", logger.String("pass", pass.marker))
			continue
		}
		if err := pass.run(ctx, progress.From); err != nil {
			return err
		}
		if err := s.state.MarkFilled(ctx, pass.marker); err != nil {
			return err
		}
	}
	return nil
}

// fillAssetTypeFlags probes every asset type for the Vplan and electrical
// connection kenmerken and stores the two capability flags. Types are walked
// in ascending uuid order so the from marker makes the pass resumable.
func (s *ExtraFillStep) fillAssetTypeFlags(ctx context.Context, from interface{}) error {
	uuids, err := s.db.QueryStrings(ctx,
		`FOR at IN assettypes SORT at.uuid ASC RETURN at.uuid`, nil)
	if err != nil {
		return err
	}
	resumeFrom, _ := from.(string)

	for _, id := range uuids {
		if resumeFrom != "" && id < resumeFrom {
			continue
		}
		kenmerken, err := s.infra.KenmerkTypes(ctx, id)
		if err != nil {
			return err
		}

		hasPlan, hasConnection := false, false
		for _, k := range kenmerken {
			switch kenmerkName(k) {
			case kenmerkNameVPlan:
				hasPlan = true
			case kenmerkNameAansluiting:
				hasConnection = true
			}
		}
		if err := s.db.UpdateDocument(ctx, "assettypes", head(id, transform.ShortKeyLen),
			map[string]interface{}{
				"has_plan_kenmerk":       hasPlan,
				"has_connection_kenmerk": hasConnection,
			}); err != nil {
			return err
		}
		if err := s.state.AdvanceProgress(ctx, markerAssetTypeFlags, id); err != nil {
			return err
		}
	}
	s.log.Info("asset-type capability flags set", logger.Int("assettypes", len(uuids)))
	return nil
}

// fillVPlankoppelingen fetches the plan couplings of every asset whose type
// carries the Vplan kenmerk and upserts them keyed by coupling uuid
func (s *ExtraFillStep) fillVPlankoppelingen(ctx context.Context, from interface{}) error {
	assetKeys, err := s.db.QueryStrings(ctx, `
		FOR a IN assets
			FOR at IN assettypes
				FILTER at._key == a.assettype_key
				FILTER at.has_plan_kenmerk == true
				SORT a._key ASC
				RETURN a._key`, nil)
	if err != nil {
		return err
	}
	resumeFrom, _ := from.(string)

	count := 0
	for _, assetKey := range assetKeys {
		if resumeFrom != "" && assetKey < resumeFrom {
			continue
		}
		couplings, err := s.infra.VPlannen(ctx, assetKey)
		if err != nil {
			return err
		}

		docs := make([]map[string]interface{}, 0, len(couplings))
		for _, coupling := range couplings {
			id, _ := coupling["uuid"].(string)
			if id == "" {
				continue
			}
			doc := make(map[string]interface{}, len(coupling)+2)
			for k, v := range coupling {
				doc[k] = v
			}
			doc["_key"] = id
			doc["assets_key"] = assetKey
			docs = append(docs, doc)
		}
		if len(docs) > 0 {
			if err := s.db.ImportBulk(ctx, "vplankoppelingen", docs, 0); err != nil {
				return err
			}
			count += len(docs)
		}
		if err := s.state.AdvanceProgress(ctx, markerVPlannen, assetKey); err != nil {
			return err
		}
	}
	s.sum.AddRecords(markerVPlannen, int64(count))
	s.log.Info("plan couplings filled",
		logger.Int("assets", len(assetKeys)), logger.Int("couplings", count))
	return nil
}

// fillAansluitingRefs offset-pages the electrical-connection reference list
func (s *ExtraFillStep) fillAansluitingRefs(ctx context.Context, from interface{}) error {
	pager := s.infra.ResourcePager("aansluitingrefs", s.cfg.PageSize, from)
	for {
		page, ok, err := pager.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		docs := make([]map[string]interface{}, 0, len(page.Items))
		for _, record := range page.Items {
			id, _ := record["uuid"].(string)
			if id == "" {
				continue
			}
			doc := make(map[string]interface{}, len(record)+1)
			for k, v := range record {
				doc[k] = v
			}
			doc["_key"] = head(id, transform.ShortKeyLen)
			docs = append(docs, doc)
		}
		if len(docs) > 0 {
			if err := s.db.ImportBulk(ctx, "aansluitingrefs", docs, 0); err != nil {
				return err
			}
			s.sum.AddRecords(markerAansluitingRefs, int64(len(docs)))
		}

		if page.Next == nil {
			return nil
		}
		if err := s.state.AdvanceProgress(ctx, markerAansluitingRefs, page.Next); err != nil {
			return err
		}
	}
}

// fillAansluitingen fetches the connection kenmerk of every asset whose type
// carries it and writes an edge to the referenced connection document
func (s *ExtraFillStep) fillAansluitingen(ctx context.Context, from interface{}) error {
	assetKeys, err := s.db.QueryStrings(ctx, `
		FOR a IN assets
			FOR at IN assettypes
				FILTER at._key == a.assettype_key
				FILTER at.has_connection_kenmerk == true
				SORT a._key ASC
				RETURN a._key`, nil)
	if err != nil {
		return err
	}
	resumeFrom, _ := from.(string)

	count := 0
	for _, assetKey := range assetKeys {
		if resumeFrom != "" && assetKey < resumeFrom {
			continue
		}
		kenmerk, err := s.infra.Aansluiting(ctx, assetKey)
		if err != nil {
			return err
		}

		if refID := aansluitingRefUUID(kenmerk); refID != "" {
			refKey := head(refID, transform.ShortKeyLen)
			edge := map[string]interface{}{
				"_key":  fmt.Sprintf("%s_%s", assetKey, refKey),
				"_from": "assets/" + assetKey,
				"_to":   "aansluitingrefs/" + refKey,
			}
			if err := s.db.ImportBulk(ctx, "aansluitingen", []map[string]interface{}{edge}, 0); err != nil {
				return err
			}
			count++
		}
		if err := s.state.AdvanceProgress(ctx, markerAansluitingen, assetKey); err != nil {
			return err
		}
	}
	s.sum.AddRecords(markerAansluitingen, int64(count))
	s.log.Info("connection edges filled",
		logger.Int("assets", len(assetKeys)), logger.Int("edges", count))
	return nil
}

// rebuildDerivedEdges rebuilds one edge collection per short relation-type
// name: truncate, then a single set-based insert over the active relations
// of that type whose endpoints both exist and are active
func (s *ExtraFillStep) rebuildDerivedEdges(ctx context.Context, _ interface{}) error {
	for short, collection := range derivedRelations {
		keys, err := s.db.QueryStrings(ctx,
			`FOR rt IN relatietypes FILTER rt.short == @short RETURN rt._key`,
			map[string]interface{}{"short": short})
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			s.log.Warn("relation type not found, derived edges left empty",
				logger.String("short", short))
			continue
		}

		if err := s.db.EnsureCollection(ctx, collection, true); err != nil {
			return err
		}
		if err := s.db.TruncateCollection(ctx, collection); err != nil {
			return err
		}

		query := fmt.Sprintf(`
			FOR rel IN assetrelaties
				FILTER rel.relatietype_key == @relatietypeKey
				FILTER rel.AIMDBStatus_isActief == true
				LET fromAsset = DOCUMENT(rel._from)
				LET toAsset = DOCUMENT(rel._to)
				FILTER fromAsset != null AND toAsset != null
				// asset documents carry the flag only when the upstream sent
				// it, so a missing flag counts as active
				FILTER fromAsset.AIMDBStatus_isActief != false
				FILTER toAsset.AIMDBStatus_isActief != false
				INSERT {
					_from: rel._from,
					_to: rel._to,
					source_edge_id: rel._id,
					source_edge_key: rel._key
				} IN %s`, collection)
		if err := s.db.Exec(ctx, query,
			map[string]interface{}{"relatietypeKey": keys[0]}); err != nil {
			return err
		}

		n, err := s.db.Count(ctx, collection)
		if err != nil {
			return err
		}
		s.sum.AddRecords(collection, n)
		s.log.Info("derived edges rebuilt",
			logger.String("collection", collection),
			logger.String("short", short),
			logger.Int64("edges", n))
	}
	return nil
}

func kenmerkName(k map[string]interface{}) string {
	if name, ok := k["naam"].(string); ok {
		return name
	}
	if kt, ok := k["kenmerkType"].(map[string]interface{}); ok {
		if name, ok := kt["naam"].(string); ok {
			return name
		}
	}
	return ""
}

// aansluitingRefUUID digs the referenced connection uuid out of the kenmerk
// payload
func aansluitingRefUUID(kenmerk map[string]interface{}) string {
	for _, field := range []string{"aansluitingRef", "aansluiting"} {
		if ref, ok := kenmerk[field].(map[string]interface{}); ok {
			if id, ok := ref["uuid"].(string); ok {
				return id
			}
		}
	}
	return ""
}
