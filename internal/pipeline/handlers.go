package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/mowtools/emsync/internal/metrics"
	"github.com/mowtools/emsync/internal/transform"
)

// RelatieTypeKeyLen is the short key length of relation types
const RelatieTypeKeyLen = 4

// insertAssetTypes maps the asset-type reference records. short_uri is the
// URI tail so type filters don't need the full namespace.
func (e *FillEngine) insertAssetTypes(ctx context.Context, items []map[string]interface{}) error {
	docs := make([]map[string]interface{}, 0, len(items))
	for _, record := range items {
		id, _ := record["uuid"].(string)
		if id == "" {
			e.skip(ResourceAssetTypes, "missing_uuid", 1)
			continue
		}
		uri, _ := record["uri"].(string)
		docs = append(docs, map[string]interface{}{
			"_key":      head(id, transform.ShortKeyLen),
			"uuid":      id,
			"name":      record["naam"],
			"label":     record["afkorting"],
			"uri":       uri,
			"short_uri": uriTail(uri),
			"definitie": record["definitie"],
			"actief":    record["actief"],
		})
	}
	return e.importDocs(ctx, ResourceAssetTypes, "assettypes", docs)
}

// insertRelatieTypes maps the relation-type reference records. short is the
// URI fragment ("Voedt", "Sturing", ...) the derived-edge rebuild keys on.
func (e *FillEngine) insertRelatieTypes(ctx context.Context, items []map[string]interface{}) error {
	docs := make([]map[string]interface{}, 0, len(items))
	for _, record := range items {
		id, _ := record["uuid"].(string)
		if id == "" {
			e.skip(ResourceRelatieTypes, "missing_uuid", 1)
			continue
		}
		uri, _ := record["uri"].(string)
		docs = append(docs, map[string]interface{}{
			"_key":      head(id, RelatieTypeKeyLen),
			"uuid":      id,
			"name":      record["naam"],
			"uri":       uri,
			"short":     uriFragment(uri),
			"definitie": record["definitie"],
			"actief":    record["actief"],
		})
	}
	return e.importDocs(ctx, ResourceRelatieTypes, "relatietypes", docs)
}

// referenceHandler builds the uniform handler for the remaining reference
// resources: the record is stored as-is under a short key, with an optional
// derivation applied per document.
func (e *FillEngine) referenceHandler(resource string, keyLen int, derive func(doc map[string]interface{})) pageHandler {
	return func(ctx context.Context, items []map[string]interface{}) error {
		docs := make([]map[string]interface{}, 0, len(items))
		for _, record := range items {
			id, _ := record["uuid"].(string)
			if id == "" {
				e.skip(resource, "missing_uuid", 1)
				continue
			}
			doc := make(map[string]interface{}, len(record)+1)
			for k, v := range record {
				doc[k] = v
			}
			doc["_key"] = head(id, keyLen)
			if derive != nil {
				derive(doc)
			}
			docs = append(docs, doc)
		}
		return e.importDocs(ctx, resource, resource, docs)
	}
}

// insertAgents normalizes the agent records
func (e *FillEngine) insertAgents(ctx context.Context, items []map[string]interface{}) error {
	docs := make([]map[string]interface{}, 0, len(items))
	for _, record := range items {
		doc, err := transform.Agent(record)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	return e.importDocs(ctx, ResourceAgents, "agents", docs)
}

// importDocs bulk-imports one batch and books it on the summary
func (e *FillEngine) importDocs(ctx context.Context, resource, collection string, docs []map[string]interface{}) error {
	if len(docs) == 0 {
		return nil
	}
	if err := e.db.ImportBulk(ctx, collection, docs, 0); err != nil {
		return err
	}
	e.sum.AddRecords(resource, int64(len(docs)))
	metrics.Default().RecordsInserted.WithLabelValues(collection).Add(float64(len(docs)))
	return nil
}

func (e *FillEngine) skip(resource, reason string, n int64) {
	e.sum.AddSkipped(resource, n)
	metrics.Default().RecordsSkipped.WithLabelValues(resource, reason).Add(float64(n))
}

// deriveActive computes an active flag from the actiefInterval of interval
// carriers (toezichtgroepen, beheerders): active when today falls inside
// [van, tot], with an open tot meaning still active.
func deriveActive(doc map[string]interface{}) {
	interval, ok := doc["actiefInterval"].(map[string]interface{})
	if !ok {
		if actief, ok := doc["actief"].(bool); ok {
			doc["active"] = actief
		}
		return
	}
	today := time.Now().Format("2006-01-02")

	van, _ := interval["van"].(string)
	tot, _ := interval["tot"].(string)
	active := van != "" && van <= today && (tot == "" || today <= tot)
	doc["active"] = active
}

// uriTail returns the part of a URI after the last slash
func uriTail(uri string) string {
	if idx := strings.LastIndex(uri, "/"); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}

// uriFragment returns the part of a URI after the #, falling back to the tail
func uriFragment(uri string) string {
	if idx := strings.LastIndex(uri, "#"); idx >= 0 {
		return uri[idx+1:]
	}
	return uriTail(uri)
}
