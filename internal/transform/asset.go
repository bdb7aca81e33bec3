package transform

import (
	"strings"

	"github.com/google/uuid"

	"github.com/mowtools/emsync/internal/errors"
)

// Key length rules per entity
const (
	AssetKeyLen = 36
	AgentKeyLen = 13
	ShortKeyLen = 8
)

// Lookups holds the process-local reference tables the transformer
// resolves against. They are immutable once populated.
type Lookups struct {
	AssetTypeByURI    map[string]string
	RelationTypeByURI map[string]string
	BeheerderByRef    map[string]string
}

// AssetResult is the outcome of transforming one raw asset record
type AssetResult struct {
	// Doc is the normalized, enriched asset document; nil when skipped
	Doc map[string]interface{}
	// Koppelingen are the bestek-coupling edge documents extracted from
	// the asset
	Koppelingen []map[string]interface{}
	// SkippedUnknownType is set when the record's @type has no asset-type
	SkippedUnknownType bool
	// GeometrySkipped is set in lenient mode when the geometry could not
	// be transformed
	GeometrySkipped bool
	// BeheerderMissing is set when the record carries a beheerder
	// reference that is absent from the lookup (stale cache or bad data)
	BeheerderMissing bool
}

// Transformer applies the pure per-record pipeline
type Transformer struct {
	Lookups Lookups
	// StrictGeometry makes an unparseable WKT fail the record (and with it
	// the page). When false the asset is written without wkt/geometry.
	StrictGeometry bool
}

// Asset normalizes and enriches one raw asset record
func (t *Transformer) Asset(raw map[string]interface{}) (AssetResult, error) {
	obj := NormalizeKeys(raw)

	id, _ := obj["@id"].(string)
	key := truncate(lastSegment(id), AssetKeyLen)
	if key == "" {
		return AssetResult{}, errors.NewDataShapeError("asset record without @id")
	}
	obj["_key"] = key

	typeURI, _ := obj["@type"].(string)
	assettypeKey, ok := t.Lookups.AssetTypeByURI[typeURI]
	if !ok {
		return AssetResult{SkippedUnknownType: true}, nil
	}
	obj["assettype_key"] = assettypeKey

	result := AssetResult{}
	if wktString := ExtractWKT(obj); wktString != "" {
		geometry, err := ToWGS84GeoJSON(wktString)
		if err != nil {
			if t.StrictGeometry {
				return AssetResult{}, err
			}
			result.GeometrySkipped = true
		} else {
			obj["wkt"] = wktString
			obj["geometry"] = geometry
		}
	}

	if toestandURI, ok := obj["AIMToestand_toestand"].(string); ok && toestandURI != "" {
		obj["toestand"] = lastSegment(toestandURI)
	}

	if naampad, ok := obj["NaampadObject_naampad"].(string); ok && naampad != "" {
		parts := strings.Split(naampad, "/")
		obj["naampad_parts"] = parts
		if len(parts) >= 2 {
			obj["naampad_parent"] = strings.Join(parts[:len(parts)-1], "/")
		}
	}

	result.BeheerderMissing = t.deriveShortKeys(obj)
	result.Koppelingen = extractKoppelingen(obj, key)
	result.Doc = obj
	return result, nil
}

// deriveShortKeys derives toezichtgroep_key, toezichter_key and
// beheerder_key from the tz bucket. It reports whether a beheerder
// reference was present but could not be resolved.
func (t *Transformer) deriveShortKeys(obj map[string]interface{}) bool {
	tz, ok := obj["tz"].(map[string]interface{})
	if !ok {
		return false
	}
	if group, ok := nestedMap(tz, "Toezicht_toezichtgroep"); ok {
		if id, ok := group["DtcToezichtGroep_id"].(string); ok && id != "" {
			obj["toezichtgroep_key"] = truncate(id, ShortKeyLen)
		}
	}
	if toezichter, ok := nestedMap(tz, "Toezicht_toezichter"); ok {
		if id, ok := toezichter["DtcToezichter_id"].(string); ok && id != "" {
			obj["toezichter_key"] = truncate(id, ShortKeyLen)
		}
	}
	if beheerder, ok := nestedMap(tz, "Schadebeheerder_schadebeheerder"); ok {
		if ref, ok := beheerder["DtcBeheerder_referentie"].(string); ok && ref != "" {
			key, ok := t.Lookups.BeheerderByRef[ref]
			if !ok {
				// leave beheerder_key unset; callers count these so a
				// stale cache is visible
				return true
			}
			obj["beheerder_key"] = key
		}
	}
	return false
}

// extractKoppelingen turns every bestek coupling on the asset into an edge
// document from the asset to the bestek
func extractKoppelingen(obj map[string]interface{}, assetKey string) []map[string]interface{} {
	bs, ok := obj["bs"].(map[string]interface{})
	if !ok {
		return nil
	}
	list, ok := bs["Bestek_bestekkoppeling"].([]interface{})
	if !ok {
		return nil
	}

	edges := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		kopp, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		bestekID := ""
		if identificator, ok := nestedMap(kopp, "DtcBestekkoppeling_bestekId"); ok {
			bestekID, _ = identificator["DtcIdentificator_identificator"].(string)
		}
		if bestekID == "" {
			continue
		}

		edge := make(map[string]interface{}, len(kopp)+4)
		for k, v := range kopp {
			edge[k] = v
		}
		edge["_key"] = uuid.NewString()
		edge["_from"] = "assets/" + assetKey
		edge["_to"] = "bestekken/" + truncate(bestekID, ShortKeyLen)
		if rawStatus, ok := kopp["DtcBestekkoppeling_status"].(string); ok && rawStatus != "" {
			edge["status"] = lastSegment(rawStatus)
		} else {
			edge["status"] = nil
		}
		edges = append(edges, edge)
	}
	return edges
}

// RelationResult is the outcome of transforming one raw relation record
type RelationResult struct {
	Doc                map[string]interface{}
	SkippedUnknownType bool
}

// AssetRelation normalizes one asset-to-asset relation record
func (t *Transformer) AssetRelation(raw map[string]interface{}) (RelationResult, error) {
	obj := NormalizeKeys(raw)

	id, _ := obj["@id"].(string)
	key := truncate(lastSegment(id), AssetKeyLen)
	if key == "" {
		return RelationResult{}, errors.NewDataShapeError("relation record without @id")
	}
	obj["_key"] = key

	typeURI, _ := obj["@type"].(string)
	relKey, ok := t.Lookups.RelationTypeByURI[typeURI]
	if !ok {
		return RelationResult{SkippedUnknownType: true}, nil
	}
	obj["relatietype_key"] = relKey

	bronID, doelID := endpointIDs(obj)
	if bronID == "" || doelID == "" {
		return RelationResult{}, errors.NewDataShapeError("relation record without endpoints").
			WithDetail("key", key)
	}
	obj["_from"] = "assets/" + truncate(lastSegment(bronID), AssetKeyLen)
	obj["_to"] = "assets/" + truncate(lastSegment(doelID), AssetKeyLen)

	if _, ok := obj["AIMDBStatus_isActief"]; !ok {
		obj["AIMDBStatus_isActief"] = true
	}
	return RelationResult{Doc: obj}, nil
}

// BetrokkeneRelation normalizes one betrokkene relation record. The source
// may be an asset or an agent; the target is always an agent.
func BetrokkeneRelation(raw map[string]interface{}) (map[string]interface{}, error) {
	obj := NormalizeKeys(raw)

	id, _ := obj["@id"].(string)
	key := truncate(lastSegment(id), AssetKeyLen)
	if key == "" {
		return nil, errors.NewDataShapeError("betrokkene record without @id")
	}
	obj["_key"] = key

	bron, _ := obj["RelatieObject_bron"].(map[string]interface{})
	doel, _ := obj["RelatieObject_doel"].(map[string]interface{})
	bronID, _ := bron["@id"].(string)
	doelID, _ := doel["@id"].(string)
	if bronID == "" || doelID == "" {
		return nil, errors.NewDataShapeError("betrokkene record without endpoints").
			WithDetail("key", key)
	}

	if bronType, _ := bron["@type"].(string); isAgentType(bronType) {
		obj["_from"] = "agents/" + truncate(lastSegment(bronID), AgentKeyLen)
	} else {
		obj["_from"] = "assets/" + truncate(lastSegment(bronID), AssetKeyLen)
	}
	obj["_to"] = "agents/" + truncate(lastSegment(doelID), AgentKeyLen)

	if roleURI, ok := obj["HeeftBetrokkene_rol"].(string); ok && roleURI != "" {
		obj["rol"] = lastSegment(roleURI)
	}
	if _, ok := obj["AIMDBStatus_isActief"]; !ok {
		obj["AIMDBStatus_isActief"] = true
	}
	return obj, nil
}

// Agent normalizes one agent record and derives its keys
func Agent(raw map[string]interface{}) (map[string]interface{}, error) {
	obj := NormalizeKeys(raw)

	id, _ := obj["@id"].(string)
	tail := lastSegment(id)
	if tail == "" {
		return nil, errors.NewDataShapeError("agent record without @id")
	}
	obj["_key"] = truncate(tail, AgentKeyLen)
	obj["uuid"] = truncate(tail, AssetKeyLen)
	return obj, nil
}

func endpointIDs(obj map[string]interface{}) (bron, doel string) {
	if m, ok := obj["RelatieObject_bron"].(map[string]interface{}); ok {
		bron, _ = m["@id"].(string)
	}
	if m, ok := obj["RelatieObject_doel"].(map[string]interface{}); ok {
		doel, _ = m["@id"].(string)
	}
	return bron, doel
}

func isAgentType(typeURI string) bool {
	return strings.Contains(strings.ToLower(typeURI), "agent")
}
