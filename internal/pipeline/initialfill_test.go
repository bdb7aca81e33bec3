package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mowtools/emsync/internal/arango/arangotest"
	"github.com/mowtools/emsync/internal/emapi"
	"github.com/mowtools/emsync/internal/state"
)

const (
	kastURI  = "https://example.org/ns/onderdeel#Kast"
	voedtURI = "https://example.org/ns/onderdeel#Voedt"

	assetID1 = "11111111-2222-3333-4444-555555555501"
	assetID2 = "11111111-2222-3333-4444-555555555502"
	assetID3 = "11111111-2222-3333-4444-555555555503"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PageSize = 2
	cfg.RetryDelay = 10 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, db *arangotest.MemoryDB, handler http.Handler, cfg Config) *FillEngine {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	req := emapi.NewRequester(emapi.RequesterConfig{BaseURL: server.URL + "/", Retries: 3})
	infra := emapi.NewInfraClient(req)
	son := emapi.NewSONClient(req)
	return NewFillEngine(db, state.NewStore(db), infra, son, cfg, NewSummary())
}

func writeOffsetPage(w http.ResponseWriter, from, size, total int, data []map[string]interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"from": from, "size": size, "totalCount": total, "data": data,
	})
}

func singleOffsetPage(data []map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOffsetPage(w, 0, len(data), len(data), data)
	}
}

func seedLookups(t *testing.T, db *arangotest.MemoryDB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.ImportBulk(ctx, "assettypes", []map[string]interface{}{
		{"_key": "aaaa1111", "uuid": "aaaa1111-0000-0000-0000-000000000000", "uri": kastURI},
	}, 0))
	require.NoError(t, db.ImportBulk(ctx, "relatietypes", []map[string]interface{}{
		{"_key": "bbbb", "uuid": "bbbb2222-0000-0000-0000-000000000000", "uri": voedtURI, "short": "Voedt"},
	}, 0))
	require.NoError(t, db.ImportBulk(ctx, "beheerders", []map[string]interface{}{
		{"_key": "4e77efda", "referentie": "BEH-000"},
	}, 0))
}

func rawAssetJSON(id, typeURI string) map[string]interface{} {
	return map[string]interface{}{
		"@id":                   "https://data.example.org/id/asset/" + id + "-tail",
		"@type":                 typeURI,
		"loc:Locatie.geometrie": "SRID=3812;POINT Z(649328.0 665262.0 0.0)",
		"NaampadObject.naampad": "ROOT/" + id,
	}
}

func TestFillResourceAssetTypes(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/eminfra/core/api/assettypes", singleOffsetPage([]map[string]interface{}{
		{
			"uuid":      "aaaa1111-0000-0000-0000-000000000000",
			"naam":      "Kast",
			"afkorting": "KST",
			"uri":       kastURI,
			"definitie": "Een kast",
			"actief":    true,
		},
	}))

	db := arangotest.NewMemoryDB()
	engine := newTestEngine(t, db, mux, testConfig())

	require.NoError(t, engine.FillResource(context.Background(), ResourceAssetTypes))

	doc := db.Doc("assettypes", "aaaa1111")
	require.NotNil(t, doc)
	assert.Equal(t, "Kast", doc["name"])
	assert.Equal(t, "KST", doc["label"])
	assert.Equal(t, "onderdeel#Kast", doc["short_uri"])

	marker := db.Doc("params", "fill_assettypes")
	require.NotNil(t, marker)
	assert.Equal(t, false, marker["fill"])
	assert.Nil(t, marker["from"])
}

func TestFillResourceRelatieTypes(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/eminfra/core/api/relatietypes", singleOffsetPage([]map[string]interface{}{
		{"uuid": "bbbb2222-0000-0000-0000-000000000000", "naam": "Voedt", "uri": voedtURI, "actief": true},
	}))

	db := arangotest.NewMemoryDB()
	engine := newTestEngine(t, db, mux, testConfig())
	require.NoError(t, engine.FillResource(context.Background(), ResourceRelatieTypes))

	doc := db.Doc("relatietypes", "bbbb")
	require.NotNil(t, doc)
	assert.Equal(t, "Voedt", doc["short"], "short is the URI fragment")
}

func TestFillResourceToezichtgroepenDerivesActive(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/eminfra/identiteit/api/toezichtgroepen", singleOffsetPage([]map[string]interface{}{
		{
			"uuid": "cccc3333-0000-0000-0000-000000000000",
			"naam": "Groep actief",
			"actiefInterval": map[string]interface{}{"van": "2000-01-01"},
		},
		{
			"uuid": "dddd4444-0000-0000-0000-000000000000",
			"naam": "Groep toekomst",
			"actiefInterval": map[string]interface{}{"van": "2999-01-01"},
		},
	}))

	db := arangotest.NewMemoryDB()
	engine := newTestEngine(t, db, mux, testConfig())
	require.NoError(t, engine.FillResource(context.Background(), ResourceToezichtgroepen))

	assert.Equal(t, true, db.Doc("toezichtgroepen", "cccc3333")["active"])
	assert.Equal(t, false, db.Doc("toezichtgroepen", "dddd4444")["active"],
		"an interval starting in the future is not active")
}

func TestFillResourceBestekkenUsesBestekrefsPath(t *testing.T) {
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/eminfra/core/api/bestekrefs", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeOffsetPage(w, 0, 1, 1, []map[string]interface{}{
			{"uuid": "eeee5555-0000-0000-0000-000000000000", "eDeltaDossiernummer": "INTV-001"},
		})
	})

	db := arangotest.NewMemoryDB()
	engine := newTestEngine(t, db, mux, testConfig())
	require.NoError(t, engine.FillResource(context.Background(), ResourceBestekken))

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	doc := db.Doc("bestekken", "eeee5555")
	require.NotNil(t, doc)
	assert.Equal(t, "INTV-001", doc["eDeltaDossiernummer"])
}

func TestFillAssetsEndToEnd(t *testing.T) {
	var cursorsSeen []string
	mux := http.NewServeMux()
	mux.HandleFunc("/emson/api/otl/assets/search", func(w http.ResponseWriter, r *http.Request) {
		var query emapi.SearchQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		cursorsSeen = append(cursorsSeen, query.FromCursor)

		switch query.FromCursor {
		case "":
			w.Header().Set("em-paging-next-cursor", "PAGE-2")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"@graph": []map[string]interface{}{
					rawAssetJSON(assetID1, kastURI),
					rawAssetJSON(assetID2, "https://example.org/ns/onderdeel#Onbekend"),
				},
			})
		case "PAGE-2":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"@graph": []map[string]interface{}{rawAssetJSON(assetID3, kastURI)},
			})
		default:
			t.Fatalf("unexpected cursor %q", query.FromCursor)
		}
	})

	db := arangotest.NewMemoryDB()
	seedLookups(t, db)
	engine := newTestEngine(t, db, mux, testConfig())

	require.NoError(t, engine.FillResource(context.Background(), ResourceAssets))

	assert.Equal(t, []string{"", "PAGE-2"}, cursorsSeen)

	first := db.Doc("assets", assetID1)
	require.NotNil(t, first)
	assert.Equal(t, "aaaa1111", first["assettype_key"])
	assert.NotNil(t, first["geometry"])

	assert.Nil(t, db.Doc("assets", assetID2), "unknown asset type is skipped")
	assert.NotNil(t, db.Doc("assets", assetID3))

	assert.Equal(t, int64(1), engine.sum.Snapshot()[ResourceAssets].Skipped)
	assert.Equal(t, int64(2), engine.sum.Snapshot()[ResourceAssets].Records)

	marker := db.Doc("params", "fill_assets")
	assert.Equal(t, false, marker["fill"])
}

func TestFillAssetsResumesFromPersistedCursor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/emson/api/otl/assets/search", func(w http.ResponseWriter, r *http.Request) {
		var query emapi.SearchQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		require.Equal(t, "PAGE-2", query.FromCursor,
			"the engine resumes at the persisted cursor, not at the start")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"@graph": []map[string]interface{}{rawAssetJSON(assetID3, kastURI)},
		})
	})

	db := arangotest.NewMemoryDB()
	seedLookups(t, db)
	ctx := context.Background()
	require.NoError(t, db.InsertDocument(ctx, "params", map[string]interface{}{
		"_key": "fill_assets", "fill": true, "from": "PAGE-2",
	}))

	engine := newTestEngine(t, db, mux, testConfig())
	require.NoError(t, engine.FillResource(ctx, ResourceAssets))
	assert.NotNil(t, db.Doc("assets", assetID3))
}

func TestFillResourceSkipsWhenAlreadyFilled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("a filled resource must not hit the upstream")
	})

	db := arangotest.NewMemoryDB()
	ctx := context.Background()
	require.NoError(t, db.InsertDocument(ctx, "params", map[string]interface{}{
		"_key": "fill_assets", "fill": false, "from": nil,
	}))

	engine := newTestEngine(t, db, handler, testConfig())
	require.NoError(t, engine.FillResource(ctx, ResourceAssets))
}

func TestFillAssetsEmitsBestekkoppelingen(t *testing.T) {
	raw := rawAssetJSON(assetID1, kastURI)
	raw["bs:Bestek.bestekkoppeling"] = []interface{}{
		map[string]interface{}{
			"bs:DtcBestekkoppeling.bestekId": map[string]interface{}{
				"ident:DtcIdentificator.identificator": "eeee5555-0000-0000-0000-000000000000",
			},
			"bs:DtcBestekkoppeling.status": "https://example.org/kl/status/actief",
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/emson/api/otl/assets/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"@graph": []map[string]interface{}{raw},
		})
	})

	db := arangotest.NewMemoryDB()
	seedLookups(t, db)
	engine := newTestEngine(t, db, mux, testConfig())
	require.NoError(t, engine.FillResource(context.Background(), ResourceAssets))

	edges := db.Docs("bestekkoppelingen")
	require.Len(t, edges, 1)
	assert.Equal(t, "assets/"+assetID1, edges[0]["_from"])
	assert.Equal(t, "bestekken/eeee5555", edges[0]["_to"])
	assert.Equal(t, "actief", edges[0]["status"])
}

func TestFillAgentsSendsContactInfoExpansion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/eminfra/core/api/otl/agents/search", func(w http.ResponseWriter, r *http.Request) {
		var query emapi.SearchQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		require.NotNil(t, query.Expansions)
		assert.Equal(t, []string{"contactInfo"}, query.Expansions.Fields)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"@graph": []map[string]interface{}{
				{"@id": "https://data.example.org/id/agent/99999999-8888-7777-6666-555555555555-ag"},
			},
		})
	})

	db := arangotest.NewMemoryDB()
	engine := newTestEngine(t, db, mux, testConfig())
	require.NoError(t, engine.FillResource(context.Background(), ResourceAgents))

	doc := db.Doc("agents", "99999999-8888")
	require.NotNil(t, doc)
	assert.Equal(t, "99999999-8888-7777-6666-555555555555", doc["uuid"])
}

func TestFillAssetRelaties(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/emson/api/otl/assetrelaties/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"@graph": []map[string]interface{}{
				{
					"@id":   "https://data.example.org/id/assetrelatie/eeeeffff-1111-2222-3333-444455556666-rel",
					"@type": voedtURI,
					"RelatieObject.bron": map[string]interface{}{
						"@id": "https://data.example.org/id/asset/" + assetID1 + "-b",
					},
					"RelatieObject.doel": map[string]interface{}{
						"@id": "https://data.example.org/id/asset/" + assetID3 + "-d",
					},
				},
			},
		})
	})

	db := arangotest.NewMemoryDB()
	seedLookups(t, db)
	engine := newTestEngine(t, db, mux, testConfig())
	require.NoError(t, engine.FillResource(context.Background(), ResourceAssetRelaties))

	doc := db.Doc("assetrelaties", "eeeeffff-1111-2222-3333-444455556666")
	require.NotNil(t, doc)
	assert.Equal(t, "assets/"+assetID1, doc["_from"])
	assert.Equal(t, "assets/"+assetID3, doc["_to"])
	assert.Equal(t, "bbbb", doc["relatietype_key"])
	assert.Equal(t, true, doc["AIMDBStatus_isActief"])
}

func TestFillGroupRetriesFailedTasks(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/eminfra/core/api/assettypes", func(w http.ResponseWriter, r *http.Request) {
		// the first task attempt exhausts the requester's retry budget,
		// the group loop then reruns the task after the back-off
		if atomic.AddInt32(&calls, 1) <= 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeOffsetPage(w, 0, 1, 1, []map[string]interface{}{
			{"uuid": "aaaa1111-0000-0000-0000-000000000000", "naam": "Kast", "uri": kastURI},
		})
	})

	db := arangotest.NewMemoryDB()
	engine := newTestEngine(t, db, mux, testConfig())

	require.NoError(t, engine.fillGroup(context.Background(), []string{ResourceAssetTypes}))
	assert.NotNil(t, db.Doc("assettypes", "aaaa1111"))
}

func TestPipelinedFillMatchesSequential(t *testing.T) {
	pages := map[string]string{"": "PAGE-2", "PAGE-2": ""}
	handler := func(w http.ResponseWriter, r *http.Request) {
		var query emapi.SearchQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		next := pages[query.FromCursor]
		if next != "" {
			w.Header().Set("em-paging-next-cursor", next)
		}
		id := assetID1
		if query.FromCursor != "" {
			id = assetID3
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"@graph": []map[string]interface{}{rawAssetJSON(id, kastURI)},
		})
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/emson/api/otl/assets/search", handler)

	cfg := testConfig()
	cfg.Pipelined = true
	db := arangotest.NewMemoryDB()
	seedLookups(t, db)
	engine := newTestEngine(t, db, mux, cfg)

	require.NoError(t, engine.FillResource(context.Background(), ResourceAssets))

	assert.NotNil(t, db.Doc("assets", assetID1))
	assert.NotNil(t, db.Doc("assets", assetID3))
	assert.Equal(t, false, db.Doc("params", "fill_assets")["fill"])
}

func TestBenchLimitStopsAssetsEarly(t *testing.T) {
	served := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/emson/api/otl/assets/search", func(w http.ResponseWriter, r *http.Request) {
		served++
		if served > 10 {
			t.Fatal("bench limit did not stop the fill")
		}
		w.Header().Set("em-paging-next-cursor", fmt.Sprintf("PAGE-%d", served))
		id := fmt.Sprintf("11111111-2222-3333-4444-5555555555%02d", served)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"@graph": []map[string]interface{}{rawAssetJSON(id, kastURI)},
		})
	})

	cfg := testConfig()
	cfg.BenchLimit = 3
	db := arangotest.NewMemoryDB()
	seedLookups(t, db)
	engine := newTestEngine(t, db, mux, cfg)

	require.NoError(t, engine.FillResource(context.Background(), ResourceAssets))

	marker := db.Doc("params", "fill_assets")
	assert.Equal(t, true, marker["fill"], "a bench-capped fill stays resumable")
	assert.NotNil(t, marker["from"])
	assert.GreaterOrEqual(t, engine.sum.Records(ResourceAssets), int64(3))
}
