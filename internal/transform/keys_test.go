package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeysBucketsTopLevelNamespaces(t *testing.T) {
	raw := map[string]interface{}{
		"@id":                  "https://data.example.org/id/asset/AAAA-BBBB-CCCC-FAKE",
		"@type":                "https://example.org/ns/onderdeel#Kast",
		"loc:Locatie.geometrie": "SRID=3812;POINT Z(1000.123 2000.456 0.0)",
		"tz:Toezicht.toezichter": map[string]interface{}{
			"tz:DtcToezichter.id": "11111111-1111-1111-1111-111111111111",
		},
	}

	result := NormalizeKeys(raw)

	require.Len(t, result, 4)
	assert.Equal(t, "https://data.example.org/id/asset/AAAA-BBBB-CCCC-FAKE", result["@id"])

	loc, ok := result["loc"].(map[string]interface{})
	require.True(t, ok, "loc bucket missing")
	assert.Equal(t, "SRID=3812;POINT Z(1000.123 2000.456 0.0)", loc["Locatie_geometrie"])

	tz, ok := result["tz"].(map[string]interface{})
	require.True(t, ok, "tz bucket missing")
	toezichter, ok := tz["Toezicht_toezichter"].(map[string]interface{})
	require.True(t, ok, "nested toezichter missing")
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", toezichter["DtcToezichter_id"])

	assertCleanKeys(t, result)
}

func TestNormalizeKeysStripsPrefixesBelowTopLevel(t *testing.T) {
	raw := map[string]interface{}{
		"bs:Bestek.bestekkoppeling": []interface{}{
			map[string]interface{}{
				"bs:DtcBestekkoppeling.bestekId": map[string]interface{}{
					"ident:DtcIdentificator.identificator": "00000000-0000-0000-0000-000000000000",
				},
			},
		},
	}

	result := NormalizeKeys(raw)

	bs := result["bs"].(map[string]interface{})
	list := bs["Bestek_bestekkoppeling"].([]interface{})
	require.Len(t, list, 1)
	kopp := list[0].(map[string]interface{})
	bestekID, ok := kopp["DtcBestekkoppeling_bestekId"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", bestekID["DtcIdentificator_identificator"])
	assertCleanKeys(t, result)
}

func TestNormalizeKeysIdempotent(t *testing.T) {
	raw := map[string]interface{}{
		"@id":              "https://data.example.org/id/asset/X",
		"loc:Locatie.punt": map[string]interface{}{"loc:DtcCoord.x": 1.0},
		"plain":            "value",
	}

	once := NormalizeKeys(raw)
	twice := NormalizeKeys(once)
	assert.Equal(t, once, twice)
}

func TestNormalizeKeysPreservesScalarsAndLists(t *testing.T) {
	raw := map[string]interface{}{
		"ins:Inspectie.data": []interface{}{1.0, "two", true, nil},
	}
	result := NormalizeKeys(raw)
	ins := result["ins"].(map[string]interface{})
	assert.Equal(t, []interface{}{1.0, "two", true, nil}, ins["Inspectie_data"])
}

func TestLastSegment(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"https://example.org/kl/KlAIMToestand/in-gebruik", "in-gebruik"},
		{"no-slashes", "no-slashes"},
		{"trailing/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lastSegment(tt.uri), tt.uri)
	}
}

// assertCleanKeys walks the tree and fails on any key containing a colon or
// dot, except preserved @-keys at any level
func assertCleanKeys(t *testing.T, v interface{}) {
	t.Helper()
	switch val := v.(type) {
	case map[string]interface{}:
		for k, inner := range val {
			if !strings.HasPrefix(k, "@") {
				assert.NotContains(t, k, ":", "key %q contains a colon", k)
				assert.NotContains(t, k, ".", "key %q contains a dot", k)
			}
			assertCleanKeys(t, inner)
		}
	case []interface{}:
		for _, inner := range val {
			assertCleanKeys(t, inner)
		}
	}
}
