package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/mowtools/emsync/internal/errors"
)

// ExtractWKT sources the WKT string of a normalized asset in priority
// order: geometry log, locatie geometry, then a synthesized point from the
// Lambert 72 or Lambert 2008 point location. Empty when no source matches.
func ExtractWKT(obj map[string]interface{}) string {
	if geo, ok := obj["geo"].(map[string]interface{}); ok {
		if s := wktFromGeometrieLog(geo); s != "" {
			return s
		}
	}

	loc, ok := obj["loc"].(map[string]interface{})
	if !ok {
		return ""
	}
	if s, ok := loc["Locatie_geometrie"].(string); ok && s != "" {
		return s
	}

	punt, ok := nestedMap(loc, "Locatie_puntlocatie", "3Dpunt_puntgeometrie")
	if !ok {
		return ""
	}
	for _, field := range []string{"DtcCoord_lambert72", "DtcCoord_lambert2008"} {
		if coord, ok := punt[field].(map[string]interface{}); ok {
			if s := synthesizePoint(coord); s != "" {
				return s
			}
		}
	}
	return ""
}

// wktFromGeometrieLog takes the first value of the inner mapping of the
// first geometry log entry
func wktFromGeometrieLog(geo map[string]interface{}) string {
	entries, ok := geo["Geometrie_log"].([]interface{})
	if !ok || len(entries) == 0 {
		return ""
	}
	entry, ok := entries[0].(map[string]interface{})
	if !ok {
		return ""
	}
	inner, ok := entry["DtcLog_geometrie"].(map[string]interface{})
	if !ok {
		return ""
	}
	keys := make([]string, 0, len(inner))
	for k := range inner {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := inner[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// synthesizePoint builds POINT Z (x y z) from a coordinate mapping whose
// sorted keys order as x, y, z
func synthesizePoint(coord map[string]interface{}) string {
	keys := make([]string, 0, len(coord))
	for k := range coord {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]float64, 0, 3)
	for _, k := range keys {
		if f, ok := numeric(coord[k]); ok {
			values = append(values, f)
		}
	}
	if len(values) < 2 {
		return ""
	}
	z := 0.0
	if len(values) > 2 {
		z = values[2]
	}
	return fmt.Sprintf("POINT Z (%s %s %s)",
		formatCoord(values[0]), formatCoord(values[1]), formatCoord(z))
}

// StripSRID removes a leading SRID=...; prefix from a WKT string
func StripSRID(s string) string {
	if strings.HasPrefix(s, "SRID=") {
		if idx := strings.Index(s, ";"); idx >= 0 {
			return s[idx+1:]
		}
	}
	return s
}

// ToWGS84GeoJSON reprojects a Lambert 2008 WKT to a WGS84 GeoJSON mapping.
// Points take a fast scan path and are always emitted with 2D coordinates;
// other geometries are parsed in full and reprojected vertex by vertex.
func ToWGS84GeoJSON(wktString string) (map[string]interface{}, error) {
	clean := strings.TrimSpace(StripSRID(wktString))

	if strings.HasPrefix(strings.ToUpper(clean), "POINT") {
		return pointToWGS84(clean)
	}

	g, err := wkt.Unmarshal(clean)
	if err != nil {
		return nil, errors.NewTransformError("parse WKT").WithCause(err).
			WithDetail("wkt", truncate(wktString, 128))
	}

	coords := g.FlatCoords()
	stride := g.Stride()
	for i := 0; i+1 < len(coords); i += stride {
		lon, lat := lambert2008.Inverse(coords[i], coords[i+1])
		coords[i], coords[i+1] = lon, lat
	}

	encoded, err := geojson.Marshal(g)
	if err != nil {
		return nil, errors.NewTransformError("encode GeoJSON").WithCause(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, errors.NewTransformError("decode GeoJSON").WithCause(err)
	}
	return out, nil
}

// pointToWGS84 parses the two or three numbers of a point WKT without a
// full parser round trip. Output coordinates are 2D even for POINT Z input.
func pointToWGS84(clean string) (map[string]interface{}, error) {
	open := strings.Index(clean, "(")
	end := strings.LastIndex(clean, ")")
	if open < 0 || end <= open {
		return nil, errors.NewTransformError("malformed point WKT").
			WithDetail("wkt", truncate(clean, 128))
	}

	fields := strings.Fields(clean[open+1 : end])
	if len(fields) < 2 {
		return nil, errors.NewTransformError("point WKT with fewer than two coordinates").
			WithDetail("wkt", truncate(clean, 128))
	}
	x, errX := strconv.ParseFloat(fields[0], 64)
	y, errY := strconv.ParseFloat(fields[1], 64)
	if errX != nil || errY != nil {
		return nil, errors.NewTransformError("invalid point coordinates").
			WithDetail("wkt", truncate(clean, 128))
	}

	lon, lat := lambert2008.Inverse(x, y)
	return map[string]interface{}{
		"type":        "Point",
		"coordinates": []interface{}{lon, lat},
	}, nil
}

func nestedMap(m map[string]interface{}, path ...string) (map[string]interface{}, bool) {
	current := m
	for _, key := range path {
		next, ok := current[key].(map[string]interface{})
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
