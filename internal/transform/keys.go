// Package transform implements the pure record pipeline applied to raw
// upstream payloads: namespace bucketing, key sanitization, geometry
// enrichment and foreign-key derivation.
package transform

import "strings"

// NormalizeKeys rewrites a raw record with namespaced dotted keys into the
// stored shape. At the top level, a key of the form ns:rest is bucketed
// under result[ns] with dots replaced by underscores; keys starting with @
// are preserved verbatim. Below the top level namespace prefixes are
// stripped instead of bucketed. The pass is idempotent.
func NormalizeKeys(record map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(record))
	for key, value := range record {
		if strings.HasPrefix(key, "@") {
			result[key] = value
			continue
		}

		value = normalizeNested(value)

		if idx := strings.Index(key, ":"); idx >= 0 {
			ns := key[:idx]
			field := strings.ReplaceAll(key[idx+1:], ".", "_")
			bucket, ok := result[ns].(map[string]interface{})
			if !ok {
				bucket = make(map[string]interface{})
				result[ns] = bucket
			}
			bucket[field] = value
			continue
		}
		result[strings.ReplaceAll(key, ".", "_")] = value
	}
	return result
}

// normalizeNested sanitizes keys below the top level: any leading ns:
// prefix is removed and dots become underscores. No buckets are created.
func normalizeNested(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, inner := range v {
			if idx := strings.Index(key, ":"); idx >= 0 {
				key = key[idx+1:]
			}
			key = strings.ReplaceAll(key, ".", "_")
			result[key] = normalizeNested(inner)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = normalizeNested(item)
		}
		return result
	default:
		return value
	}
}

// lastSegment returns the part of a URI after the final slash
func lastSegment(uri string) string {
	if idx := strings.LastIndex(uri, "/"); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}

// truncate returns at most n leading bytes of s
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
