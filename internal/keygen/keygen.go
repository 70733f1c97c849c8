// Package keygen derives deterministic query keys from parameter maps.
//
// Grounded on the teacher's cache.KeyGenerators (sorted key/value join) and
// on fcache's internal/lib/keygen (canonical JSON + hashing of oversized
// keys), combined to match the spec's requirement that two parameter maps
// with equal values in the same sorted key order produce identical keys.
package keygen

import (
	"encoding/json"
	"sort"
)

// BuildQueryKey returns the canonical query key for a parameter map: keys
// are sorted ascending, and the value sequence in that order is serialized
// as a canonical JSON array. Two maps with equal values in the same key
// order always produce identical keys.
func BuildQueryKey(params map[string]any) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(params))
	for _, k := range keys {
		ordered = append(ordered, params[k])
	}

	encoded, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
