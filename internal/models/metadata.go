package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Metadata is an open key-value bag restricted to scalar values
// (string, number, bool).
type Metadata map[string]any

// NormalizeMetadata validates a decoded map and converts numeric values to
// float64 or int64. Null values are dropped. Nested objects and arrays are
// rejected.
func NormalizeMetadata(in map[string]any) (Metadata, error) {
	out := make(Metadata, len(in))
	for k, v := range in {
		if k == "" {
			return nil, fmt.Errorf("metadata key must not be empty")
		}
		switch val := v.(type) {
		case nil:
			continue
		case string, bool, float64, int64:
			out[k] = val
		case float32:
			out[k] = float64(val)
		case int:
			out[k] = int64(val)
		case int32:
			out[k] = int64(val)
		case uint32:
			out[k] = int64(val)
		case json.Number:
			if i, err := val.Int64(); err == nil {
				out[k] = i
			} else if f, err := val.Float64(); err == nil {
				out[k] = f
			} else {
				return nil, fmt.Errorf("metadata %q: invalid number %q", k, val)
			}
		default:
			return nil, fmt.Errorf("metadata %q: unsupported value type %T", k, v)
		}
	}
	return out, nil
}

// Merge returns a copy of m with the keys of incoming that m does not already
// have. Existing keys always win.
func (m Metadata) Merge(incoming Metadata) Metadata {
	out := m.Clone()
	for k, v := range incoming {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy of m. A nil receiver yields an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the keys of m in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
