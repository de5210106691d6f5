package vector

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FlattenMetadata renders metadata as string values for stores that only
// accept scalars. Lists are JSON-encoded.
func FlattenMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case nil:
		case string:
			out[k] = t
		case []string, []any:
			raw, err := json.Marshal(t)
			if err != nil {
				continue
			}
			out[k] = string(raw)
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

// ExpandMetadata reverses FlattenMetadata: JSON-encoded string lists are
// decoded back into []any.
func ExpandMetadata(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if strings.HasPrefix(v, "[") {
			var list []any
			if err := json.Unmarshal([]byte(v), &list); err == nil {
				out[k] = list
				continue
			}
		}
		out[k] = v
	}
	return out
}
