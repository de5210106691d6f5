package relay

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/papercomputeco/scout/pkg/search"
)

const (
	filtersOpen  = "<FILTERS>"
	filtersClose = "</FILTERS>"
)

// searchParams is one company search derived from tool arguments or an
// inline filter block.
type searchParams struct {
	filters search.Filters
	query   string
	limit   int
}

// buildSearch merges model-supplied arguments with the caller's filters.
// Each facet comes from args when present, else from fallback. The query
// is args["q"] or the user message; the limit is a numeric args["limit"]
// or the default.
func buildSearch(args map[string]any, fallback search.Filters, message string) searchParams {
	p := searchParams{
		filters: search.Filters{},
		query:   message,
		limit:   search.DefaultLimit,
	}

	for _, facet := range search.Facets {
		if v, ok := args[facet]; ok {
			if values := search.ToList(v); len(values) > 0 {
				p.filters[facet] = values
				continue
			}
		}
		if values := fallback.Values(facet); len(values) > 0 {
			p.filters[facet] = values
		}
	}

	if q, ok := args["q"].(string); ok && strings.TrimSpace(q) != "" {
		p.query = q
	}

	if limit, ok := numericArg(args["limit"]); ok {
		p.limit = limit
	}

	return p
}

func numericArg(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

// extractFilterBlock returns the JSON object inside the last
// <FILTERS>...</FILTERS> region of buf. ok is false when no well-formed block
// exists or its body is not a JSON object.
func extractFilterBlock(buf string) (map[string]any, bool) {
	start := strings.LastIndex(buf, filtersOpen)
	end := strings.LastIndex(buf, filtersClose)
	if start < 0 || end < 0 || end < start+len(filtersOpen) {
		return nil, false
	}

	body := strings.TrimSpace(buf[start+len(filtersOpen) : end])
	if !gjson.Valid(body) {
		return nil, false
	}

	parsed := gjson.Parse(body)
	if !parsed.IsObject() {
		return nil, false
	}

	args, ok := parsed.Value().(map[string]any)
	return args, ok
}
