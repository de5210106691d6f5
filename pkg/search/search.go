// Package search turns facet filters and free text into company cards using
// a pluggable document-search backend.
package search

import (
	"context"
	"strings"
)

// Facet names, in the order they are rendered into query text.
const (
	FacetIndustry = "industry"
	FacetSize     = "size"
	FacetRegion   = "region"
	FacetTech     = "tech"
)

// Facets lists every supported facet in query order.
var Facets = []string{FacetIndustry, FacetSize, FacetRegion, FacetTech}

const (
	// DefaultLimit is used when a caller passes a non-positive limit.
	DefaultLimit = 20

	// MaxLimit caps every search.
	MaxLimit = 100
)

// Filters maps a facet name to the values requested for it. Values within
// a facet are alternatives; facets must all match.
type Filters map[string][]string

// Values returns the trimmed, non-empty values requested for facet.
func (f Filters) Values(facet string) []string {
	var out []string
	for _, v := range f[facet] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Card is a company result presented to callers.
type Card struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Industry     []string `json:"industry,omitempty"`
	Size         string   `json:"size,omitempty"`
	Region       []string `json:"region,omitempty"`
	TechKeywords []string `json:"techKeywords,omitempty"`
	Summary      string   `json:"summary"`
	Score        float64  `json:"score"`
	Reason       string   `json:"reason"`
}

// Document is one scored hit from a search backend.
type Document struct {
	ID       string
	Title    string
	Content  string
	Score    float64
	Metadata map[string]any
}

// Searcher is the document-search backend contract.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Document, error)
}

// NormalizeLimit applies DefaultLimit and MaxLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// BuildQuery renders the free-text query followed by one "facet:v1|v2"
// token per non-empty facet, space separated.
func BuildQuery(query string, filters Filters) string {
	var tokens []string
	if q := strings.TrimSpace(query); q != "" {
		tokens = append(tokens, q)
	}
	for _, facet := range Facets {
		if values := filters.Values(facet); len(values) > 0 {
			tokens = append(tokens, facet+":"+strings.Join(values, "|"))
		}
	}
	return strings.Join(tokens, " ")
}
