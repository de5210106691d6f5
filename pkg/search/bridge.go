package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/papercomputeco/scout/pkg/utils"
)

const (
	unknownCompany = "Unknown company"
	reasonSnippet  = 140
)

// Bridge runs one backend search per call and shapes the hits into cards.
type Bridge struct {
	searcher Searcher
	logger   *slog.Logger
}

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	Searcher Searcher
	Logger   *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("search bridge requires a searcher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{searcher: cfg.Searcher, logger: logger}, nil
}

// Search returns the cards matching filters. A backend failure yields an
// empty list.
func (b *Bridge) Search(ctx context.Context, filters Filters, query string, limit int) []Card {
	cards, err := b.Lookup(ctx, filters, query, limit)
	if err != nil {
		b.logger.Warn("company search failed", "query", query, "error", err)
		return []Card{}
	}
	return cards
}

// Lookup is Search with the backend error exposed, for callers that
// account for failures separately. The returned slice is never nil.
func (b *Bridge) Lookup(ctx context.Context, filters Filters, query string, limit int) ([]Card, error) {
	limit = NormalizeLimit(limit)
	text := BuildQuery(query, filters)

	docs, err := b.searcher.Search(ctx, text, limit)
	if err != nil {
		return []Card{}, err
	}

	cards := make([]Card, 0, min(len(docs), limit))
	for _, doc := range docs {
		facets := docFacets(doc)
		if !matches(facets, filters) {
			continue
		}
		cards = append(cards, toCard(doc, facets, filters))
		if len(cards) == limit {
			break
		}
	}

	b.logger.Debug("company search",
		"query", text,
		"documents", len(docs),
		"cards", len(cards),
	)
	return cards, nil
}

func toCard(doc Document, facets map[string][]string, filters Filters) Card {
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}

	name := stringValue(doc.Metadata["name"])
	if name == "" {
		name = doc.Title
	}
	if name == "" {
		name = unknownCompany
	}

	summary := doc.Content
	if summary == "" {
		summary = stringValue(doc.Metadata["summary"])
	}

	card := Card{
		ID:           id,
		Name:         name,
		Industry:     facets[FacetIndustry],
		Region:       facets[FacetRegion],
		TechKeywords: facets[FacetTech],
		Summary:      summary,
		Score:        doc.Score,
	}
	if sizes := facets[FacetSize]; len(sizes) > 0 {
		card.Size = sizes[0]
	}
	card.Reason = reason(facets, doc.Content, filters)
	return card
}

// docFacets reads every facet from doc's metadata. Each may be stored as a
// list or a scalar; tech falls back from techKeywords to tech.
func docFacets(doc Document) map[string][]string {
	tech := toList(doc.Metadata["techKeywords"])
	if len(tech) == 0 {
		tech = toList(doc.Metadata["tech"])
	}
	return map[string][]string{
		FacetIndustry: toList(doc.Metadata[FacetIndustry]),
		FacetSize:     toList(doc.Metadata[FacetSize]),
		FacetRegion:   toList(doc.Metadata[FacetRegion]),
		FacetTech:     tech,
	}
}

// matches reports whether facets satisfy every requested facet. Comparison
// is case-insensitive exact equality; an empty facet always passes.
func matches(facets map[string][]string, filters Filters) bool {
	for _, facet := range Facets {
		wanted := filters.Values(facet)
		if len(wanted) == 0 {
			continue
		}
		if len(intersect(facets[facet], wanted)) == 0 {
			return false
		}
	}
	return true
}

func reason(facets map[string][]string, content string, filters Filters) string {
	var matched []string
	for _, facet := range Facets {
		for _, v := range intersect(facets[facet], filters.Values(facet)) {
			matched = append(matched, facet+"="+v)
		}
	}
	if len(matched) > 0 {
		return "Matched: " + strings.Join(matched, ", ")
	}
	return utils.Truncate(content, reasonSnippet)
}

// intersect returns the wanted values (in their requested spelling) that
// appear in have, ignoring case.
func intersect(have, wanted []string) []string {
	if len(have) == 0 || len(wanted) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	var out []string
	for _, w := range wanted {
		if _, ok := set[strings.ToLower(w)]; ok {
			out = append(out, w)
		}
	}
	return out
}
