// Package semantic implements search.Searcher by embedding the query and
// running a nearest-neighbour lookup in a vector store.
package semantic

import (
	"context"
	"errors"
	"fmt"

	"github.com/papercomputeco/scout/pkg/embeddings"
	"github.com/papercomputeco/scout/pkg/search"
	"github.com/papercomputeco/scout/pkg/vector"
)

// Searcher embeds queries and searches a vector store.
type Searcher struct {
	embedder embeddings.Embedder
	driver   vector.Driver
}

var _ search.Searcher = (*Searcher)(nil)

// New creates a semantic searcher.
func New(embedder embeddings.Embedder, driver vector.Driver) (*Searcher, error) {
	if embedder == nil {
		return nil, errors.New("semantic search requires an embedder")
	}
	if driver == nil {
		return nil, errors.New("semantic search requires a vector driver")
	}
	return &Searcher{embedder: embedder, driver: driver}, nil
}

// Search embeds query and returns the topK nearest documents.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]search.Document, error) {
	if query == "" {
		return []search.Document{}, nil
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrEmbedding, err)
	}

	results, err := s.driver.Query(ctx, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("querying vector store: %w", err)
	}

	docs := make([]search.Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, search.Document{
			ID:       r.ID,
			Title:    r.Title,
			Content:  r.Content,
			Score:    float64(r.Score),
			Metadata: r.Metadata,
		})
	}
	return docs, nil
}
