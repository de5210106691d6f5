// Package chromem provides an embedded vector.Driver on chromem-go. It
// needs no external service, which makes it the default for local runs.
package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cg "github.com/philippgille/chromem-go"

	"github.com/papercomputeco/scout/pkg/vector"
)

// DefaultCollectionName is the default collection for company documents.
const DefaultCollectionName = "companies"

const titleKey = "_title"

// Config holds configuration for the chromem driver.
type Config struct {
	// Path persists the database to a directory. Empty keeps it in memory.
	Path           string
	CollectionName string
}

// Driver implements vector.Driver on an in-process chromem collection.
type Driver struct {
	collection *cg.Collection
	logger     *slog.Logger

	// chromem rejects queries for more results than it holds, so Query
	// reads the count and queries under one lock.
	mu sync.RWMutex
}

var _ vector.Driver = (*Driver)(nil)

// NewDriver opens (or creates) the database and collection.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	db := cg.NewDB()
	if c.Path != "" {
		var err error
		db, err = cg.NewPersistentDB(c.Path, false)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem db %s: %w", vector.ErrConnection, c.Path, err)
		}
	}

	name := c.CollectionName
	if name == "" {
		name = DefaultCollectionName
	}

	// Embeddings are always supplied by the caller, so the collection
	// never needs its own embedding function.
	collection, err := db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %q: %w", name, err)
	}

	logger.Info("chromem vector driver initialized",
		"path", c.Path,
		"collection", name,
		"documents", collection.Count(),
	)

	return &Driver{collection: collection, logger: logger}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: chromem driver requires precomputed embeddings", vector.ErrEmbedding)
}

// Add stores documents, replacing existing ids.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("%w: document %s has no embedding", vector.ErrEmbedding, doc.ID)
		}
		md := vector.FlattenMetadata(doc.Metadata)
		md[titleKey] = doc.Title
		if err := d.collection.AddDocument(ctx, cg.Document{
			ID:        doc.ID,
			Metadata:  md,
			Embedding: doc.Embedding,
			Content:   doc.Content,
		}); err != nil {
			return fmt.Errorf("adding document %s: %w", doc.ID, err)
		}
	}

	d.logger.Debug("added documents to chromem", "count", len(docs))
	return nil
}

// Query finds the topK most similar documents by cosine similarity.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	results := []vector.QueryResult{}
	n := min(topK, d.collection.Count())
	if n == 0 {
		return results, nil
	}

	found, err := d.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	for _, r := range found {
		results = append(results, vector.QueryResult{
			Document: decodeDocument(r.ID, r.Metadata, r.Content),
			Score:    r.Similarity,
		})
	}

	d.logger.Debug("queried chromem", "results", len(results))
	return results, nil
}

func decodeDocument(id string, md map[string]string, content string) vector.Document {
	flat := make(map[string]string, len(md))
	for k, v := range md {
		if k != titleKey {
			flat[k] = v
		}
	}
	return vector.Document{
		ID:       id,
		Title:    md[titleKey],
		Content:  content,
		Metadata: vector.ExpandMetadata(flat),
	}
}

// Get retrieves documents by their IDs. Unknown ids are skipped.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	docs := make([]vector.Document, 0, len(ids))
	for _, id := range ids {
		found, err := d.collection.GetByID(ctx, id)
		if err != nil {
			continue
		}
		doc := decodeDocument(found.ID, found.Metadata, found.Content)
		doc.Embedding = found.Embedding
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Unknown ids would fail removal from a persistent directory.
	known := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := d.collection.GetByID(ctx, id); err == nil {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return nil
	}

	if err := d.collection.Delete(ctx, nil, nil, known...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}

	d.logger.Debug("deleted documents from chromem", "count", len(known))
	return nil
}

// Close is a no-op; persistent databases write on every change.
func (d *Driver) Close() error {
	return nil
}
