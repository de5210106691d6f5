// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/papercomputeco/scout/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for company documents.
	DefaultCollectionName = "companies"

	// DefaultMaxRetries is the number of attempts made for each request.
	DefaultMaxRetries = 5

	// DefaultRetryDelay is the initial wait between attempts.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay caps the exponential wait between attempts.
	DefaultMaxRetryDelay = 5 * time.Second

	// titleKey stores the document title alongside facet metadata.
	titleKey = "_title"

	collectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"
)

// Driver implements vector.Driver using Chroma's REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	logger         *slog.Logger

	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

var _ vector.Driver = (*Driver)(nil)

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName defaults to DefaultCollectionName if empty.
	CollectionName string

	// MaxRetries is the total number of attempts per request, including
	// collection setup while Chroma is still starting.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// statusError is returned for non-2xx responses. 4xx errors are not retried.
type statusError struct {
	op     string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("chroma %s: status %d: %s", e.op, e.status, e.body)
}

// NewDriver creates a new Chroma vector driver, creating the collection if
// it does not exist.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}

	d := &Driver{
		baseURL:        strings.TrimRight(c.URL, "/"),
		collectionName: collectionName,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		logger:         logger,
		maxRetries:     cmp.Or(c.MaxRetries, DefaultMaxRetries),
		retryDelay:     cmp.Or(c.RetryDelay, DefaultRetryDelay),
		maxRetryDelay:  cmp.Or(c.MaxRetryDelay, DefaultMaxRetryDelay),
	}

	var collectionID string
	attempts, err := d.retry(context.Background(), "collection", func() error {
		id, err := d.getOrCreateCollection(context.Background())
		collectionID = id
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: collection %q after %d attempts: %w", vector.ErrConnection, collectionName, attempts, err)
	}
	d.collectionID = collectionID

	logger.Info("connected to chroma",
		"url", c.URL,
		"collection", collectionName,
		"collection_id", collectionID,
	)

	return d, nil
}

// retry runs fn with exponential backoff until it succeeds, returns a
// permanent error, or the attempt budget is spent. It reports the number
// of attempts made.
func (d *Driver) retry(ctx context.Context, op string, fn func() error) (int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retryDelay
	policy.MaxInterval = d.maxRetryDelay

	attempts := 0
	err := backoff.RetryNotify(
		func() error {
			attempts++
			return fn()
		},
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(d.maxRetries-1, 0))), ctx),
		func(err error, wait time.Duration) {
			d.logger.Debug("retrying chroma request", "op", op, "attempt", attempts, "wait", wait, "error", err)
		},
	)
	return attempts, err
}

// do sends one JSON request, decoding a 2xx body into out when non-nil.
// Client errors are marked permanent so retry gives up on them.
func (d *Driver) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("marshaling %s request: %w", op, err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating %s request: %w", op, err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &statusError{op: op, status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		if resp.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(serr)
		}
		return serr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding %s response: %w", op, err))
	}
	return nil
}

// call is do wrapped in retry.
func (d *Driver) call(ctx context.Context, op, method, path string, in, out any) error {
	_, err := d.retry(ctx, op, func() error {
		return d.do(ctx, op, method, path, in, out)
	})
	return err
}

// getOrCreateCollection looks the collection up and creates it when the
// lookup fails with a status error.
func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	var collection chromaCollection
	err := d.do(ctx, "get collection", http.MethodGet, collectionsPath+"/"+d.collectionName, nil, &collection)
	if err == nil {
		return collection.ID, nil
	}

	var serr *statusError
	if !errors.As(err, &serr) {
		return "", err
	}

	body := map[string]any{"name": d.collectionName, "get_or_create": true}
	if err := d.do(ctx, "create collection", http.MethodPost, collectionsPath, body, &collection); err != nil {
		return "", err
	}
	return collection.ID, nil
}

func (d *Driver) collectionPath(action string) string {
	return collectionsPath + "/" + d.collectionID + "/" + action
}

// Add upserts documents with their embeddings.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Metadatas:  make([]map[string]string, len(docs)),
		Documents:  make([]string, len(docs)),
	}
	for i, doc := range docs {
		md := vector.FlattenMetadata(doc.Metadata)
		md[titleKey] = doc.Title
		req.IDs[i] = doc.ID
		req.Embeddings[i] = doc.Embedding
		req.Metadatas[i] = md
		req.Documents[i] = doc.Content
	}

	if err := d.call(ctx, "upsert", http.MethodPost, d.collectionPath("upsert"), req, nil); err != nil {
		return err
	}

	d.logger.Debug("upserted documents to chroma", "count", len(docs))
	return nil
}

// Query finds the topK most similar documents to the given embedding.
// Distances are mapped to a similarity score of 1/(1+distance).
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        topK,
		Include:         []string{"metadatas", "distances", "documents"},
	}

	var resp chromaQueryResponse
	if err := d.call(ctx, "query", http.MethodPost, d.collectionPath("query"), req, &resp); err != nil {
		return nil, err
	}

	results := []vector.QueryResult{}
	if len(resp.IDs) == 0 {
		return results, nil
	}

	for i, id := range resp.IDs[0] {
		result := vector.QueryResult{Document: decodeDocument(id, at(resp.Metadatas, i), at(resp.Documents, i))}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			result.Score = 1.0 / (1.0 + resp.Distances[0][i])
		}
		results = append(results, result)
	}

	d.logger.Debug("queried chroma", "results", len(results))
	return results, nil
}

// at returns the i-th element of the first query group, or the zero value.
func at[T any](groups [][]T, i int) T {
	var zero T
	if len(groups) == 0 || i >= len(groups[0]) {
		return zero
	}
	return groups[0][i]
}

func decodeDocument(id string, md map[string]string, content string) vector.Document {
	title := md[titleKey]
	delete(md, titleKey)
	return vector.Document{
		ID:       id,
		Title:    title,
		Content:  content,
		Metadata: vector.ExpandMetadata(md),
	}
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	req := chromaGetRequest{IDs: ids, Include: []string{"metadatas", "documents", "embeddings"}}
	var resp chromaGetResponse
	if err := d.call(ctx, "get", http.MethodPost, d.collectionPath("get"), req, &resp); err != nil {
		return nil, err
	}

	docs := make([]vector.Document, len(resp.IDs))
	for i, id := range resp.IDs {
		var md map[string]string
		if i < len(resp.Metadatas) {
			md = resp.Metadatas[i]
		}
		var content string
		if i < len(resp.Documents) {
			content = resp.Documents[i]
		}
		docs[i] = decodeDocument(id, md, content)
		if i < len(resp.Embeddings) {
			docs[i].Embedding = resp.Embeddings[i]
		}
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := d.call(ctx, "delete", http.MethodPost, d.collectionPath("delete"), chromaDeleteRequest{IDs: ids}, nil); err != nil {
		return err
	}
	d.logger.Debug("deleted documents from chroma", "count", len(ids))
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return nil
}
