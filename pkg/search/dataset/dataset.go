// Package dataset implements search.Searcher against the Dify knowledge-base
// (dataset) document search API.
package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/papercomputeco/scout/pkg/search"
)

const (
	// DefaultBaseURL is the hosted Dify API.
	DefaultBaseURL = "https://api.dify.ai"

	maxResponseBody = 8 << 20
)

// Config holds configuration for the dataset client.
type Config struct {
	BaseURL   string
	APIKey    string
	DatasetID string

	// Timeout bounds each search request. Defaults to 15s.
	Timeout time.Duration
}

// Client searches one dataset.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

var _ search.Searcher = (*Client)(nil)

type searchRequest struct {
	Query  string `json:"query"`
	TopK   int    `json:"top_k"`
	Rerank bool   `json:"rerank"`
}

// NewClient creates a dataset search client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.DatasetID == "" {
		return nil, fmt.Errorf("dataset id is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		endpoint:   baseURL + "/v1/datasets/" + url.PathEscape(cfg.DatasetID) + "/documents/search",
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Search runs one document search.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]search.Document, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: topK, Rerank: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling dataset search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating dataset search: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending dataset search: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading dataset search: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dataset search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return ParseDocuments(raw)
}

// ParseDocuments reads the "data" array of a search response, falling back
// to "documents".
func ParseDocuments(raw []byte) ([]search.Document, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("dataset search returned invalid JSON")
	}

	root := gjson.ParseBytes(raw)
	list := root.Get("data")
	if !list.Exists() {
		list = root.Get("documents")
	}
	if !list.IsArray() {
		return []search.Document{}, nil
	}

	items := list.Array()
	docs := make([]search.Document, 0, len(items))
	for _, item := range items {
		id := item.Get("document_id").String()
		if id == "" {
			id = item.Get("id").String()
		}

		metadata := map[string]any{}
		if md := item.Get("metadata"); md.IsObject() {
			if m, ok := md.Value().(map[string]any); ok {
				metadata = m
			}
		}

		docs = append(docs, search.Document{
			ID:       id,
			Title:    item.Get("title").String(),
			Content:  item.Get("content").String(),
			Score:    item.Get("score").Float(),
			Metadata: metadata,
		})
	}
	return docs, nil
}
