// Package qdrant provides a vector.Driver backed by Qdrant's gRPC API.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/scout/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for company documents.
	DefaultCollectionName = "companies"

	// Payload keys reserved by the driver. Facet metadata lives alongside.
	idKey      = "_id"
	titleKey   = "_title"
	contentKey = "_content"
)

// Config holds configuration for the Qdrant driver.
type Config struct {
	// URL is the gRPC endpoint, e.g. "http://localhost:6334". An https
	// scheme enables TLS.
	URL            string
	APIKey         string
	CollectionName string

	// Dimensions sizes the collection when it has to be created.
	Dimensions uint
}

// Driver implements vector.Driver on a Qdrant collection.
type Driver struct {
	client     *qc.Client
	collection string
	logger     *slog.Logger
}

var _ vector.Driver = (*Driver)(nil)

// NewDriver connects to Qdrant and creates the collection with cosine
// distance when it does not exist.
func NewDriver(ctx context.Context, c Config, logger *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, errors.New("qdrant URL is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("qdrant embedding dimensions cannot be 0, must be configured")
	}

	cfg, err := clientConfig(c)
	if err != nil {
		return nil, err
	}

	client, err := qc.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant client: %w", vector.ErrConnection, err)
	}

	collection := c.CollectionName
	if collection == "" {
		collection = DefaultCollectionName
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: checking collection %q: %w", vector.ErrConnection, collection, err)
	}
	if !exists {
		err := client.CreateCollection(ctx, &qc.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
				Size:     uint64(c.Dimensions),
				Distance: qc.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("creating collection %q: %w", collection, err)
		}
	}

	logger.Info("connected to qdrant",
		"url", c.URL,
		"collection", collection,
		"created", !exists,
	)

	return &Driver{client: client, collection: collection, logger: logger}, nil
}

func clientConfig(c Config) (*qc.Config, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing qdrant URL: %w", err)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		// No port in the URL; let the client use its default.
		host, portStr = u.Host, ""
	}
	if host == "" {
		host = u.Path
	}

	cfg := &qc.Config{
		Host:   host,
		APIKey: c.APIKey,
		UseTLS: u.Scheme == "https",
	}
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("parsing qdrant port: %w", err)
		}
		cfg.Port = port
	}
	return cfg, nil
}

// PointID maps a document id onto the UUID Qdrant requires. The mapping
// is stable so re-adding a document overwrites its point.
func PointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("scout:company:"+docID)).String()
}

// Payload builds the point payload for a document.
func Payload(doc vector.Document) (map[string]*qc.Value, error) {
	raw := make(map[string]any, len(doc.Metadata)+3)
	for k, v := range doc.Metadata {
		// TryValueMap only understands []any for lists.
		if list, ok := v.([]string); ok {
			items := make([]any, len(list))
			for i, s := range list {
				items[i] = s
			}
			v = items
		}
		raw[k] = v
	}
	raw[idKey] = doc.ID
	raw[titleKey] = doc.Title
	raw[contentKey] = doc.Content
	return qc.TryValueMap(raw)
}

// DocumentFromPayload reverses Payload.
func DocumentFromPayload(payload map[string]*qc.Value) vector.Document {
	doc := vector.Document{Metadata: map[string]any{}}
	for k, v := range payload {
		switch k {
		case idKey:
			doc.ID = v.GetStringValue()
		case titleKey:
			doc.Title = v.GetStringValue()
		case contentKey:
			doc.Content = v.GetStringValue()
		default:
			doc.Metadata[k] = fromValue(v)
		}
	}
	return doc
}

func fromValue(v *qc.Value) any {
	if list := v.GetListValue(); list != nil {
		out := make([]any, 0, len(list.GetValues()))
		for _, item := range list.GetValues() {
			out = append(out, fromValue(item))
		}
		return out
	}
	switch v.GetKind().(type) {
	case *qc.Value_StringValue:
		return v.GetStringValue()
	case *qc.Value_IntegerValue:
		return v.GetIntegerValue()
	case *qc.Value_DoubleValue:
		return v.GetDoubleValue()
	case *qc.Value_BoolValue:
		return v.GetBoolValue()
	default:
		return nil
	}
}

// Add upserts documents as points.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qc.PointStruct, 0, len(docs))
	for _, doc := range docs {
		payload, err := Payload(doc)
		if err != nil {
			return fmt.Errorf("building payload for doc %s: %w", doc.ID, err)
		}
		points = append(points, &qc.PointStruct{
			Id:      qc.NewID(PointID(doc.ID)),
			Vectors: qc.NewVectorsDense(doc.Embedding),
			Payload: payload,
		})
	}

	if _, err := d.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: d.collection,
		Wait:           qc.PtrOf(true),
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	d.logger.Debug("upserted documents to qdrant", "count", len(docs))
	return nil
}

// Query finds the topK most similar documents. Scores are Qdrant's cosine
// similarity.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	points, err := d.client.Query(ctx, &qc.QueryPoints{
		CollectionName: d.collection,
		Query:          qc.NewQueryDense(embedding),
		Limit:          qc.PtrOf(uint64(topK)),
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		results = append(results, vector.QueryResult{
			Document: DocumentFromPayload(p.GetPayload()),
			Score:    p.GetScore(),
		})
	}

	d.logger.Debug("queried qdrant", "results", len(results))
	return results, nil
}

func pointIDs(ids []string) []*qc.PointId {
	out := make([]*qc.PointId, len(ids))
	for i, id := range ids {
		out[i] = qc.NewID(PointID(id))
	}
	return out
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	points, err := d.client.Get(ctx, &qc.GetPoints{
		CollectionName: d.collection,
		Ids:            pointIDs(ids),
		WithPayload:    qc.NewWithPayload(true),
		WithVectors:    qc.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting points: %w", err)
	}

	docs := make([]vector.Document, 0, len(points))
	for _, p := range points {
		doc := DocumentFromPayload(p.GetPayload())
		if dense := p.GetVectors().GetVector().GetDenseVector(); dense != nil {
			doc.Embedding = dense.GetData()
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := d.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: d.collection,
		Wait:           qc.PtrOf(true),
		Points:         qc.NewPointsSelectorIDs(pointIDs(ids)),
	}); err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	d.logger.Debug("deleted documents from qdrant", "count", len(ids))
	return nil
}

// Close closes the gRPC connections.
func (d *Driver) Close() error {
	return d.client.Close()
}
