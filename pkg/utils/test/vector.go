package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/scout/pkg/vector"
)

// MockVectorDriver is a test vector driver. Query returns Results, capped
// at topK; Add records documents for inspection.
type MockVectorDriver struct {
	Results []vector.QueryResult

	// QueryErr is returned by Query when set.
	QueryErr error

	mu        sync.Mutex
	documents []vector.Document
	lastTopK  int
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, docs...)
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, _ []float32, topK int) ([]vector.QueryResult, error) {
	m.mu.Lock()
	m.lastTopK = topK
	m.mu.Unlock()

	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	if len(m.Results) < topK {
		return m.Results, nil
	}
	return m.Results[:topK], nil
}

func (m *MockVectorDriver) Get(_ context.Context, _ []string) ([]vector.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]vector.Document(nil), m.documents...), nil
}

// LastTopK returns the topK of the most recent Query.
func (m *MockVectorDriver) LastTopK() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTopK
}

func (m *MockVectorDriver) Delete(_ context.Context, _ []string) error {
	return nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}
