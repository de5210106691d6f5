package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/scout/pkg/search"
)

// StubSearcher returns fixed documents and records every query it receives.
type StubSearcher struct {
	Documents []search.Document
	Err       error

	mu      sync.Mutex
	queries []SearchCall
}

// SearchCall is one recorded Search invocation.
type SearchCall struct {
	Query string
	TopK  int
}

func (s *StubSearcher) Search(_ context.Context, query string, topK int) ([]search.Document, error) {
	s.mu.Lock()
	s.queries = append(s.queries, SearchCall{Query: query, TopK: topK})
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	return s.Documents, nil
}

// Calls returns the recorded searches.
func (s *StubSearcher) Calls() []SearchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SearchCall(nil), s.queries...)
}
