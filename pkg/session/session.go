// Package session maps caller session ids to upstream conversation ids.
//
// Bindings live in a bounded in-memory cache (capacity plus idle TTL).
// A Backend, when configured, keeps upstream-assigned conversation ids
// across restarts.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCapacity = 10_000
	DefaultTTL      = 24 * time.Hour
)

// Binding is the resolved conversation for one session.
type Binding struct {
	SessionID      string
	ConversationID string

	// Provisional is true while ConversationID was minted locally and the
	// upstream has not yet assigned one. Provisional ids must not be sent
	// upstream.
	Provisional bool
}

// UpstreamConversationID returns the id to forward upstream, or "" while
// the binding is provisional.
func (b Binding) UpstreamConversationID() string {
	if b.Provisional {
		return ""
	}
	return b.ConversationID
}

// Backend persists upstream-assigned bindings.
type Backend interface {
	// Load returns ErrNotFound when the session has no stored binding.
	Load(ctx context.Context, sessionID string) (string, error)
	Save(ctx context.Context, sessionID, conversationID string) error
	Close() error
}

// Config configures a Store. Zero values take the defaults.
type Config struct {
	Capacity int
	TTL      time.Duration
	Backend  Backend
	Logger   *slog.Logger

	// NewID mints session and provisional conversation ids.
	NewID func() string
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	cache   *expirable.LRU[string, Binding]
	backend Backend
	logger  *slog.Logger
	newID   func() string
}

// NewStore builds a Store from c.
func NewStore(c Config) *Store {
	s := &Store{
		backend: c.Backend,
		logger:  c.Logger,
		newID:   c.NewID,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	capacity := c.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.cache = expirable.NewLRU(capacity, func(sessionID string, b Binding) {
		s.logger.Debug("session evicted", "session_id", sessionID, "provisional", b.Provisional)
	}, ttl)
	return s
}

// Resolve returns the binding for sessionID, minting a session id when it
// is blank and a provisional conversation id on first use. It never fails;
// backend errors are logged and treated as a miss.
func (s *Store) Resolve(ctx context.Context, sessionID string) Binding {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = s.newID()
	}

	if b, ok := s.lookup(sessionID); ok {
		return b
	}

	// The backend is read outside the lock; insertIfAbsent settles races.
	candidate := Binding{SessionID: sessionID}
	if conversationID, ok := s.load(ctx, sessionID); ok {
		candidate.ConversationID = conversationID
	} else {
		candidate.ConversationID = s.newID()
		candidate.Provisional = true
	}

	return s.insertIfAbsent(candidate)
}

func (s *Store) lookup(sessionID string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.cache.Get(sessionID)
	if ok {
		// Re-adding resets the entry's expiry, making the TTL an idle timeout.
		s.cache.Add(sessionID, b)
	}
	return b, ok
}

func (s *Store) insertIfAbsent(b Binding) Binding {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cache.Get(b.SessionID); ok {
		return existing
	}
	s.cache.Add(b.SessionID, b)
	return b
}

func (s *Store) load(ctx context.Context, sessionID string) (string, bool) {
	if s.backend == nil {
		return "", false
	}
	conversationID, err := s.backend.Load(ctx, sessionID)
	switch {
	case err == nil && conversationID != "":
		return conversationID, true
	case err != nil && !errors.Is(err, ErrNotFound):
		s.logger.Warn("loading session binding", "session_id", sessionID, "error", err)
	}
	return "", false
}

// Assign records an upstream-assigned conversation id. Last writer wins;
// blank ids are ignored.
func (s *Store) Assign(ctx context.Context, sessionID, conversationID string) {
	sessionID = strings.TrimSpace(sessionID)
	conversationID = strings.TrimSpace(conversationID)
	if sessionID == "" || conversationID == "" {
		return
	}

	s.mu.Lock()
	prev, _ := s.cache.Peek(sessionID)
	s.cache.Add(sessionID, Binding{SessionID: sessionID, ConversationID: conversationID})
	s.mu.Unlock()

	if prev.ConversationID == conversationID && !prev.Provisional {
		return
	}
	if s.backend != nil {
		if err := s.backend.Save(ctx, sessionID, conversationID); err != nil {
			s.logger.Warn("saving session binding", "session_id", sessionID, "error", err)
		}
	}
}

// Len reports the number of cached bindings.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Close closes the backend, if any.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
