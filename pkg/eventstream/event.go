package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeRelayCompleted is emitted once per finished relay invocation.
	EventTypeRelayCompleted = "scout.relay.completed"
)

// Outcome is how a relay invocation ended.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// CompaniesSource names the signal that triggered the company search.
type CompaniesSource string

const (
	SourceToolCall CompaniesSource = "tool_call"
	SourceFilters  CompaniesSource = "filters"
)

// RelayCompletedEvent is a transport-neutral summary of one relay invocation.
type RelayCompletedEvent struct {
	SchemaVersion  int              `json:"schema_version"`
	EventType      string           `json:"event_type"`
	EventID        string           `json:"event_id"`
	EmittedAt      time.Time        `json:"emitted_at"`
	SessionID      string           `json:"session_id"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Outcome        Outcome          `json:"outcome"`
	TokenCount     int              `json:"token_count"`
	Companies      *CompaniesResult `json:"companies,omitempty"`
	Error          string           `json:"error,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    time.Time        `json:"completed_at"`
	DurationMs     int64            `json:"duration_ms"`
}

// CompaniesResult describes the company search run during the invocation.
type CompaniesResult struct {
	Count  int             `json:"count"`
	Source CompaniesSource `json:"source"`
}

// NewRelayCompletedEvent stamps the envelope fields and derives the duration.
func NewRelayCompletedEvent(sessionID string, startedAt, completedAt time.Time) *RelayCompletedEvent {
	return &RelayCompletedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeRelayCompleted,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		SessionID:     sessionID,
		StartedAt:     startedAt.UTC(),
		CompletedAt:   completedAt.UTC(),
		DurationMs:    completedAt.Sub(startedAt).Milliseconds(),
	}
}
