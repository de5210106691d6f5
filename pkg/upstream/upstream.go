// Package upstream defines the normalized event sequence produced by a
// streaming chat backend and the Streamer contract the relay consumes.
package upstream

import (
	"context"
	"iter"
)

// Kind discriminates the variants of Event.
type Kind int

const (
	// KindToken carries a fragment of answer text in Event.Text.
	KindToken Kind = iota

	// KindConversationAssigned carries the upstream conversation id in
	// Event.ConversationID. The last one received in a stream wins.
	KindConversationAssigned

	// KindToolCall carries a recognized tool invocation in Event.ToolCall.
	KindToolCall

	// KindTerminal marks the end of the answer.
	KindTerminal

	// KindError carries a transport or upstream failure in Event.Err.
	// It is always the last event of a sequence.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindConversationAssigned:
		return "conversation"
	case KindToolCall:
		return "tool_call"
	case KindTerminal:
		return "terminal"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolCall is a structured request from the model for an out-of-band action.
type ToolCall struct {
	Name      string
	CallID    string
	MessageID string
	Arguments map[string]any
}

// Event is one normalized upstream event. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind           Kind
	Text           string
	ConversationID string
	ToolCall       *ToolCall
	Err            error
}

// Request is a single streaming chat request.
type Request struct {
	Message        string
	SessionID      string
	ConversationID string
	Filters        map[string][]string
}

// Streamer opens streaming chat requests.
type Streamer interface {
	// Open issues one streaming request. The returned sequence is finite and
	// may be ranged over once; failures surface as a single KindError event.
	// Breaking out of the range cancels the request.
	Open(ctx context.Context, req Request) iter.Seq[Event]
}

// ToolOutputSubmitter returns the result of a tool call to the upstream.
type ToolOutputSubmitter interface {
	SubmitToolOutputs(ctx context.Context, messageID, toolCallID string, outputs any) error
}

// ToolPickCompanies is the only tool the relay acts on.
const ToolPickCompanies = "pick_companies"
