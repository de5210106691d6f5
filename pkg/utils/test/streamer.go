package testutils

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/papercomputeco/scout/pkg/upstream"
)

// ScriptedStreamer replays Events for every Open call.
type ScriptedStreamer struct {
	Events []upstream.Event

	// HoldAfter, when positive, parks the stream after that many events
	// until the request context is cancelled.
	HoldAfter int

	mu       sync.Mutex
	requests []upstream.Request

	reads   atomic.Int64
	stopped atomic.Bool
}

func (s *ScriptedStreamer) Open(ctx context.Context, req upstream.Request) iter.Seq[upstream.Event] {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	return func(yield func(upstream.Event) bool) {
		for i, ev := range s.Events {
			if s.HoldAfter > 0 && i == s.HoldAfter {
				<-ctx.Done()
				s.stopped.Store(true)
				return
			}
			s.reads.Add(1)
			if !yield(ev) {
				s.stopped.Store(true)
				return
			}
		}
	}
}

// Requests returns every request passed to Open.
func (s *ScriptedStreamer) Requests() []upstream.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]upstream.Request(nil), s.requests...)
}

// Reads is the number of events handed to consumers.
func (s *ScriptedStreamer) Reads() int64 {
	return s.reads.Load()
}

// Stopped reports whether a consumer abandoned the stream early.
func (s *ScriptedStreamer) Stopped() bool {
	return s.stopped.Load()
}

// RecordingSubmitter captures tool output submissions.
type RecordingSubmitter struct {
	Err error

	mu    sync.Mutex
	calls []ToolOutput
}

// ToolOutput is one recorded submission.
type ToolOutput struct {
	MessageID  string
	ToolCallID string
	Outputs    any
}

func (r *RecordingSubmitter) SubmitToolOutputs(_ context.Context, messageID, toolCallID string, outputs any) error {
	r.mu.Lock()
	r.calls = append(r.calls, ToolOutput{MessageID: messageID, ToolCallID: toolCallID, Outputs: outputs})
	r.mu.Unlock()
	return r.Err
}

// Calls returns the recorded submissions.
func (r *RecordingSubmitter) Calls() []ToolOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolOutput(nil), r.calls...)
}
