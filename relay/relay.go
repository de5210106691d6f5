// Package relay drives one streaming chat invocation end to end. It resolves
// the caller's session, forwards upstream tokens as they arrive, runs at most
// one company search when the model asks for one, and always finishes with a
// single done or error event.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/scout/pkg/eventstream"
	"github.com/papercomputeco/scout/pkg/metrics"
	"github.com/papercomputeco/scout/pkg/search"
	"github.com/papercomputeco/scout/pkg/session"
	"github.com/papercomputeco/scout/pkg/upstream"
	"github.com/papercomputeco/scout/relay/worker"
)

// Sessions resolves and updates session bindings.
type Sessions interface {
	Resolve(ctx context.Context, sessionID string) session.Binding
	Assign(ctx context.Context, sessionID, conversationID string)
}

// CompanyLookup runs one company search. Errors are accounted for and then
// treated as an empty result.
type CompanyLookup interface {
	Lookup(ctx context.Context, filters search.Filters, query string, limit int) ([]search.Card, error)
}

// Enqueuer accepts fire-and-forget jobs.
type Enqueuer interface {
	Enqueue(job worker.Job) bool
}

// Request is one caller stream request.
type Request struct {
	Message   string
	SessionID string

	// ConversationID, when set, overrides the session's stored conversation.
	ConversationID string

	Filters search.Filters
}

// Config wires a Relay. Sessions, Streamer and Search are required.
type Config struct {
	Sessions Sessions
	Streamer upstream.Streamer
	Search   CompanyLookup

	// Submitter receives tool outputs after a tool-call search.
	Submitter upstream.ToolOutputSubmitter

	// Publisher receives one event per finished invocation.
	Publisher eventstream.Publisher

	// Pool runs tool output submission and publishing. Without a pool both
	// are skipped.
	Pool Enqueuer

	Metrics *metrics.Relay
	Logger  *slog.Logger
}

// Relay is safe for concurrent use; invocations share nothing but the
// session store.
type Relay struct {
	sessions  Sessions
	streamer  upstream.Streamer
	search    CompanyLookup
	submitter upstream.ToolOutputSubmitter
	publisher eventstream.Publisher
	pool      Enqueuer
	metrics   *metrics.Relay
	logger    *slog.Logger

	active atomic.Int64
}

// New creates a Relay.
func New(c Config) (*Relay, error) {
	if c.Sessions == nil {
		return nil, fmt.Errorf("relay requires a session store")
	}
	if c.Streamer == nil {
		return nil, fmt.Errorf("relay requires an upstream streamer")
	}
	if c.Search == nil {
		return nil, fmt.Errorf("relay requires a company search")
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Relay{
		sessions:  c.Sessions,
		streamer:  c.Streamer,
		search:    c.Search,
		submitter: c.Submitter,
		publisher: c.Publisher,
		pool:      c.Pool,
		metrics:   c.Metrics,
		logger:    logger,
	}, nil
}

// Active returns the number of invocations whose state is still held.
func (r *Relay) Active() int64 {
	return r.active.Load()
}

// invocation is the state owned by one range over Stream.
type invocation struct {
	req            Request
	sessionID      string
	conversationID string
	startedAt      time.Time

	buffer    strings.Builder
	searched  bool
	tokens    int
	companies *eventstream.CompaniesResult
	outcome   eventstream.Outcome
	errMsg    string
}

// Stream returns the outbound events for one invocation. The first event is
// always session and, unless the consumer stops early, the last is done or
// error. Stopping the range cancels the upstream request; cleanup runs on
// every path.
func (r *Relay) Stream(ctx context.Context, req Request) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		inv := r.open(ctx, req)
		defer r.release(inv)

		if !yield(Event{Type: EventSession, Data: inv.sessionID}) {
			inv.outcome = eventstream.OutcomeCancelled
			return
		}

		r.run(ctx, inv, yield)
	}
}

func (r *Relay) open(ctx context.Context, req Request) *invocation {
	r.active.Add(1)
	r.metrics.Started()

	binding := r.sessions.Resolve(ctx, req.SessionID)
	inv := &invocation{
		req:            req,
		sessionID:      binding.SessionID,
		conversationID: binding.UpstreamConversationID(),
		startedAt:      time.Now(),
	}

	if explicit := strings.TrimSpace(req.ConversationID); explicit != "" {
		inv.conversationID = explicit
		r.sessions.Assign(ctx, inv.sessionID, explicit)
	}

	r.logger.Debug("relay opened",
		"session_id", inv.sessionID,
		"conversation_id", inv.conversationID,
		"provisional", binding.Provisional,
	)
	return inv
}

func (r *Relay) run(ctx context.Context, inv *invocation, yield func(Event) bool) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := r.streamer.Open(streamCtx, upstream.Request{
		Message:        inv.req.Message,
		SessionID:      inv.sessionID,
		ConversationID: inv.conversationID,
		Filters:        inv.req.Filters,
	})

	for ev := range events {
		switch ev.Kind {
		case upstream.KindToken:
			inv.buffer.WriteString(ev.Text)
			if inv.tokens == 0 {
				r.metrics.FirstToken(time.Since(inv.startedAt))
			}
			inv.tokens++
			r.metrics.Token()
			if !yield(Event{Type: EventToken, Data: ev.Text}) {
				inv.outcome = eventstream.OutcomeCancelled
				return
			}

		case upstream.KindConversationAssigned:
			if id := strings.TrimSpace(ev.ConversationID); id != "" {
				inv.conversationID = id
				r.sessions.Assign(ctx, inv.sessionID, id)
			}

		case upstream.KindToolCall:
			if inv.searched || ev.ToolCall == nil || ev.ToolCall.Name != upstream.ToolPickCompanies {
				continue
			}
			if !r.toolCallSearch(streamCtx, inv, ev.ToolCall, yield) {
				return
			}

		case upstream.KindTerminal:
			r.finish(streamCtx, inv, yield)
			return

		case upstream.KindError:
			if ctx.Err() != nil {
				inv.outcome = eventstream.OutcomeCancelled
				return
			}
			r.fail(inv, errorMessage(ev.Err), yield)
			return
		}
	}

	if ctx.Err() != nil {
		inv.outcome = eventstream.OutcomeCancelled
		return
	}

	// Exhaustion without an explicit terminal is a normal end.
	r.finish(streamCtx, inv, yield)
}

// toolCallSearch runs the tool-call search and emits its companies event,
// even when empty. It returns false when the invocation has ended.
func (r *Relay) toolCallSearch(ctx context.Context, inv *invocation, call *upstream.ToolCall, yield func(Event) bool) bool {
	params := buildSearch(call.Arguments, inv.req.Filters, inv.req.Message)
	cards := r.runSearch(ctx, inv, params, eventstream.SourceToolCall)
	inv.searched = true

	payload, err := json.Marshal(cards)
	if err != nil {
		r.fail(inv, "failed to serialize companies", yield)
		return false
	}

	r.submitToolOutputs(inv, call, cards)

	if !yield(Event{Type: EventCompanies, Data: string(payload)}) {
		inv.outcome = eventstream.OutcomeCancelled
		return false
	}
	return true
}

// finish runs the inline filter fallback and emits done.
func (r *Relay) finish(ctx context.Context, inv *invocation, yield func(Event) bool) {
	if !inv.searched {
		if args, ok := extractFilterBlock(inv.buffer.String()); ok {
			params := buildSearch(args, inv.req.Filters, inv.req.Message)
			cards := r.runSearch(ctx, inv, params, eventstream.SourceFilters)
			inv.searched = true

			if len(cards) > 0 {
				payload, err := json.Marshal(cards)
				if err != nil {
					r.fail(inv, "failed to serialize companies", yield)
					return
				}
				if !yield(Event{Type: EventCompanies, Data: string(payload)}) {
					inv.outcome = eventstream.OutcomeCancelled
					return
				}
			}
		}
	}

	inv.outcome = eventstream.OutcomeDone
	yield(Event{Type: EventDone, Data: doneData})
}

func (r *Relay) fail(inv *invocation, msg string, yield func(Event) bool) {
	inv.outcome = eventstream.OutcomeError
	inv.errMsg = msg
	r.logger.Warn("relay failed", "session_id", inv.sessionID, "error", msg)
	yield(Event{Type: EventError, Data: msg})
}

func (r *Relay) runSearch(ctx context.Context, inv *invocation, p searchParams, source eventstream.CompaniesSource) []search.Card {
	cards, err := r.search.Lookup(ctx, p.filters, p.query, p.limit)

	result := metrics.ResultHit
	switch {
	case err != nil:
		result = metrics.ResultError
		r.logger.Warn("company search failed, continuing without companies",
			"session_id", inv.sessionID,
			"source", string(source),
			"error", err,
		)
		cards = []search.Card{}
	case len(cards) == 0:
		result = metrics.ResultEmpty
	}
	r.metrics.Search(string(source), result)

	if cards == nil {
		cards = []search.Card{}
	}
	inv.companies = &eventstream.CompaniesResult{Count: len(cards), Source: source}
	return cards
}

func (r *Relay) submitToolOutputs(inv *invocation, call *upstream.ToolCall, cards []search.Card) {
	if r.submitter == nil || r.pool == nil || call.MessageID == "" || call.CallID == "" {
		return
	}

	outputs := map[string]any{"companies": cards}
	r.pool.Enqueue(worker.Job{
		Name:      "tool_outputs",
		SessionID: inv.sessionID,
		Run: func(ctx context.Context) error {
			return r.submitter.SubmitToolOutputs(ctx, call.MessageID, call.CallID, outputs)
		},
	})
}

// release drops the invocation's buffer and flag, records metrics and hands
// the completion event to the pool.
func (r *Relay) release(inv *invocation) {
	if inv.outcome == "" {
		inv.outcome = eventstream.OutcomeCancelled
	}

	completedAt := time.Now()
	event := eventstream.NewRelayCompletedEvent(inv.sessionID, inv.startedAt, completedAt)
	event.ConversationID = inv.conversationID
	event.Outcome = inv.outcome
	event.TokenCount = inv.tokens
	event.Companies = inv.companies
	event.Error = inv.errMsg

	inv.buffer.Reset()
	inv.searched = false

	r.metrics.Finished(string(inv.outcome))
	r.active.Add(-1)

	r.logger.Debug("relay closed",
		"session_id", inv.sessionID,
		"outcome", string(inv.outcome),
		"tokens", inv.tokens,
		"duration_ms", event.DurationMs,
	)

	if r.publisher == nil || r.pool == nil {
		return
	}
	r.pool.Enqueue(worker.Job{
		Name:      "publish_relay",
		SessionID: inv.sessionID,
		Run: func(ctx context.Context) error {
			return r.publisher.PublishRelay(ctx, event)
		},
	})
}

func errorMessage(err error) string {
	if err == nil {
		return "upstream error"
	}
	return err.Error()
}
