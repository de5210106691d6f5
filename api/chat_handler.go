package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"

	"github.com/papercomputeco/scout/pkg/search"
	"github.com/papercomputeco/scout/pkg/sse"
	"github.com/papercomputeco/scout/relay"
)

// MaxMessageLength bounds a chat message, in characters.
const MaxMessageLength = 8000

var validate = validator.New(validator.WithRequiredStructEnabled())

// ChatStreamRequest is the body of POST /api/chat/stream.
type ChatStreamRequest struct {
	Message        string          `json:"message" validate:"required,max=8000"`
	SessionID      string          `json:"sessionId" validate:"max=256"`
	ConversationID string          `json:"conversationId,omitempty" validate:"max=256"`
	Filters        json.RawMessage `json:"filters,omitempty"`
}

// handleChatStreamQuery handles GET /api/chat/stream.
// Query parameters:
//   - message (required)
//   - sessionId (optional)
//   - filters (optional): URL-encoded JSON object of facet values
func (s *Server) handleChatStreamQuery(c *fiber.Ctx) error {
	req := ChatStreamRequest{
		Message:        c.Query("message"),
		SessionID:      c.Query("sessionId"),
		ConversationID: c.Query("conversationId"),
		Filters:        json.RawMessage(c.Query("filters")),
	}
	return s.streamChat(c, req)
}

// handleChatStreamBody handles POST /api/chat/stream with a JSON body.
func (s *Server) handleChatStreamBody(c *fiber.Ctx) error {
	var req ChatStreamRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "request body must be a JSON object",
		})
	}
	return s.streamChat(c, req)
}

func (s *Server) streamChat(c *fiber.Ctx, req ChatStreamRequest) error {
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = strings.TrimSpace(req.SessionID)

	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: validationMessage(err),
		})
	}

	relayReq := relay.Request{
		Message:        req.Message,
		SessionID:      req.SessionID,
		ConversationID: strings.TrimSpace(req.ConversationID),
		Filters:        ParseFilters(string(req.Filters)),
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	// The relay outlives the handler: fasthttp recycles the request context
	// once the handler returns, so the stream runs on a background context
	// cancelled when the client stops reading.
	ctx, cancel := context.WithCancel(context.Background())

	// io.Pipe gives per-event flushing: pw.Write blocks until fasthttp has
	// written the chunk to the socket.
	pr, pw := io.Pipe()
	go s.pipeRelay(ctx, cancel, relayReq, pw)

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

// pipeRelay frames relay events onto pw until the relay ends or the client
// goes away.
func (s *Server) pipeRelay(ctx context.Context, cancel context.CancelFunc, req relay.Request, pw *io.PipeWriter) {
	w := sse.NewWriter(pw)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if s.config.KeepAlive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.keepAlive(w, s.config.KeepAlive, stop, cancel)
		}()
	}
	defer func() {
		close(stop)
		// Closing the pipe unblocks a keep-alive stuck on a gone client.
		_ = pw.Close()
		wg.Wait()
		cancel()
	}()

	for ev := range s.deps.Relay.Stream(ctx, req) {
		if err := w.WriteEvent(sse.Event{Type: string(ev.Type), Data: ev.Data}); err != nil {
			s.deps.Logger.Debug("client disconnected from chat stream",
				"session_id", req.SessionID,
				"error", err,
			)
			return
		}
	}
}

// keepAlive writes a comment every interval until stop closes. A failed
// write means the client is gone, so the relay is cancelled.
func (s *Server) keepAlive(w *sse.Writer, interval time.Duration, stop <-chan struct{}, cancel context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := w.Comment("keep-alive"); err != nil {
				cancel()
				return
			}
		}
	}
}

// ParseFilters decodes a JSON object of facet values. Each facet may be a
// list or a scalar. Anything malformed yields no filters.
func ParseFilters(raw string) search.Filters {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return nil
	}

	obj := gjson.Parse(raw)
	if !obj.IsObject() {
		return nil
	}

	filters := search.Filters{}
	for _, facet := range search.Facets {
		if values := search.ToList(obj.Get(facet).Value()); len(values) > 0 {
			filters[facet] = values
		}
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fe := verrs[0]
	switch {
	case fe.Field() == "Message" && fe.Tag() == "required":
		return "message must not be blank"
	case fe.Field() == "Message" && fe.Tag() == "max":
		return fmt.Sprintf("message must be at most %d characters", MaxMessageLength)
	default:
		return "invalid " + fe.Field()
	}
}
