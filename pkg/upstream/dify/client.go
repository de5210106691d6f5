// Package dify implements upstream.Streamer against the Dify chat-messages
// streaming API.
package dify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/papercomputeco/scout/pkg/upstream"
)

const (
	// DefaultBaseURL is the hosted Dify API.
	DefaultBaseURL = "https://api.dify.ai"

	// DefaultResponseTimeout bounds the wait for response headers.
	DefaultResponseTimeout = 30 * time.Second

	// DefaultStreamTimeout bounds an entire streamed answer.
	DefaultStreamTimeout = 5 * time.Minute

	chatMessagesPath = "/v1/chat-messages"

	// maxErrorBody caps how much of a non-2xx body is read for the message.
	maxErrorBody = 4096
)

// Config holds configuration for the Dify client.
type Config struct {
	// BaseURL is the Dify API root (e.g. "https://api.dify.ai").
	BaseURL string

	// APIKey is the chat app key sent as a bearer token.
	APIKey string

	// Prompt supplies inputs.system_prompt. Defaults to DefaultSystemPrompt.
	Prompt *Prompt

	ResponseTimeout time.Duration
	StreamTimeout   time.Duration

	// HTTPClient is optional; its Timeout must be zero for streaming.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client talks to the Dify chat app API.
type Client struct {
	baseURL         string
	apiKey          string
	prompt          *Prompt
	responseTimeout time.Duration
	streamTimeout   time.Duration
	httpClient      *http.Client
	logger          *slog.Logger
}

var (
	_ upstream.Streamer            = (*Client)(nil)
	_ upstream.ToolOutputSubmitter = (*Client)(nil)
)

type chatInputs struct {
	SystemPrompt string              `json:"system_prompt"`
	Filters      map[string][]string `json:"filters,omitempty"`
}

type chatRequest struct {
	Query          string     `json:"query"`
	ResponseMode   string     `json:"response_mode"`
	User           string     `json:"user"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Inputs         chatInputs `json:"inputs"`
}

type toolOutputsRequest struct {
	ToolCallID string `json:"tool_call_id"`
	Outputs    any    `json:"outputs"`
}

// NewClient creates a new Dify client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid dify base url: %w", err)
	}

	prompt := cfg.Prompt
	if prompt == nil {
		prompt = &Prompt{text: DefaultSystemPrompt}
	}

	responseTimeout := cfg.ResponseTimeout
	if responseTimeout == 0 {
		responseTimeout = DefaultResponseTimeout
	}
	streamTimeout := cfg.StreamTimeout
	if streamTimeout == 0 {
		streamTimeout = DefaultStreamTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		prompt:          prompt,
		responseTimeout: responseTimeout,
		streamTimeout:   streamTimeout,
		httpClient:      httpClient,
		logger:          logger,
	}, nil
}

// Open issues one streaming chat request. See upstream.Streamer.
func (c *Client) Open(ctx context.Context, req upstream.Request) iter.Seq[upstream.Event] {
	var used atomic.Bool

	return func(yield func(upstream.Event) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(upstream.Event{Kind: upstream.KindError, Err: ErrStreamConsumed})
			return
		}

		streamCtx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)
		streamCtx, stop := context.WithTimeoutCause(streamCtx, c.streamTimeout, ErrTimeout)
		defer stop()

		resp, err := c.open(streamCtx, cancel, req)
		if err != nil {
			yield(upstream.Event{Kind: upstream.KindError, Err: failure(streamCtx, err)})
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		for scanner.Scan() {
			for _, ev := range DecodeLine(scanner.Text()) {
				if !yield(ev) {
					return
				}
				if ev.Kind == upstream.KindError {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			c.logger.Debug("upstream stream read failed", "session_id", req.SessionID, "error", err)
			yield(upstream.Event{Kind: upstream.KindError, Err: failure(streamCtx, err)})
		}
	}
}

// open sends the request and waits for a 2xx response, cancelling with
// ErrTimeout if headers do not arrive within the response timeout.
func (c *Client) open(ctx context.Context, cancel context.CancelCauseFunc, req upstream.Request) (*http.Response, error) {
	user := req.SessionID
	if user == "" {
		user = uuid.NewString()
	}

	body, err := json.Marshal(chatRequest{
		Query:          req.Message,
		ResponseMode:   "streaming",
		User:           user,
		ConversationID: strings.TrimSpace(req.ConversationID),
		Inputs: chatInputs{
			SystemPrompt: c.prompt.Text(),
			Filters:      nonEmptyFilters(req.Filters),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatMessagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	timer := time.AfterFunc(c.responseTimeout, func() { cancel(ErrTimeout) })
	resp, err := c.httpClient.Do(httpReq)
	timer.Stop()
	if err != nil {
		return nil, fmt.Errorf("sending chat request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	return resp, nil
}

// SubmitToolOutputs returns a tool call's result to the upstream conversation.
func (c *Client) SubmitToolOutputs(ctx context.Context, messageID, toolCallID string, outputs any) error {
	if messageID == "" || toolCallID == "" {
		return nil
	}

	body, err := json.Marshal(toolOutputsRequest{ToolCallID: toolCallID, Outputs: outputs})
	if err != nil {
		return fmt.Errorf("marshaling tool outputs: %w", err)
	}

	endpoint := c.baseURL + chatMessagesPath + "/" + url.PathEscape(messageID) + "/tool-outputs"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating tool outputs request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending tool outputs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := gjson.GetBytes(raw, "message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, msg)
}

// failure collapses deadline and cancellation causes into ErrTimeout where
// a timer fired, and leaves other errors untouched.
func failure(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return ErrTimeout
	}
	return err
}

func nonEmptyFilters(filters map[string][]string) map[string][]string {
	out := make(map[string][]string, len(filters))
	for facet, values := range filters {
		if len(values) > 0 {
			out[facet] = values
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
