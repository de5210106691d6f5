// Package matching triggers the enterprise-matching workflow. The workflow is
// optional: when it is not configured, is rate limited away, or fails, callers
// get a canned placeholder response instead of an error.
package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// MaxRequirementsLength bounds the free-text requirements, in characters.
	MaxRequirementsLength = 2000

	maxResponseBody = 4 << 20
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request describes what the caller is looking for.
type Request struct {
	Requirements     string   `json:"requirements" validate:"required,max=2000"`
	Regions          []string `json:"regions" validate:"omitempty,dive,max=200"`
	CompanyTypes     []string `json:"companyTypes" validate:"omitempty,dive,max=200"`
	Budgets          []string `json:"budgets" validate:"omitempty,dive,max=200"`
	CoreTechnologies []string `json:"coreTechnologies" validate:"omitempty,dive,max=200"`
	Products         []string `json:"products" validate:"omitempty,dive,max=200"`
}

// Validate trims the requirements and checks the request.
func (r *Request) Validate() error {
	r.Requirements = strings.TrimSpace(r.Requirements)

	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	switch {
	case fe.Field() == "Requirements" && fe.Tag() == "required":
		return errors.New("requirements must not be blank")
	case fe.Field() == "Requirements" && fe.Tag() == "max":
		return fmt.Errorf("requirements must be at most %d characters", MaxRequirementsLength)
	default:
		return fmt.Errorf("invalid field %s: %s", fe.Namespace(), fe.Tag())
	}
}

// Suggestion is one recommended enterprise.
type Suggestion struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Score       string `json:"score"`
	Contact     string `json:"contact"`
}

// Response is the workflow result.
type Response struct {
	Summary     string       `json:"summary"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Matcher is the interface the HTTP layer depends on.
type Matcher interface {
	Match(ctx context.Context, req Request) Response
}

// Config holds the workflow endpoint and pacing.
type Config struct {
	BaseURL    string
	APIKey     string
	WorkflowID string

	// RatePerSecond paces outgoing workflow calls. Zero disables pacing.
	RatePerSecond float64

	// HTTPClient overrides the default client (60s timeout).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client triggers the matching workflow.
type Client struct {
	endpoint   string
	apiKey     string
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Matcher = (*Client)(nil)

// NewClient creates a workflow client. A client without base URL, API key or
// workflow id is valid and always answers with the placeholder.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL != "" && cfg.APIKey != "" && cfg.WorkflowID != "" {
		c.endpoint = baseURL + "/v1/workflows/" + url.PathEscape(cfg.WorkflowID) + "/trigger"
	}

	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return c
}

// Configured reports whether calls reach the workflow.
func (c *Client) Configured() bool {
	return c.endpoint != ""
}

type triggerRequest struct {
	Inputs       Request `json:"inputs"`
	ResponseMode string  `json:"response_mode"`
}

// Match runs the workflow. It never fails: every problem degrades to
// Placeholder().
func (c *Client) Match(ctx context.Context, req Request) Response {
	if !c.Configured() {
		c.logger.Warn("matching workflow not configured, returning placeholder")
		return Placeholder()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn("matching workflow rate limit wait aborted", "error", err)
			return Placeholder()
		}
	}

	resp, err := c.trigger(ctx, req)
	if err != nil {
		c.logger.Error("matching workflow failed, returning placeholder", "error", err)
		return Placeholder()
	}
	return resp
}

func (c *Client) trigger(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(triggerRequest{Inputs: withEmptyLists(req), ResponseMode: "blocking"})
	if err != nil {
		return Response{}, fmt.Errorf("marshaling workflow request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating workflow request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("sending workflow request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return Response{}, fmt.Errorf("reading workflow response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("workflow returned status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return ParseResponse(raw), nil
}

// ParseResponse reads data.outputs.summary and data.outputs.suggestions from a
// workflow response. Responses without structured outputs are wrapped whole
// into a single suggestion.
func ParseResponse(raw []byte) Response {
	outputs := gjson.GetBytes(raw, "data.outputs")
	if outputs.IsObject() {
		suggestions := outputs.Get("suggestions")
		if suggestions.IsArray() {
			resp := Response{
				Summary:     outputs.Get("summary").String(),
				Suggestions: []Suggestion{},
			}
			for _, s := range suggestions.Array() {
				resp.Suggestions = append(resp.Suggestions, Suggestion{
					Name:        s.Get("name").String(),
					Description: s.Get("description").String(),
					Score:       s.Get("score").String(),
					Contact:     s.Get("contact").String(),
				})
			}
			return resp
		}
	}

	description := strings.TrimSpace(string(raw))
	if description == "" {
		description = "workflow returned no content"
	}
	return Response{
		Summary: "Workflow response (unparsed)",
		Suggestions: []Suggestion{{
			Name:        "Unparsed workflow result",
			Description: description,
			Score:       "N/A",
			Contact:     "N/A",
		}},
	}
}

// withEmptyLists sends [] rather than null for missing lists.
func withEmptyLists(r Request) Request {
	for _, l := range []*[]string{&r.Regions, &r.CompanyTypes, &r.Budgets, &r.CoreTechnologies, &r.Products} {
		if *l == nil {
			*l = []string{}
		}
	}
	return r
}

// Placeholder is the canned response used whenever the workflow cannot answer.
func Placeholder() Response {
	return Response{
		Summary: "Workflow not yet integrated, showing sample matches",
		Suggestions: []Suggestion{
			{
				Name:        "Example Technology Co., Ltd.",
				Description: "Focused on industrial internet solutions, with services tailored to your needs.",
				Score:       "0.82",
				Contact:     "contact@example.com",
			},
			{
				Name:        "Future Smart Manufacturing",
				Description: "Full-chain smart manufacturing services, from solution consulting to system deployment.",
				Score:       "0.76",
				Contact:     "service@example.com",
			},
		},
	}
}
