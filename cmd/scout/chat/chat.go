// Package chatcmder provides the chat command, an interactive client of a
// running scout server's chat event stream.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/papercomputeco/scout/pkg/cliui"
	"github.com/papercomputeco/scout/pkg/config"
	"github.com/papercomputeco/scout/pkg/search"
	"github.com/papercomputeco/scout/pkg/sse"
	"github.com/papercomputeco/scout/relay"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("scout> ")
)

type chatCommander struct {
	target  string
	filters string

	in         io.Reader
	out        io.Writer
	httpClient *http.Client

	sessionID string
}

// turnResult is what one streamed answer produced besides its tokens.
type turnResult struct {
	companies []search.Card
	failure   string
}

type chatRequest struct {
	Message   string          `json:"message"`
	SessionID string          `json:"sessionId,omitempty"`
	Filters   json.RawMessage `json:"filters,omitempty"`
}

const chatLongDesc string = `Start an interactive chat with a running scout server.

Answers stream in as they are generated; matching companies are listed
after each answer. The session is kept between messages so the assistant
remembers the conversation.

Commands:
  /new     start a new session
  /exit    quit (Ctrl+D works too)

Examples:
  scout chat
  scout chat --target http://scout.internal:8080
  scout chat --filters '{"region":["EU"],"industry":["AI"]}'`

const chatShortDesc string = "Interactive company search chat"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Registry, []string{config.FlagTarget})
			cmder.target = v.GetString("client.target")

			if cmder.filters != "" && !gjson.Parse(cmder.filters).IsObject() {
				return errors.New("--filters must be a JSON object")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.httpClient = &http.Client{}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Registry, config.FlagTarget, &cmder.target)
	cmd.Flags().StringVarP(&cmder.filters, "filters", "f", "", `Facet filters as JSON, e.g. {"region":["EU"]}`)

	return cmd
}

func (c *chatCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Fprintf(c.out, "\n  %s %s\n", cliui.KeyStyle.Render("scout"), cliui.DimStyle.Render(c.target))
	if c.filters != "" {
		fmt.Fprintf(c.out, "  %s %s\n", cliui.KeyStyle.Render("filters"), cliui.DimStyle.Render(c.filters))
	}
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /new starts over, /exit or Ctrl+D quits."))

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, userPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit":
			return nil
		case "/new":
			c.sessionID = ""
			fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("New session"))
			continue
		}

		fmt.Fprint(c.out, assistantPrompt)
		res, err := c.turn(ctx, input)
		fmt.Fprintln(c.out)
		if err != nil {
			fmt.Fprintf(c.out, "  %s %s\n\n", cliui.FailMark, err)
			continue
		}
		if res.failure != "" {
			fmt.Fprintf(c.out, "  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(res.failure))
		}
		if len(res.companies) > 0 {
			fmt.Fprintln(c.out)
			fmt.Fprint(c.out, renderCards(termenv.NewOutput(c.out), res.companies))
		}
		fmt.Fprintln(c.out)
	}
}

// turn sends one message and streams the answer tokens to c.out. The
// session id the server reports is kept for the next turn.
func (c *chatCommander) turn(ctx context.Context, message string) (*turnResult, error) {
	body, err := json.Marshal(chatRequest{
		Message:   message,
		SessionID: c.sessionID,
		Filters:   json.RawMessage(c.filters),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimRight(c.target, "/") + "/api/chat/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting scout at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if msg := gjson.GetBytes(raw, "error").String(); msg != "" {
			return nil, fmt.Errorf("scout returned %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("scout returned %d", resp.StatusCode)
	}

	res := &turnResult{}
	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		if ev == nil {
			return res, nil
		}

		switch relay.EventType(ev.Type) {
		case relay.EventSession:
			c.sessionID = ev.Data
		case relay.EventToken:
			fmt.Fprint(c.out, ev.Data)
		case relay.EventCompanies:
			var cards []search.Card
			if err := json.Unmarshal([]byte(ev.Data), &cards); err != nil {
				return nil, fmt.Errorf("decoding companies: %w", err)
			}
			res.companies = cards
		case relay.EventError:
			res.failure = ev.Data
			return res, nil
		case relay.EventDone:
			return res, nil
		}
	}
}

// renderCards lists one company per block: name and score, the reason,
// then the facets.
func renderCards(o *termenv.Output, cards []search.Card) string {
	var b strings.Builder
	for i, card := range cards {
		fmt.Fprintf(&b, "  %d. %s %s\n",
			i+1,
			o.String(card.Name).Bold(),
			o.String(fmt.Sprintf("(%.2f)", card.Score)).Faint(),
		)
		if card.Reason != "" {
			fmt.Fprintf(&b, "     %s\n", o.String(card.Reason).Foreground(o.Color("75")))
		}

		var facets []string
		for _, f := range [][2]string{
			{"industry", strings.Join(card.Industry, ", ")},
			{"size", card.Size},
			{"region", strings.Join(card.Region, ", ")},
			{"tech", strings.Join(card.TechKeywords, ", ")},
		} {
			if f[1] != "" {
				facets = append(facets, f[0]+": "+f[1])
			}
		}
		if len(facets) > 0 {
			fmt.Fprintf(&b, "     %s\n", o.String(strings.Join(facets, "  ")).Faint())
		}
	}
	return b.String()
}
