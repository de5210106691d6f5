// Package searchcmder provides the search command, a one-shot company
// search against a running scout server.
package searchcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/papercomputeco/scout/pkg/cliui"
	"github.com/papercomputeco/scout/pkg/config"
	"github.com/papercomputeco/scout/pkg/search"
)

const (
	summaryWidth = 60
	tableWidth   = 120
)

type searchCommander struct {
	target  string
	filters map[string]*[]string
	limit   int
	json    bool

	out        io.Writer
	httpClient *http.Client
}

const searchLongDesc string = `Search companies on a running scout server.

The query is free text; facets narrow the result and may be repeated or
comma separated. Results are shown as a table, or as raw JSON with --json.

Examples:
  scout search warehouse robots
  scout search --industry AI --region EU,UK
  scout search "payments platform" --tech Go --tech Kafka --limit 5
  scout search --size 51-200 --json`

const searchShortDesc string = "Search companies"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{filters: map[string]*[]string{}}

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Registry, []string{config.FlagTarget})
			cmder.target = v.GetString("client.target")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.out = cmd.OutOrStdout()
			cmder.httpClient = &http.Client{}
			return cmder.run(cmd.Context(), strings.Join(args, " "))
		},
	}

	config.AddStringFlag(cmd, config.Registry, config.FlagTarget, &cmder.target)
	for _, facet := range search.Facets {
		values := &[]string{}
		cmder.filters[facet] = values
		cmd.Flags().StringSliceVar(values, facet, nil, "Filter by "+facet)
	}
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", search.DefaultLimit, "Maximum number of companies")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Print the raw JSON result")

	return cmd
}

func (c *searchCommander) run(ctx context.Context, query string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cards, raw, err := c.fetch(ctx, query)
	if err != nil {
		return err
	}

	if c.json {
		_, err := fmt.Fprintln(c.out, string(raw))
		return err
	}

	if len(cards) == 0 {
		fmt.Fprintf(c.out, "\n  %s\n\n", cliui.DimStyle.Render("No companies found."))
		return nil
	}

	rendered, err := cliui.RenderMarkdownWidth(cardsTable(cards), tableWidth)
	if err != nil {
		return fmt.Errorf("rendering results: %w", err)
	}
	_, err = fmt.Fprint(c.out, rendered)
	return err
}

func (c *searchCommander) fetch(ctx context.Context, query string) ([]search.Card, []byte, error) {
	params := url.Values{}
	if query = strings.TrimSpace(query); query != "" {
		params.Set("q", query)
	}
	for _, facet := range search.Facets {
		for _, v := range *c.filters[facet] {
			params.Add(facet, v)
		}
	}
	if c.limit > 0 {
		params.Set("limit", strconv.Itoa(c.limit))
	}

	endpoint := strings.TrimRight(c.target, "/") + "/api/companies/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("contacting scout at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if msg := gjson.GetBytes(raw, "error").String(); msg != "" {
			return nil, nil, fmt.Errorf("scout returned %d: %s", resp.StatusCode, msg)
		}
		return nil, nil, fmt.Errorf("scout returned %d", resp.StatusCode)
	}

	var cards []search.Card
	if err := json.Unmarshal(raw, &cards); err != nil {
		return nil, nil, fmt.Errorf("decoding companies: %w", err)
	}
	return cards, raw, nil
}

// cardsTable renders cards as a markdown table with summaries shortened to
// summaryWidth cells.
func cardsTable(cards []search.Card) string {
	var b strings.Builder
	b.WriteString("| # | Company | Score | Industry | Region | Summary |\n")
	b.WriteString("|---|---------|-------|----------|--------|---------|\n")
	for i, card := range cards {
		fmt.Fprintf(&b, "| %d | %s | %.2f | %s | %s | %s |\n",
			i+1,
			cell(card.Name),
			card.Score,
			cell(strings.Join(card.Industry, ", ")),
			cell(strings.Join(card.Region, ", ")),
			cell(ansi.Truncate(card.Summary, summaryWidth, "…")),
		)
	}
	return b.String()
}

func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
