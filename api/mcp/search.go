package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/scout/pkg/search"
	"github.com/papercomputeco/scout/pkg/upstream"
)

var (
	pickCompaniesToolName    = upstream.ToolPickCompanies
	pickCompaniesDescription = "Search the company directory. Facets are ANDed together; values within a facet are alternatives. Returns company cards with a match reason."
)

// PickCompaniesInput represents the input arguments for the pick_companies tool.
type PickCompaniesInput struct {
	Q        string   `json:"q,omitempty" jsonschema:"free-text description of the companies wanted"`
	Industry []string `json:"industry,omitempty" jsonschema:"industries to match"`
	Size     []string `json:"size,omitempty" jsonschema:"company size labels to match"`
	Region   []string `json:"region,omitempty" jsonschema:"regions to match"`
	Tech     []string `json:"tech,omitempty" jsonschema:"technology keywords to match"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of companies (default 20, max 100)"`
}

// PickCompaniesOutput represents the output of the pick_companies tool.
type PickCompaniesOutput struct {
	Companies []search.Card `json:"companies"`
	Count     int           `json:"count"`
}

func (in PickCompaniesInput) filters() search.Filters {
	f := search.Filters{}
	for facet, values := range map[string][]string{
		search.FacetIndustry: in.Industry,
		search.FacetSize:     in.Size,
		search.FacetRegion:   in.Region,
		search.FacetTech:     in.Tech,
	} {
		if len(values) > 0 {
			f[facet] = values
		}
	}
	return f
}

func (s *Server) handlePickCompanies(ctx context.Context, _ *mcp.CallToolRequest, input PickCompaniesInput) (*mcp.CallToolResult, PickCompaniesOutput, error) {
	logger := s.config.Logger
	filters := input.filters()

	logger.Debug("MCP pick_companies request",
		"q", input.Q,
		"filters", filters,
		"limit", input.Limit,
	)

	cards := s.config.Search.Search(ctx, filters, input.Q, input.Limit)
	output := PickCompaniesOutput{
		Companies: cards,
		Count:     len(cards),
	}

	// Structured content is mirrored as JSON text for clients that only
	// read text content.
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal pick_companies output", "error", err)
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to serialize results: %v", err)},
			},
		}, PickCompaniesOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
