// Package mcp provides an MCP (Model Context Protocol) server exposing the
// company search as a tool.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/scout/pkg/search"
	"github.com/papercomputeco/scout/pkg/utils"
)

// CompanySearcher runs one company search, degrading failures to an empty list.
type CompanySearcher interface {
	Search(ctx context.Context, filters search.Filters, query string, limit int) []search.Card
}

type Config struct {
	// Search backs the pick_companies tool.
	Search CompanySearcher

	// Noop for empty MCP server
	Noop bool

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the pick_companies tool.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "scout",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Search == nil {
			return nil, errors.New("company search is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        pickCompaniesToolName,
			Description: pickCompaniesDescription,
		}, s.handlePickCompanies)
	}

	s.mcpServer = mcpServer

	// Stateless streamable HTTP handler; every request gets the same server.
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying server, for in-process transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}
