package api

import (
	"errors"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the scout HTTP server.
type Server struct {
	config Config
	deps   Deps
	app    *fiber.App
}

// NewServer creates a new API server and mounts its routes.
func NewServer(config Config, deps Deps) (*Server, error) {
	if deps.Relay == nil {
		return nil, errors.New("relay is required")
	}
	if deps.Search == nil {
		return nil, errors.New("company search is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}

	if config.KeepAlive == 0 {
		config.KeepAlive = DefaultKeepAlive
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		deps:   deps,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/api/chat/stream", s.handleChatStreamQuery)
	app.Post("/api/chat/stream", s.handleChatStreamBody)
	app.Get("/api/companies/search", s.handleCompanySearch)

	if deps.Matcher != nil {
		app.Post("/api/matching", s.handleMatching)
	}
	if deps.MCP != nil {
		app.All("/mcp", adaptor.HTTPHandler(deps.MCP))
	}
	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	return s, nil
}

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.deps.Logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}
