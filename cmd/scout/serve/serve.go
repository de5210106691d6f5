// Package servecmder provides the serve command, which runs the scout API
// server with every backend wired from configuration.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/papercomputeco/scout/pkg/config"
	"github.com/papercomputeco/scout/pkg/logger"
)

type ServeCommander struct {
	flags   config.Config
	logFile string
	debug   bool

	viper  *viper.Viper
	logger *slog.Logger
}

const serveLongDesc string = `Run the scout server.

Serves the chat event stream, direct company search, enterprise matching,
the MCP endpoint and Prometheus metrics on one listener.

Flags override environment variables (SCOUT_*), which override the
config.toml in the .scout/ directory.

Examples:
  scout serve --upstream-key app-xxx --dataset-id ds-1
  scout serve --search-provider semantic --vector-store-provider qdrant --vector-store-target http://localhost:6334
  scout serve --session-provider sqlite --session-dsn ./sessions.db`

const serveShortDesc string = "Run the scout server"

var serveFlags = []string{
	config.FlagListen,
	config.FlagUpstream,
	config.FlagUpstreamKey,
	config.FlagSystemPrompt,
	config.FlagSearchProvider,
	config.FlagDatasetID,
	config.FlagDatasetKey,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagSessionProvider,
	config.FlagSessionDSN,
	config.FlagEventsProvider,
	config.FlagEventsBrokers,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Registry, serveFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	f := &cmder.flags
	config.AddStringFlag(cmd, config.Registry, config.FlagListen, &f.Server.Listen)
	config.AddStringFlag(cmd, config.Registry, config.FlagUpstream, &f.Upstream.BaseURL)
	config.AddStringFlag(cmd, config.Registry, config.FlagUpstreamKey, &f.Upstream.APIKey)
	config.AddStringFlag(cmd, config.Registry, config.FlagSystemPrompt, &f.Upstream.SystemPromptPath)
	config.AddStringFlag(cmd, config.Registry, config.FlagSearchProvider, &f.Search.Provider)
	config.AddStringFlag(cmd, config.Registry, config.FlagDatasetID, &f.Dataset.DatasetID)
	config.AddStringFlag(cmd, config.Registry, config.FlagDatasetKey, &f.Dataset.APIKey)
	config.AddStringFlag(cmd, config.Registry, config.FlagVectorStoreProv, &f.VectorStore.Provider)
	config.AddStringFlag(cmd, config.Registry, config.FlagVectorStoreTgt, &f.VectorStore.Target)
	config.AddStringFlag(cmd, config.Registry, config.FlagEmbeddingProv, &f.Embedding.Provider)
	config.AddStringFlag(cmd, config.Registry, config.FlagEmbeddingTgt, &f.Embedding.Target)
	config.AddStringFlag(cmd, config.Registry, config.FlagEmbeddingModel, &f.Embedding.Model)
	config.AddUintFlag(cmd, config.Registry, config.FlagEmbeddingDims, &f.Embedding.Dimensions)
	config.AddStringFlag(cmd, config.Registry, config.FlagSessionProvider, &f.Session.Provider)
	config.AddStringFlag(cmd, config.Registry, config.FlagSessionDSN, &f.Session.DSN)
	config.AddStringFlag(cmd, config.Registry, config.FlagEventsProvider, &f.Events.Provider)
	config.AddStringFlag(cmd, config.Registry, config.FlagEventsBrokers, &f.Events.Brokers)
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var closeLog func() error
	var err error
	c.logger, closeLog, err = newLogger(c.debug, c.logFile)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := newStack(ctx, cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(); err != nil {
			c.logger.Error("shutdown", "error", err)
		}
	}()

	go func() {
		if err := s.prompt.Watch(ctx); err != nil {
			c.logger.Warn("system prompt watch stopped", "error", err)
		}
	}()

	c.logger.Info("starting scout",
		"listen", cfg.Server.Listen,
		"upstream", cfg.Upstream.BaseURL,
		"search", cfg.Search.Provider,
		"sessions", cfg.Session.Provider,
		"events", cfg.Events.Provider,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
	}

	if err := s.server.Shutdown(); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// newLogger logs through the pretty handler on a terminal and JSON
// otherwise. A log file always receives JSON, with call sites in debug mode.
func newLogger(debug bool, logFile string) (*slog.Logger, func() error, error) {
	console := logger.New(
		logger.WithDebug(debug),
		logger.WithWriter(os.Stdout),
		logger.WithPretty(term.IsTerminal(int(os.Stdout.Fd()))),
		logger.WithJSON(!term.IsTerminal(int(os.Stdout.Fd()))),
	)
	if logFile == "" {
		return console, func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	file := logger.New(
		logger.WithDebug(debug),
		logger.WithWriter(f),
		logger.WithJSON(true),
		logger.WithSource(debug),
	)
	return logger.Multi(console, file), f.Close, nil
}
