package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/papercomputeco/scout/api"
	"github.com/papercomputeco/scout/api/mcp"
	"github.com/papercomputeco/scout/pkg/config"
	"github.com/papercomputeco/scout/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/scout/pkg/embeddings/utils"
	"github.com/papercomputeco/scout/pkg/eventstream"
	"github.com/papercomputeco/scout/pkg/eventstream/kafka"
	"github.com/papercomputeco/scout/pkg/eventstream/nop"
	"github.com/papercomputeco/scout/pkg/matching"
	"github.com/papercomputeco/scout/pkg/metrics"
	"github.com/papercomputeco/scout/pkg/search"
	"github.com/papercomputeco/scout/pkg/search/dataset"
	"github.com/papercomputeco/scout/pkg/search/semantic"
	"github.com/papercomputeco/scout/pkg/session"
	"github.com/papercomputeco/scout/pkg/session/postgres"
	"github.com/papercomputeco/scout/pkg/session/sqlite"
	"github.com/papercomputeco/scout/pkg/upstream/dify"
	"github.com/papercomputeco/scout/pkg/vector"
	vectorutils "github.com/papercomputeco/scout/pkg/vector/utils"
	"github.com/papercomputeco/scout/relay"
	"github.com/papercomputeco/scout/relay/worker"
)

// stack is every long-lived component behind "scout serve".
type stack struct {
	server    *api.Server
	prompt    *dify.Prompt
	sessions  *session.Store
	pool      *worker.Pool
	publisher eventstream.Publisher
	driver    vector.Driver
	embedder  embeddings.Embedder
	logger    *slog.Logger
}

// newStack builds the stack from cfg. On error everything opened so far
// is closed.
func newStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *stack, err error) {
	s := &stack{logger: logger}
	defer func() {
		if err != nil {
			_ = s.close()
		}
	}()

	if s.sessions, err = newSessions(ctx, cfg.Session, logger); err != nil {
		return nil, err
	}

	s.prompt, err = dify.NewPrompt(cfg.Upstream.SystemPromptPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading system prompt: %w", err)
	}

	responseTimeout, err := time.ParseDuration(cfg.Upstream.ResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream.response_timeout: %w", err)
	}
	streamTimeout, err := time.ParseDuration(cfg.Upstream.StreamTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream.stream_timeout: %w", err)
	}
	upstreamClient, err := dify.NewClient(dify.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		APIKey:          cfg.Upstream.APIKey,
		Prompt:          s.prompt,
		ResponseTimeout: responseTimeout,
		StreamTimeout:   streamTimeout,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating upstream client: %w", err)
	}

	searcher, err := s.newSearcher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	bridge, err := search.NewBridge(search.BridgeConfig{Searcher: searcher, Logger: logger})
	if err != nil {
		return nil, err
	}

	if s.pool, err = worker.NewPool(worker.Config{Logger: logger}); err != nil {
		return nil, err
	}

	if s.publisher, err = newPublisher(cfg.Events, logger); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r, err := relay.New(relay.Config{
		Sessions:  s.sessions,
		Streamer:  upstreamClient,
		Search:    bridge,
		Submitter: upstreamClient,
		Publisher: s.publisher,
		Pool:      s.pool,
		Metrics:   metrics.NewRelay(reg),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating relay: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{Search: bridge, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	matcher := matching.NewClient(matching.Config{
		BaseURL:       cfg.Matching.BaseURL,
		APIKey:        cfg.Matching.APIKey,
		WorkflowID:    cfg.Matching.WorkflowID,
		RatePerSecond: cfg.Matching.RatePerSecond,
		Logger:        logger,
	})

	s.server, err = api.NewServer(api.Config{ListenAddr: cfg.Server.Listen}, api.Deps{
		Relay:    r,
		Search:   bridge,
		Matcher:  matcher,
		MCP:      mcpServer.Handler(),
		Gatherer: reg,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	return s, nil
}

func newSessions(ctx context.Context, c config.SessionConfig, logger *slog.Logger) (*session.Store, error) {
	ttl, err := time.ParseDuration(c.TTL)
	if err != nil {
		return nil, fmt.Errorf("invalid session.ttl: %w", err)
	}

	var backend session.Backend
	switch c.Provider {
	case "", "memory":
	case "sqlite":
		if backend, err = sqlite.NewBackend(c.DSN); err != nil {
			return nil, fmt.Errorf("opening sqlite sessions: %w", err)
		}
	case "postgres":
		if backend, err = postgres.NewBackend(ctx, c.DSN); err != nil {
			return nil, fmt.Errorf("opening postgres sessions: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported session provider: %s", c.Provider)
	}

	logger.Info("session store ready", "provider", c.Provider, "capacity", c.Capacity, "ttl", ttl)
	return session.NewStore(session.Config{
		Capacity: int(c.Capacity),
		TTL:      ttl,
		Backend:  backend,
		Logger:   logger,
	}), nil
}

func (s *stack) newSearcher(ctx context.Context, cfg *config.Config) (search.Searcher, error) {
	switch cfg.Search.Provider {
	case "dataset":
		baseURL := cfg.Dataset.BaseURL
		if baseURL == "" {
			baseURL = cfg.Upstream.BaseURL
		}
		client, err := dataset.NewClient(dataset.Config{
			BaseURL:   baseURL,
			APIKey:    cfg.Dataset.APIKey,
			DatasetID: cfg.Dataset.DatasetID,
		})
		if err != nil {
			return nil, fmt.Errorf("creating dataset search: %w", err)
		}
		return client, nil

	case "semantic":
		driver, embedder, err := OpenVectorSearch(ctx, cfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.driver, s.embedder = driver, embedder
		searcher, err := semantic.New(embedder, driver)
		if err != nil {
			return nil, fmt.Errorf("creating semantic search: %w", err)
		}
		return searcher, nil

	default:
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Search.Provider)
	}
}

// OpenVectorSearch opens the configured embedder and vector driver. It is
// shared with "scout seed", which fills the same collection.
func OpenVectorSearch(ctx context.Context, cfg *config.Config, logger *slog.Logger) (vector.Driver, embeddings.Embedder, error) {
	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: cfg.Embedding.Provider,
		TargetURL:    cfg.Embedding.Target,
		Model:        cfg.Embedding.Model,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedder: %w", err)
	}

	driver, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: cfg.VectorStore.Provider,
		Target:       cfg.VectorStore.Target,
		Collection:   cfg.VectorStore.Collection,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       logger,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, nil, fmt.Errorf("creating vector driver: %w", err)
	}

	return driver, embedder, nil
}

func newPublisher(c config.EventsConfig, logger *slog.Logger) (eventstream.Publisher, error) {
	switch c.Provider {
	case "", "nop":
		return nop.NewPublisher(), nil
	case "kafka":
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers: c.Brokers,
			Topic:   c.Topic,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported events provider: %s", c.Provider)
	}
}

// close drains the pool before closing what queued jobs still use. The
// API server is shut down by the caller that started it.
func (s *stack) close() error {
	var errs []error
	if s.pool != nil {
		s.pool.Close()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing publisher: %w", err))
		}
	}
	if s.sessions != nil {
		if err := s.sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sessions: %w", err))
		}
	}
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing vector driver: %w", err))
		}
	}
	if s.embedder != nil {
		if err := s.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing embedder: %w", err))
		}
	}
	return errors.Join(errs...)
}
