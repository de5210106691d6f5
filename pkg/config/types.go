package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent scout configuration stored as config.toml
// in the .scout/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Server      ServerConfig      `toml:"server"`
	Upstream    UpstreamConfig    `toml:"upstream"`
	Search      SearchConfig      `toml:"search"`
	Dataset     DatasetConfig     `toml:"dataset"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Session     SessionConfig     `toml:"session"`
	Events      EventsConfig      `toml:"events"`
	Matching    MatchingConfig    `toml:"matching"`
	Client      ClientConfig      `toml:"client"`
}

// ServerConfig holds the HTTP listener settings for "scout serve".
type ServerConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// UpstreamConfig holds the conversational backend settings.
// Timeouts are Go duration strings ("30s", "5m").
type UpstreamConfig struct {
	BaseURL          string `toml:"base_url,omitempty"`
	APIKey           string `toml:"api_key,omitempty"`
	SystemPromptPath string `toml:"system_prompt_path,omitempty"`
	ResponseTimeout  string `toml:"response_timeout,omitempty"`
	StreamTimeout    string `toml:"stream_timeout,omitempty"`
}

// SearchConfig selects the company search backend.
type SearchConfig struct {
	// Provider is "dataset" (knowledge-base HTTP search) or "semantic"
	// (embeddings + vector store).
	Provider     string `toml:"provider,omitempty"`
	DefaultLimit uint   `toml:"default_limit,omitempty"`
}

// DatasetConfig holds knowledge-base search settings. An empty BaseURL
// falls back to the upstream base URL.
type DatasetConfig struct {
	BaseURL   string `toml:"base_url,omitempty"`
	APIKey    string `toml:"api_key,omitempty"`
	DatasetID string `toml:"dataset_id,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// SessionConfig configures the session to conversation binding store.
type SessionConfig struct {
	// Provider is "memory", "sqlite" or "postgres". The bounded in-memory
	// cache is always in front; the durable providers write through to DSN.
	Provider string `toml:"provider,omitempty"`
	DSN      string `toml:"dsn,omitempty"`
	Capacity uint   `toml:"capacity,omitempty"`
	TTL      string `toml:"ttl,omitempty"`
}

// EventsConfig configures relay completion event publishing.
type EventsConfig struct {
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

// MatchingConfig holds the matching workflow settings.
type MatchingConfig struct {
	BaseURL       string  `toml:"base_url,omitempty"`
	APIKey        string  `toml:"api_key,omitempty"`
	WorkflowID    string  `toml:"workflow_id,omitempty"`
	RatePerSecond float64 `toml:"rate_per_second,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running
// scout server (e.g. scout chat, scout search).
type ClientConfig struct {
	Target string `toml:"target,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func durationKey(name string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = v
			return nil
		},
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"server.listen": stringKey(func(c *Config) *string { return &c.Server.Listen }),

	"upstream.base_url":           stringKey(func(c *Config) *string { return &c.Upstream.BaseURL }),
	"upstream.api_key":            stringKey(func(c *Config) *string { return &c.Upstream.APIKey }),
	"upstream.system_prompt_path": stringKey(func(c *Config) *string { return &c.Upstream.SystemPromptPath }),
	"upstream.response_timeout": durationKey("upstream.response_timeout",
		func(c *Config) *string { return &c.Upstream.ResponseTimeout }),
	"upstream.stream_timeout": durationKey("upstream.stream_timeout",
		func(c *Config) *string { return &c.Upstream.StreamTimeout }),

	"search.provider":      stringKey(func(c *Config) *string { return &c.Search.Provider }),
	"search.default_limit": uintKey("search.default_limit", func(c *Config) *uint { return &c.Search.DefaultLimit }),

	"dataset.base_url":   stringKey(func(c *Config) *string { return &c.Dataset.BaseURL }),
	"dataset.api_key":    stringKey(func(c *Config) *string { return &c.Dataset.APIKey }),
	"dataset.dataset_id": stringKey(func(c *Config) *string { return &c.Dataset.DatasetID }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),

	"session.provider": stringKey(func(c *Config) *string { return &c.Session.Provider }),
	"session.dsn":      stringKey(func(c *Config) *string { return &c.Session.DSN }),
	"session.capacity": uintKey("session.capacity", func(c *Config) *uint { return &c.Session.Capacity }),
	"session.ttl":      durationKey("session.ttl", func(c *Config) *string { return &c.Session.TTL }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers":  stringKey(func(c *Config) *string { return &c.Events.Brokers }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),

	"matching.base_url":    stringKey(func(c *Config) *string { return &c.Matching.BaseURL }),
	"matching.api_key":     stringKey(func(c *Config) *string { return &c.Matching.APIKey }),
	"matching.workflow_id": stringKey(func(c *Config) *string { return &c.Matching.WorkflowID }),
	"matching.rate_per_second": {
		get: func(c *Config) string {
			if c.Matching.RatePerSecond == 0 {
				return ""
			}
			return strconv.FormatFloat(c.Matching.RatePerSecond, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for matching.rate_per_second: %w", err)
			}
			c.Matching.RatePerSecond = f
			return nil
		},
	},

	"client.target": stringKey(func(c *Config) *string { return &c.Client.Target }),
}
