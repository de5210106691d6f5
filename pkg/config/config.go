package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/scout/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// orderedKeys follows the TOML section layout for stable listing.
var orderedKeys = []string{
	"server.listen",
	"upstream.base_url",
	"upstream.api_key",
	"upstream.system_prompt_path",
	"upstream.response_timeout",
	"upstream.stream_timeout",
	"search.provider",
	"search.default_limit",
	"dataset.base_url",
	"dataset.api_key",
	"dataset.dataset_id",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.collection",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"session.provider",
	"session.dsn",
	"session.capacity",
	"session.ttl",
	"events.provider",
	"events.brokers",
	"events.topic",
	"matching.base_url",
	"matching.api_key",
	"matching.workflow_id",
	"matching.rate_per_second",
	"client.target",
}

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{ddm: dotdir.NewManager()}

	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfger.targetPath = path
	return cfger, nil
}

// ValidConfigKeys returns all supported configuration key names in section order.
func ValidConfigKeys() []string {
	result := make([]string, 0, len(configKeys))
	seen := make(map[string]bool, len(configKeys))
	for _, k := range orderedKeys {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
			seen[k] = true
		}
	}
	for k := range configKeys {
		if !seen[k] {
			result = append(result, k)
		}
	}
	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads config.toml from the resolved .scout/ directory.
// A missing file yields NewDefaultConfig(); fields set in the file override
// the defaults and zero-value fields are filled from them.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func setIfEmpty(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setIfZero[T uint | float64](dst *T, def T) {
	if *dst == 0 {
		*dst = def
	}
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	d := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = d.Version
	}

	setIfEmpty(&cfg.Server.Listen, d.Server.Listen)

	setIfEmpty(&cfg.Upstream.BaseURL, d.Upstream.BaseURL)
	setIfEmpty(&cfg.Upstream.ResponseTimeout, d.Upstream.ResponseTimeout)
	setIfEmpty(&cfg.Upstream.StreamTimeout, d.Upstream.StreamTimeout)

	setIfEmpty(&cfg.Search.Provider, d.Search.Provider)
	setIfZero(&cfg.Search.DefaultLimit, d.Search.DefaultLimit)

	setIfEmpty(&cfg.VectorStore.Provider, d.VectorStore.Provider)
	setIfEmpty(&cfg.VectorStore.Collection, d.VectorStore.Collection)

	setIfEmpty(&cfg.Embedding.Provider, d.Embedding.Provider)
	setIfEmpty(&cfg.Embedding.Target, d.Embedding.Target)
	setIfEmpty(&cfg.Embedding.Model, d.Embedding.Model)
	setIfZero(&cfg.Embedding.Dimensions, d.Embedding.Dimensions)

	setIfEmpty(&cfg.Session.Provider, d.Session.Provider)
	setIfZero(&cfg.Session.Capacity, d.Session.Capacity)
	setIfEmpty(&cfg.Session.TTL, d.Session.TTL)

	setIfEmpty(&cfg.Events.Provider, d.Events.Provider)
	setIfEmpty(&cfg.Events.Topic, d.Events.Topic)

	setIfZero(&cfg.Matching.RatePerSecond, d.Matching.RatePerSecond)

	setIfEmpty(&cfg.Client.Target, d.Client.Target)
}

// SaveConfig persists the configuration to config.toml in the target .scout/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets key to value, and saves it.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string form of key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
