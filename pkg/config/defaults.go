package config

const (
	defaultListen = ":8080"

	defaultUpstreamBaseURL = "https://api.dify.ai"
	defaultResponseTimeout = "30s"
	defaultStreamTimeout   = "5m"

	defaultSearchProvider = "dataset"
	defaultSearchLimit    = 20

	defaultVectorProvider   = "chromem"
	defaultVectorCollection = "companies"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultSessionProvider = "memory"
	defaultSessionCapacity = 10000
	defaultSessionTTL      = "24h"

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "scout.relay.completed"

	defaultMatchingRate = 2

	defaultClientTarget = "http://localhost:8080"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Server: ServerConfig{
			Listen: defaultListen,
		},
		Upstream: UpstreamConfig{
			BaseURL:         defaultUpstreamBaseURL,
			ResponseTimeout: defaultResponseTimeout,
			StreamTimeout:   defaultStreamTimeout,
		},
		Search: SearchConfig{
			Provider:     defaultSearchProvider,
			DefaultLimit: defaultSearchLimit,
		},
		VectorStore: VectorStoreConfig{
			Provider:   defaultVectorProvider,
			Collection: defaultVectorCollection,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Session: SessionConfig{
			Provider: defaultSessionProvider,
			Capacity: defaultSessionCapacity,
			TTL:      defaultSessionTTL,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
		Matching: MatchingConfig{
			RatePerSecond: defaultMatchingRate,
		},
		Client: ClientConfig{
			Target: defaultClientTarget,
		},
	}
}
