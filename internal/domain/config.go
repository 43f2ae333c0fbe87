package domain

import "time"

// Config holds the complete FraudGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Pipeline settings
	Scoring    ScoringOptions    `json:"scoring"`
	Intel      IntelOptions      `json:"intel"`
	Similarity SimilarityOptions `json:"similarity"`

	// AsyncStages routes stage runs through the event bus worker
	// instead of executing on the request path.
	AsyncStages bool `json:"asyncStages"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ScoringOptions configures the stage-1 scorer.
type ScoringOptions struct {
	// Expression is the CEL scoring expression. Empty selects the
	// built-in default blend.
	Expression string `json:"expression"`

	// MaxWorkers bounds concurrent record scoring within a batch.
	MaxWorkers int `json:"maxWorkers"`
}

// IntelOptions configures the aggregation engine and geo enrichment.
type IntelOptions struct {
	HotspotCities   []string `json:"hotspotCities"`
	HotspotPincodes []string `json:"hotspotPincodes"`

	// HotspotUplift is added to a hotspot record's geographic risk,
	// clamped to 1.
	HotspotUplift float64 `json:"hotspotUplift"`

	// CityFraudRateThreshold marks a city high-risk (default 0.15).
	CityFraudRateThreshold float64 `json:"cityFraudRateThreshold"`

	// PincodeRiskScoreThreshold marks a pincode high-risk (default 0.6).
	PincodeRiskScoreThreshold float64 `json:"pincodeRiskScoreThreshold"`

	// TopGroups caps heatmap views (default 10, 0 = unlimited).
	TopGroups int `json:"topGroups"`

	// CacheTTLSeconds bounds how long live aggregation views are memoized.
	CacheTTLSeconds int `json:"cacheTtlSeconds"`
}

// SimilarityOptions configures the stage-3 matcher.
type SimilarityOptions struct {
	// MatchThreshold is the minimum cosine similarity for a match.
	MatchThreshold float64 `json:"matchThreshold"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: ScoringOptions{
			MaxWorkers: 8,
		},
		Intel: IntelOptions{
			HotspotUplift:             0.2,
			CityFraudRateThreshold:    0.15,
			PincodeRiskScoreThreshold: 0.6,
			TopGroups:                 10,
			CacheTTLSeconds:           300,
		},
		Similarity: SimilarityOptions{
			MatchThreshold: 0.85,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.AsyncStages = true
	cfg.Tracing.Enabled = true
	return cfg
}
