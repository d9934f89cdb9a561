package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/aescanero/newsroom/internal/desk"
	"github.com/aescanero/newsroom/pkg/resilience"
)

// Pipeline modes
const (
	ModeOrchestrated  = "orchestrated"
	ModeChoreographed = "choreographed"
)

// Config holds all configuration for the newsroom binaries
type Config struct {
	// Server configuration
	HTTPPort int    `env:"NEWSROOM_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"NEWSROOM_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// APIToken, when set, is required as a bearer token on /api routes
	APIToken string `env:"NEWSROOM_API_TOKEN"`

	// PipelineMode selects durable orchestration or topic choreography
	PipelineMode string `env:"PIPELINE_MODE" envDefault:"orchestrated"`

	Redis        RedisConfig
	Bus          BusConfig
	Store        StoreConfig
	LLM          LLMConfig
	CMS          CMSConfig
	Retry        RetryConfig
	Agent        AgentConfig
	Orchestrator OrchestratorConfig
	Desk         DeskConfig
	Timeouts     TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// BusConfig holds message bus configuration
type BusConfig struct {
	Backend    string        `env:"BUS_BACKEND" envDefault:"redis"`
	Partitions int           `env:"BUS_PARTITIONS" envDefault:"4"`
	ClaimIdle  time.Duration `env:"BUS_CLAIM_IDLE" envDefault:"60s"`
	BatchSize  int64         `env:"BUS_BATCH_SIZE" envDefault:"16"`
	Block      time.Duration `env:"BUS_BLOCK" envDefault:"2s"`
}

// StoreConfig holds instance and dedup store configuration
type StoreConfig struct {
	Backend    string        `env:"STORE_BACKEND" envDefault:"redis"`
	SQLitePath string        `env:"STORE_SQLITE_PATH" envDefault:"newsroom.db"`
	// ArchiveTTL expires terminal instances in Redis; zero keeps them
	ArchiveTTL time.Duration `env:"STORE_ARCHIVE_TTL" envDefault:"0s"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider       string        `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey         string        `env:"LLM_API_KEY"`
	Model          string        `env:"LLM_MODEL" envDefault:"claude-sonnet-4-5"`
	MaxTokens      int64         `env:"LLM_MAX_TOKENS" envDefault:"1024"`
	BaseURL        string        `env:"LLM_BASE_URL"`
	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`
}

// CMSConfig holds publishing target configuration
type CMSConfig struct {
	Provider  string `env:"CMS_PROVIDER" envDefault:"wpvip"`
	FeedTitle string `env:"CMS_FEED_TITLE" envDefault:"Newsroom"`
	FeedURL   string `env:"CMS_FEED_URL" envDefault:"https://news.example"`
	FeedLimit int    `env:"CMS_FEED_LIMIT" envDefault:"50"`
}

// RetryConfig holds the resilient invoker policy
type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	// BackoffBase is the exponent base; attempt n waits BackoffBase^n seconds
	BackoffBase float64       `env:"RETRY_BACKOFF_BASE" envDefault:"2"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"60s"`
}

// AgentConfig holds agent host configuration
type AgentConfig struct {
	Role           string        `env:"AGENT_ROLE"`
	Concurrency    int           `env:"AGENT_CONCURRENCY" envDefault:"4"`
	QueueCapacity  int           `env:"AGENT_QUEUE_CAPACITY" envDefault:"64"`
	FailurePolicy  string        `env:"AGENT_FAILURE_POLICY" envDefault:"deadletter"`
	DedupTTL       time.Duration `env:"AGENT_DEDUP_TTL" envDefault:"24h"`
	HealthInterval time.Duration `env:"AGENT_HEALTH_INTERVAL" envDefault:"30s"`
}

// OrchestratorConfig holds durable orchestration settings
type OrchestratorConfig struct {
	// ApprovalTimeout of zero waits for the editor without limit
	ApprovalTimeout time.Duration `env:"ORCH_APPROVAL_TIMEOUT" envDefault:"0s"`
	LeaseTTL        time.Duration `env:"ORCH_LEASE_TTL" envDefault:"120s"`
	ResumeInterval  time.Duration `env:"ORCH_RESUME_INTERVAL" envDefault:"30s"`
	PollInterval    time.Duration `env:"ORCH_POLL_INTERVAL" envDefault:"5s"`
	Owner           string        `env:"ORCH_OWNER"`
}

// DeskConfig holds editorial defaults
type DeskConfig struct {
	Name             string        `env:"DESK_NAME" envDefault:"Digital Desk"`
	Assignee         string        `env:"DESK_ASSIGNEE" envDefault:"AutoPlanner"`
	DueIn            time.Duration `env:"DESK_DUE_IN" envDefault:"6h"`
	PublishDelay     time.Duration `env:"DESK_PUBLISH_DELAY" envDefault:"0s"`
	FeaturedImageURL string        `env:"DESK_FEATURED_IMAGE_URL" envDefault:"https://cdn.example/image.jpg"`
	Channels         []string      `env:"DESK_CHANNELS" envDefault:"web,social" envSeparator:","`
	LegalKeywords    []string      `env:"DESK_LEGAL_KEYWORDS" envDefault:"lawsuit,allegation,indictment,court" envSeparator:","`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.PipelineMode != ModeOrchestrated && c.PipelineMode != ModeChoreographed {
		return fmt.Errorf("invalid pipeline mode: %s (must be orchestrated or choreographed)", c.PipelineMode)
	}

	switch c.Bus.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported bus backend: %s", c.Bus.Backend)
	}
	if c.Bus.Partitions < 1 {
		return fmt.Errorf("bus partitions must be at least 1")
	}

	switch c.Store.Backend {
	case "redis", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		return fmt.Errorf("sqlite path is required")
	}

	// Validate Redis config
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate LLM config
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required")
		}
	case "static":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	switch c.CMS.Provider {
	case "wpvip", "arcxp":
	default:
		return fmt.Errorf("unsupported CMS provider: %s", c.CMS.Provider)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Retry.BackoffBase <= 1 {
		return fmt.Errorf("retry backoff base must be greater than 1")
	}
	if c.Retry.MaxDelay <= 0 {
		return fmt.Errorf("retry max delay must be positive")
	}

	// Validate agent config
	if c.Agent.Concurrency < 1 {
		return fmt.Errorf("agent concurrency must be at least 1")
	}
	if c.Agent.QueueCapacity < c.Agent.Concurrency {
		return fmt.Errorf("agent queue capacity must be at least the concurrency")
	}
	if c.Agent.FailurePolicy != "deadletter" && c.Agent.FailurePolicy != "discard" {
		return fmt.Errorf("invalid agent failure policy: %s (must be deadletter or discard)", c.Agent.FailurePolicy)
	}

	if c.Orchestrator.ApprovalTimeout < 0 {
		return fmt.Errorf("approval timeout must not be negative")
	}
	if c.Orchestrator.LeaseTTL <= 0 {
		return fmt.Errorf("orchestrator lease ttl must be positive")
	}
	if c.Orchestrator.PollInterval <= 0 {
		return fmt.Errorf("orchestrator poll interval must be positive")
	}

	if len(c.Desk.Channels) == 0 {
		return fmt.Errorf("at least one distribution channel is required")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis client
func (c *Config) UsesRedis() bool {
	return c.Bus.Backend == "redis" || c.Store.Backend == "redis"
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

// RetryPolicy returns the invoker policy
func (c *Config) RetryPolicy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Base:        c.Retry.BackoffBase,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// DeskSettings returns the editorial desk settings
func (c *Config) DeskSettings() desk.Settings {
	return desk.Settings{
		DeskName:         c.Desk.Name,
		Assignee:         c.Desk.Assignee,
		DueIn:            c.Desk.DueIn,
		PublishDelay:     c.Desk.PublishDelay,
		FeaturedImageURL: c.Desk.FeaturedImageURL,
		Channels:         c.Desk.Channels,
		LegalKeywords:    c.Desk.LegalKeywords,
	}
}
