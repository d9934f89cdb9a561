package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Equal(t, ModeOrchestrated, cfg.PipelineMode)
	assert.Equal(t, "redis", cfg.Bus.Backend)
	assert.Equal(t, 4, cfg.Bus.Partitions)
	assert.Equal(t, time.Minute, cfg.Bus.ClaimIdle)
	assert.Equal(t, "deadletter", cfg.Agent.FailurePolicy)
	assert.Equal(t, 24*time.Hour, cfg.Agent.DedupTTL)
	assert.Zero(t, cfg.Orchestrator.ApprovalTimeout)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.PollInterval)
	assert.Zero(t, cfg.Store.ArchiveTTL)
	assert.True(t, cfg.UsesRedis())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 2*time.Second, policy.Backoff(1))
	assert.Equal(t, 4*time.Second, policy.Backoff(2))

	settings := cfg.DeskSettings()
	assert.Equal(t, "Digital Desk", settings.DeskName)
	assert.Equal(t, []string{"web", "social"}, settings.Channels)
	assert.Contains(t, settings.LegalKeywords, "lawsuit")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PIPELINE_MODE", "choreographed")
	t.Setenv("LLM_PROVIDER", "static")
	t.Setenv("BUS_BACKEND", "memory")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("STORE_SQLITE_PATH", "/tmp/stories.db")
	t.Setenv("AGENT_ROLE", "reporter")
	t.Setenv("ORCH_APPROVAL_TIMEOUT", "2h")
	t.Setenv("DESK_CHANNELS", "web,newsletter")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeChoreographed, cfg.PipelineMode)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, "reporter", cfg.Agent.Role)
	assert.Equal(t, 2*time.Hour, cfg.Orchestrator.ApprovalTimeout)
	assert.Equal(t, []string{"web", "newsletter"}, cfg.Desk.Channels)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:     8080,
			GRPCPort:     9090,
			LogLevel:     "info",
			PipelineMode: ModeOrchestrated,
			Redis:        RedisConfig{Addr: "localhost:6379"},
			Bus:          BusConfig{Backend: "redis", Partitions: 1},
			Store:        StoreConfig{Backend: "memory"},
			LLM:          LLMConfig{Provider: "static"},
			CMS:          CMSConfig{Provider: "arcxp"},
			Retry:        RetryConfig{MaxAttempts: 3, BackoffBase: 2, MaxDelay: time.Minute},
			Agent:        AgentConfig{Concurrency: 2, QueueCapacity: 8, FailurePolicy: "discard"},
			Orchestrator: OrchestratorConfig{LeaseTTL: time.Minute, PollInterval: time.Second},
			Desk:         DeskConfig{Channels: []string{"web"}},
		}
	}

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad mode", func(c *Config) { c.PipelineMode = "hybrid" }, "invalid pipeline mode"},
		{"bad bus", func(c *Config) { c.Bus.Backend = "kafka" }, "unsupported bus backend"},
		{"bad store", func(c *Config) { c.Store.Backend = "postgres" }, "unsupported store backend"},
		{"missing redis", func(c *Config) { c.Redis.Addr = "" }, "redis address is required"},
		{"missing api key", func(c *Config) { c.LLM.Provider = "anthropic" }, "API key is required"},
		{"bad cms", func(c *Config) { c.CMS.Provider = "drupal" }, "unsupported CMS provider"},
		{"no retries", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry max attempts"},
		{"small queue", func(c *Config) { c.Agent.QueueCapacity = 1 }, "queue capacity"},
		{"bad policy", func(c *Config) { c.Agent.FailurePolicy = "retry" }, "failure policy"},
		{"no poll interval", func(c *Config) { c.Orchestrator.PollInterval = 0 }, "poll interval"},
		{"no channels", func(c *Config) { c.Desk.Channels = nil }, "distribution channel"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
