package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/adapters/llm/anthropic"
	"github.com/aescanero/newsroom/pkg/adapters/llm/static"
	"github.com/aescanero/newsroom/pkg/ports"
)

// Config holds LLM client configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// NewCompleter creates a completer based on provider
func NewCompleter(cfg *Config) (ports.Completer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "anthropic":
		client, err := anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
		}, logger.Named("anthropic"))
		if err != nil {
			return nil, err
		}
		return client, nil
	case "static":
		return static.New(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
