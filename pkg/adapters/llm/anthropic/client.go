// Package anthropic implements ports.Completer on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 1024
)

// Config holds client settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
	Timeout   time.Duration
}

// Client completes prompts with a single user message.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// NewClient creates an Anthropic completer. SDK-level retries are disabled;
// retry policy belongs to the caller's invoker.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Client{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}, nil
}

// Complete sends prompt and returns the concatenated text blocks.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify(ctx, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", domain.Transient("anthropic", "complete", fmt.Errorf("empty completion (stop reason %q)", msg.StopReason))
	}

	c.logger.Debug("completion received",
		zap.String("model", c.model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}

// rateLimited carries the server's Retry-After hint.
type rateLimited struct {
	err   error
	after time.Duration
}

func (r *rateLimited) Error() string             { return r.err.Error() }
func (r *rateLimited) Unwrap() error             { return r.err }
func (r *rateLimited) RetryAfter() time.Duration { return r.after }

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		// transport failure before any HTTP status
		return domain.Transient("anthropic", "complete", err)
	}

	switch code := apiErr.StatusCode; {
	case code == http.StatusTooManyRequests,
		code == http.StatusRequestTimeout,
		code == http.StatusConflict,
		code >= http.StatusInternalServerError:
		wrapped := domain.Transient("anthropic", "complete", err)
		if after := retryAfter(apiErr.Response); after > 0 {
			return &rateLimited{err: wrapped, after: after}
		}
		return wrapped
	default:
		return domain.Permanent("anthropic", "complete", err)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
