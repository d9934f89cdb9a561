// Package static is a deterministic completer for development and tests.
package static

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Completer answers every prompt from a fixed template. It echoes the first
// prompt line so outputs differ per story.
type Completer struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

// New returns a completer with the default template.
func New() *Completer {
	return &Completer{reply: defaultReply}
}

// NewWithReply returns a completer that delegates to reply.
func NewWithReply(reply func(prompt string) (string, error)) *Completer {
	return &Completer{reply: reply}
}

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	return c.reply(prompt)
}

// Prompts returns every prompt received so far.
func (c *Completer) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

func defaultReply(prompt string) (string, error) {
	first, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	return fmt.Sprintf("%s\n\nReporting notes compiled for this story.", first), nil
}
