// Package llm selects an AI completion provider.
//
// Providers:
//   - anthropic: Anthropic Messages API
//   - static: deterministic offline completer
package llm
