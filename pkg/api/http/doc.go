// Package http serves the newsroom REST API with gin.
//
// Routes under /api/v1 accept pitches, start and list stories, deliver editor
// approval decisions and retry failed stories. /health aggregates dependency
// checks and /metrics exposes the Prometheus registry.
package http
