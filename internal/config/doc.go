// Package config loads newsroom settings from environment variables.
//
// Settings are grouped by concern (Redis, bus, store, LLM, CMS, retry, agent,
// orchestrator, desk). Load parses and validates them in one step; every
// value has a development default except the LLM API key, which the
// anthropic provider requires.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy := cfg.RetryPolicy()
package config
