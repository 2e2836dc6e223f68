// Package llm provides a small provider-agnostic LLM completion client
// wrapping gollm. Perception and decision are plain text-in, JSON-out
// calls, so the surface is deliberately narrow: typed messages, a blocking
// Complete, a typed error hierarchy, and retry with exponential backoff.
//
// Providers are registered by name on a Client; NewClientFromEnv scans the
// environment for API keys and registers an adapter per detected provider.
package llm
