package llm

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Client routes completion requests to registered provider adapters and
// applies the retry policy around every call.
type Client struct {
	mu              sync.RWMutex
	adapters        map[string]ProviderAdapter
	defaultProvider string
	retryPolicy     RetryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) { c.retryPolicy = policy }
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.defaultProvider = name }
}

// NewClient creates a Client with the given adapters. The first adapter
// becomes the default provider unless WithDefaultProvider overrides it.
func NewClient(adapters []ProviderAdapter, opts ...ClientOption) (*Client, error) {
	if len(adapters) == 0 {
		return nil, &ConfigurationError{ClientError: ClientError{Message: "at least one provider adapter is required"}}
	}

	c := &Client{
		adapters:    make(map[string]ProviderAdapter, len(adapters)),
		retryPolicy: DefaultRetryPolicy(),
	}
	for _, a := range adapters {
		c.adapters[a.Name()] = a
	}
	c.defaultProvider = adapters[0].Name()

	for _, opt := range opts {
		opt(c)
	}

	if _, ok := c.adapters[c.defaultProvider]; !ok {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("default provider %q is not registered", c.defaultProvider),
		}}
	}
	return c, nil
}

// NewClientFromEnv builds a Client from whatever provider API keys are
// present in the environment. OPENAI_API_KEY and ANTHROPIC_API_KEY are
// recognized; the first one found becomes the default provider.
func NewClientFromEnv(opts ...ClientOption) (*Client, error) {
	var adapters []ProviderAdapter

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		a, err := NewGollmAdapter("openai", key)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		a, err := NewGollmAdapter("anthropic", key)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if len(adapters) == 0 {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "no provider API keys found in environment (set OPENAI_API_KEY or ANTHROPIC_API_KEY)",
		}}
	}
	return NewClient(adapters, opts...)
}

// Providers returns the names of all registered providers.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.adapters))
	for name := range c.adapters {
		names = append(names, name)
	}
	return names
}

// DefaultProvider returns the provider used when a request names none.
func (c *Client) DefaultProvider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultProvider
}

// Complete routes the request to the right adapter and retries retryable
// failures per the client's policy.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.adapterFor(req.Provider)
	if err != nil {
		return nil, err
	}
	return Retry(ctx, c.retryPolicy, func(ctx context.Context) (*Response, error) {
		return adapter.Complete(ctx, req)
	})
}

// Close releases resources held by adapters that implement Closer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, a := range c.adapters {
		if closer, ok := a.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Client) adapterFor(provider string) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if provider == "" {
		provider = c.defaultProvider
	}
	adapter, ok := c.adapters[provider]
	if !ok {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("unknown provider %q (registered: %v)", provider, c.providerNamesLocked()),
		}}
	}
	return adapter, nil
}

func (c *Client) providerNamesLocked() []string {
	names := make([]string, 0, len(c.adapters))
	for name := range c.adapters {
		names = append(names, name)
	}
	return names
}
