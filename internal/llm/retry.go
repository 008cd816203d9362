package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for LLM calls.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (0 = no retries)
	RetryDelay time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Caps exponential backoff
	Timeout    time.Duration // Per-request timeout
}

// DefaultRetryConfig returns a sensible default configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    2 * time.Minute,
	}
}

// RetryProvider wraps a Provider with timeout and retry logic.
type RetryProvider struct {
	inner  Provider
	config *RetryConfig
}

// NewRetryProvider wraps an existing provider with retry logic.
func NewRetryProvider(inner Provider, config *RetryConfig) *RetryProvider {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryProvider{inner: inner, config: config}
}

// Name returns the underlying provider name.
func (r *RetryProvider) Name() string { return r.inner.Name() }

// Complete sends a prompt with timeout and retry logic.
func (r *RetryProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	return withRetry(ctx, r.config, func(attemptCtx context.Context) (*Response, error) {
		return r.inner.Complete(attemptCtx, prompt, opts)
	})
}

// Embed sends an embedding request with timeout and retry logic.
func (r *RetryProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return withRetry(ctx, r.config, func(attemptCtx context.Context) ([][]float32, error) {
		return r.inner.Embed(attemptCtx, texts)
	})
}

func withRetry[T any](ctx context.Context, cfg *RetryConfig, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoffDelay(cfg, attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		out, err := call(attemptCtx)
		cancel()

		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// backoffDelay returns the delay before the given attempt, doubling each time
// up to MaxDelay.
func backoffDelay(cfg *RetryConfig, attempt int) time.Duration {
	delay := cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	return delay
}

// isRetryable determines if an error should trigger a retry.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errStr := err.Error()

	// Rate limiting is retryable.
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "Too Many Requests") {
		return true
	}

	// Server errors (5xx) are retryable.
	for _, code := range []int{
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	} {
		if strings.Contains(errStr, fmt.Sprintf("%d", code)) || strings.Contains(errStr, http.StatusText(code)) {
			return true
		}
	}

	// Client errors (4xx except 429) are not.
	for _, code := range []string{"400", "401", "403", "404"} {
		if strings.Contains(errStr, code) {
			return false
		}
	}

	// Default: retry on unknown errors.
	return true
}

// WrapWithRetry wraps a provider with retry logic derived from ProviderConfig.
func WrapWithRetry(provider Provider, cfg ProviderConfig) Provider {
	if provider == nil {
		return nil
	}

	config := DefaultRetryConfig()
	if cfg.Timeout > 0 {
		config.Timeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		config.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		config.RetryDelay = cfg.RetryDelay
	}
	return NewRetryProvider(provider, config)
}
