package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures client-side rate limiting for LLM providers.
type RateLimitConfig struct {
	// RequestsPerMinute limits the number of API calls per minute (0 = unlimited).
	RequestsPerMinute int
	// BurstSize allows temporary bursts above the sustained rate.
	BurstSize int
}

// DefaultRateLimitConfig returns conservative defaults for free-tier cloud APIs.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerMinute: 25, BurstSize: 3}
}

// RateLimitProvider wraps a provider with a token-bucket rate limiter shared
// by completion and embedding calls.
type RateLimitProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitProvider creates a rate-limited provider wrapper.
func NewRateLimitProvider(inner Provider, config *RateLimitConfig) *RateLimitProvider {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(config.RequestsPerMinute) / 60.0)
	}
	burst := config.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &RateLimitProvider{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

// Name returns the underlying provider name.
func (r *RateLimitProvider) Name() string { return r.inner.Name() }

// Complete waits for rate limit clearance and delegates to the inner provider.
func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Complete(ctx, prompt, opts)
}

// Embed waits for rate limit clearance and delegates to the inner provider.
func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

// WithRateLimit wraps a provider with rate limiting.
func WithRateLimit(p Provider, config *RateLimitConfig) Provider {
	if p == nil {
		return nil
	}
	return NewRateLimitProvider(p, config)
}
