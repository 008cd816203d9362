// Package llm defines the provider abstraction for the two external model
// capabilities the pipeline consumes: text completion and text embedding.
package llm

import "context"

// Provider is the interface all LLM backends must implement.
type Provider interface {
	// Complete sends a prompt and returns a completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}
