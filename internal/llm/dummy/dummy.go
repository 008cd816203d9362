// Package dummy implements a deterministic, offline llm.Provider used for
// local development and tests. Completions return a canned cited answer;
// embeddings are derived from token hashes so equal texts embed equally.
package dummy

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/adrag/adrag/internal/llm"
)

// Dim is the embedding dimension produced by the dummy provider.
const Dim = 32

// Client is the offline provider.
type Client struct{}

// New creates a dummy provider.
func New() *Client { return &Client{} }

func (c *Client) Name() string { return "dummy" }

func (c *Client) Complete(_ context.Context, _ *llm.Prompt, _ *llm.RequestOptions) (*llm.Response, error) {
	return &llm.Response{
		Content:    "This is a placeholder answer from the dummy provider [1].",
		Model:      "dummy",
		StopReason: "stop",
	}, nil
}

func (c *Client) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, Dim)
		for _, word := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			h.Write([]byte(word))
			vec[h.Sum32()%Dim]++
		}
		normalize(vec)
		out[i] = vec
	}
	return out, nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		v[0] = 1 // zero text still gets a unit vector
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
