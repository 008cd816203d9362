// Package vector provides the embedding front of the pipeline and the
// optional remote vector-store mirror of the local index.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/adrag/adrag/internal/llm"
	"github.com/adrag/adrag/internal/observability"
)

// ErrEmptyInput is returned when an embedding call receives no texts.
var ErrEmptyInput = errors.New("embedding input is empty")

// Embedder maps batches of texts to unit-normalized float32 vectors through
// an llm.Provider. Same input and model produce the same output; the
// normalization makes inner product equivalent to cosine similarity
// downstream.
type Embedder struct {
	provider  llm.Provider
	batchSize int
}

// NewEmbedder creates an Embedder. batchSize bounds the number of texts sent
// per provider call; values < 1 fall back to 64.
func NewEmbedder(provider llm.Provider, batchSize int) *Embedder {
	if batchSize < 1 {
		batchSize = 64
	}
	return &Embedder{provider: provider, batchSize: batchSize}
}

// EmbedTexts embeds texts in provider-sized batches and L2-normalizes every
// row. The result has exactly one vector per input text, in input order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		batchCtx, span := observability.StartEmbedSpan(ctx, e.provider.Name(), len(batch))
		batchStart := time.Now()
		vectors, err := e.provider.Embed(batchCtx, batch)
		observability.Metrics().EmbedBatchesTotal.Inc()
		observability.Metrics().EmbedDuration.ObserveDuration(batchStart)
		if err != nil {
			observability.RecordError(span, err)
			span.End()
			return nil, fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		span.End()
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(batch))
		}
		out = append(out, vectors...)
	}

	for _, v := range out {
		Normalize(v)
	}
	return out, nil
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left as-is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
