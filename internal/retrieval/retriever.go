package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adrag/adrag/internal/index"
)

// RetrievedChunk is one search hit: the full lookup row plus its similarity
// score against the query.
type RetrievedChunk struct {
	Row   index.Row `json:"record"`
	Score float32   `json:"score"`
}

// QueryEmbedder vectorizes query text with the same model the index was
// built with.
type QueryEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever answers top-k similarity queries against a loaded index store.
type Retriever struct {
	store    *index.Store
	embedder QueryEmbedder
	logger   *slog.Logger
}

// NewRetriever creates a Retriever over the given store and embedder.
func NewRetriever(store *index.Store, embedder QueryEmbedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, embedder: embedder, logger: logger}
}

// Retrieve embeds the query and returns up to k chunks ordered by descending
// similarity. A query that is empty after trimming whitespace returns no
// chunks without touching the embedder.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if !r.store.Loaded() {
		return nil, index.ErrNotLoaded
	}
	if k <= 0 {
		return nil, nil
	}

	vectors, err := r.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding produced %d vectors for one query", len(vectors))
	}

	rowIDs, scores, err := r.store.Search(vectors[0], k)
	if err != nil {
		return nil, err
	}

	chunks := make([]RetrievedChunk, 0, len(rowIDs))
	for i, rowID := range rowIDs {
		if rowID == index.NoRow {
			continue
		}
		row, ok := r.store.Row(rowID)
		if !ok {
			r.logger.Error("search returned row id outside lookup", "row_id", rowID)
			continue
		}
		chunks = append(chunks, RetrievedChunk{Row: row, Score: scores[i]})
	}
	return chunks, nil
}
