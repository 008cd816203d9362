package vector

import "context"

// Point is one indexed row mirrored into a remote vector store. RowID ties
// the remote point back to the local lookup table.
type Point struct {
	RowID  int
	Vector []float32
	PMCID  string
}

// SearchResult is a single match from a remote similarity search.
type SearchResult struct {
	RowID int
	Score float32
}

// Repository mirrors index rows into a remote vector store and searches them.
// The local lookup table remains the source of truth for chunk metadata; the
// repository only answers (row, score) queries.
type Repository interface {
	// EnsureCollection prepares the remote collection for vectors of the
	// given dimension.
	EnsureCollection(ctx context.Context, dim int) error
	// Upsert inserts or updates mirrored rows.
	Upsert(ctx context.Context, points []Point) error
	// Search finds the top-k most similar rows.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	// Close releases resources.
	Close() error
}
