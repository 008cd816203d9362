package index

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adrag/adrag/internal/chunk"
	"github.com/adrag/adrag/internal/observability"
)

// Artifact filenames within an index directory. The three files are always
// written and read as a set.
const (
	IndexFile  = "index.bin"
	LookupFile = "lookup.jsonl"
	MetaFile   = "index.meta.json"
)

// MetricCosine is the only supported similarity metric.
const MetricCosine = "cosine"

// Paths locates the three artifacts of one index build.
type Paths struct {
	Index  string
	Lookup string
	Meta   string
}

// DefaultPaths returns the artifact paths under dir.
func DefaultPaths(dir string) Paths {
	return Paths{
		Index:  filepath.Join(dir, IndexFile),
		Lookup: filepath.Join(dir, LookupFile),
		Meta:   filepath.Join(dir, MetaFile),
	}
}

// Row is one lookup entry: the original chunk record plus its position in
// the vector index. Lookup line i always describes index row i.
type Row struct {
	RowID int `json:"row_id"`
	chunk.Record
}

// RunMeta describes one index build.
type RunMeta struct {
	CreatedAt         string `json:"created_at"`
	Metric            string `json:"metric"`
	ModelID           string `json:"model_id"`
	Device            string `json:"device"`
	BatchSize         int    `json:"batch_size"`
	EmbeddingDim      int    `json:"embedding_dim"`
	NumChunks         int    `json:"num_chunks"`
	ChunkSizeWords    int    `json:"chunk_size_words"`
	ChunkOverlapWords int    `json:"chunk_overlap_words"`
	SourceChunksPath  string `json:"source_chunks_path"`
}

// Embedder is the vectorizing capability the builder depends on.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Mirror receives a copy of every indexed row, typically a remote vector
// store. Mirroring is best-effort infrastructure and never part of the
// artifact set's consistency contract.
type Mirror interface {
	EnsureCollection(ctx context.Context, dim int) error
	UpsertRows(ctx context.Context, rows []Row, vectors [][]float32) error
}

// BuildOptions configures one index build.
type BuildOptions struct {
	ChunksPath string
	OutDir     string
	ModelID    string
	BatchSize  int
	Device     string
	Metric     string
	Force      bool

	// Parameter echo for the run metadata.
	ChunkSizeWords    int
	ChunkOverlapWords int
}

// Builder builds the three index artifacts from a chunk dataset.
type Builder struct {
	embedder Embedder
	mirror   Mirror
	logger   *slog.Logger
}

// NewBuilder creates a Builder. mirror may be nil.
func NewBuilder(embedder Embedder, mirror Mirror, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{embedder: embedder, mirror: mirror, logger: logger}
}

// Build loads the chunk dataset, embeds every chunk text in order, and
// persists the index, the row-aligned lookup and the run metadata. Lookup
// row i corresponds exactly to the i-th vector added to the index.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (Paths, error) {
	start := time.Now()
	paths := DefaultPaths(opts.OutDir)

	if opts.Metric == "" {
		opts.Metric = MetricCosine
	}
	if opts.Metric != MetricCosine {
		return Paths{}, fmt.Errorf("%w: %q (only %q is supported)", ErrUnsupportedMetric, opts.Metric, MetricCosine)
	}
	if !opts.Force {
		if _, err := os.Stat(paths.Index); err == nil {
			return Paths{}, fmt.Errorf("%w: %s (use force to overwrite)", ErrArtifactExists, paths.Index)
		}
	}

	texts, records, err := b.loadChunks(opts.ChunksPath)
	if err != nil {
		return Paths{}, err
	}
	if len(texts) == 0 {
		return Paths{}, fmt.Errorf("%w: %s", ErrEmptyDataset, opts.ChunksPath)
	}

	b.logger.Info("embedding chunks", "count", len(texts), "model", opts.ModelID)
	vectors, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return Paths{}, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) == 0 || len(vectors) != len(texts) {
		return Paths{}, fmt.Errorf("embedding produced %d vectors for %d chunks", len(vectors), len(texts))
	}

	dim := len(vectors[0])
	flat, err := NewFlat(dim)
	if err != nil {
		return Paths{}, err
	}
	if err := flat.Add(vectors); err != nil {
		return Paths{}, err
	}

	rows := make([]Row, len(records))
	for i, rec := range records {
		rows[i] = Row{RowID: i, Record: rec}
	}

	if err := b.writeArtifacts(paths, flat, rows, opts); err != nil {
		return Paths{}, err
	}

	if b.mirror != nil {
		if err := b.mirror.EnsureCollection(ctx, dim); err != nil {
			b.logger.Warn("vector mirror unavailable", "error", err)
		} else if err := b.mirror.UpsertRows(ctx, rows, vectors); err != nil {
			b.logger.Warn("vector mirror upsert failed", "error", err)
		}
	}

	b.logger.Info("index built", "rows", len(rows), "dim", dim, "out", opts.OutDir)
	observability.Audit().LogIndexBuild(ctx, len(rows), dim, opts.OutDir, time.Since(start))
	return paths, nil
}

// loadChunks reads the dataset. Blank and unparsable lines are skipped with
// a warning; a parsed record missing its text field aborts the build.
func (b *Builder) loadChunks(path string) ([]string, []chunk.Record, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening chunk dataset: %w", err)
	}
	defer in.Close()

	var texts []string
	var records []chunk.Record

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			b.logger.Warn("skipping invalid JSON line", "path", path, "line", lineNum)
			continue
		}
		if probe.Text == nil {
			return nil, nil, fmt.Errorf("%w: line %d missing required text field", ErrMalformedRecord, lineNum)
		}

		var rec chunk.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			b.logger.Warn("skipping invalid JSON line", "path", path, "line", lineNum)
			continue
		}
		texts = append(texts, rec.Text)
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading chunk dataset: %w", err)
	}
	return texts, records, nil
}

func (b *Builder) writeArtifacts(paths Paths, flat *Flat, rows []Row, opts BuildOptions) error {
	if err := os.MkdirAll(filepath.Dir(paths.Index), 0o755); err != nil {
		return fmt.Errorf("creating index dir: %w", err)
	}

	if err := flat.WriteFile(paths.Index); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}

	out, err := os.Create(paths.Lookup)
	if err != nil {
		return fmt.Errorf("writing lookup: %w", err)
	}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			out.Close()
			return fmt.Errorf("writing lookup row %d: %w", row.RowID, err)
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	meta := RunMeta{
		CreatedAt:         time.Now().UTC().Format(time.RFC3339),
		Metric:            opts.Metric,
		ModelID:           opts.ModelID,
		Device:            opts.Device,
		BatchSize:         opts.BatchSize,
		EmbeddingDim:      flat.Dim(),
		NumChunks:         flat.Len(),
		ChunkSizeWords:    opts.ChunkSizeWords,
		ChunkOverlapWords: opts.ChunkOverlapWords,
		SourceChunksPath:  opts.ChunksPath,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(paths.Meta, data, 0o644); err != nil {
		return fmt.Errorf("writing run metadata: %w", err)
	}
	return nil
}
