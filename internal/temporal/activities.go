// Package temporal runs the corpus pipeline (fetch, chunk, index) as a
// Temporal workflow.
package temporal

import (
	"context"
	"log/slog"

	"github.com/adrag/adrag/internal/chunk"
	"github.com/adrag/adrag/internal/index"
	"github.com/adrag/adrag/internal/ingest"
)

// FetchResult is the serializable output of the fetch activity.
type FetchResult struct {
	Summary ingest.Summary
	RawDir  string
}

// ChunkResult is the serializable output of the chunk activity.
type ChunkResult struct {
	ChunksPath string
	MetaPath   string
}

// IndexResult is the serializable output of the index activity.
type IndexResult struct {
	IndexPath  string
	LookupPath string
	MetaPath   string
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Fetcher  *ingest.Fetcher
	Embedder index.Embedder
	Mirror   index.Mirror
	Logger   *slog.Logger
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

func FetchActivity(ctx context.Context, input PipelineInput) (FetchResult, error) {
	summary, err := deps.Fetcher.FetchCorpus(ctx, ingest.FetchOptions{
		Query:        input.Query,
		OutDir:       input.RawDir,
		TargetN:      input.TargetN,
		Resume:       true,
		ManifestPath: input.ManifestPath,
	})
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Summary: summary, RawDir: input.RawDir}, nil
}

func ChunkActivity(ctx context.Context, input PipelineInput) (ChunkResult, error) {
	var pmidMap map[string]string
	var manifestPath string
	if input.ManifestPath != "" {
		m, err := ingest.LoadPMIDMap(input.ManifestPath)
		if err != nil {
			deps.Logger.Warn("manifest unavailable, records keep null pmid", "error", err)
		} else {
			pmidMap = m
			manifestPath = input.ManifestPath
		}
	}

	chunksPath, metaPath, err := chunk.BuildDataset(chunk.DatasetOptions{
		RawDir: input.RawDir,
		OutDir: input.ChunksDir,
		Params: chunk.Params{
			SizeWords:    input.ChunkSizeWords,
			OverlapWords: input.ChunkOverlapWords,
			MinWords:     input.ChunkMinWords,
		},
		PMIDMap:      pmidMap,
		ManifestPath: manifestPath,
		Force:        input.Force,
	}, deps.Logger)
	if err != nil {
		return ChunkResult{}, err
	}
	return ChunkResult{ChunksPath: chunksPath, MetaPath: metaPath}, nil
}

func IndexActivity(ctx context.Context, input PipelineInput, chunksPath string) (IndexResult, error) {
	builder := index.NewBuilder(deps.Embedder, deps.Mirror, deps.Logger)
	paths, err := builder.Build(ctx, index.BuildOptions{
		ChunksPath:        chunksPath,
		OutDir:            input.IndexDir,
		ModelID:           input.EmbeddingModel,
		BatchSize:         input.EmbedBatchSize,
		Device:            "remote",
		Force:             input.Force,
		ChunkSizeWords:    input.ChunkSizeWords,
		ChunkOverlapWords: input.ChunkOverlapWords,
	})
	if err != nil {
		return IndexResult{}, err
	}
	return IndexResult{
		IndexPath:  paths.Index,
		LookupPath: paths.Lookup,
		MetaPath:   paths.Meta,
	}, nil
}
