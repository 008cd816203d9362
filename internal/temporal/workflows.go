package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/adrag/adrag/internal/ingest"
)

// PipelineInput holds the corpus pipeline parameters.
type PipelineInput struct {
	Query        string
	RawDir       string
	ChunksDir    string
	IndexDir     string
	TargetN      int
	ManifestPath string

	ChunkSizeWords    int
	ChunkOverlapWords int
	ChunkMinWords     int

	EmbeddingModel string
	EmbedBatchSize int

	Force bool

	// SkipFetch reuses whatever XML is already under RawDir.
	SkipFetch bool
}

// PipelineOutput holds the pipeline result.
type PipelineOutput struct {
	Fetched    ingest.Summary
	ChunksPath string
	IndexPath  string
	LookupPath string
	MetaPath   string
}

// CorpusPipelineWorkflow orchestrates fetch, chunk and index as one run.
func CorpusPipelineWorkflow(ctx workflow.Context, input PipelineInput) (*PipelineOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Minute,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	output := &PipelineOutput{}

	// Step 1: download the corpus
	if !input.SkipFetch {
		var fetchResult FetchResult
		if err := workflow.ExecuteActivity(ctx, FetchActivity, input).Get(ctx, &fetchResult); err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		output.Fetched = fetchResult.Summary
	}

	// Step 2: chunk the articles
	var chunkResult ChunkResult
	if err := workflow.ExecuteActivity(ctx, ChunkActivity, input).Get(ctx, &chunkResult); err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	output.ChunksPath = chunkResult.ChunksPath

	// Step 3: embed and index
	var indexResult IndexResult
	if err := workflow.ExecuteActivity(ctx, IndexActivity, input, chunkResult.ChunksPath).Get(ctx, &indexResult); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	output.IndexPath = indexResult.IndexPath
	output.LookupPath = indexResult.LookupPath
	output.MetaPath = indexResult.MetaPath

	return output, nil
}
