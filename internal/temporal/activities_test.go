package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adrag/adrag/internal/index"
)

// axisEmbedder returns unit axis vectors, cycling over the dimension.
type axisEmbedder struct {
	dim int
}

func (e *axisEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, e.dim)
		v[i%e.dim] = 1
		out[i] = v
	}
	return out, nil
}

func writeRawCorpus(t *testing.T, dir string, pmcids ...string) {
	t.Helper()
	for _, pmcid := range pmcids {
		doc := fmt.Sprintf(`<article><front><article-meta>
<title-group><article-title>Study %s</article-title></title-group>
</article-meta></front>
<body><sec><title>Results</title><p>alpha beta gamma delta epsilon zeta eta theta</p></sec></body>
</article>`, pmcid)
		if err := os.WriteFile(filepath.Join(dir, pmcid+".xml"), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func pipelineDirs(t *testing.T) PipelineInput {
	t.Helper()
	root := t.TempDir()
	input := PipelineInput{
		RawDir:            filepath.Join(root, "raw"),
		ChunksDir:         filepath.Join(root, "chunks"),
		IndexDir:          filepath.Join(root, "index"),
		ChunkSizeWords:    5,
		ChunkOverlapWords: 1,
		ChunkMinWords:     1,
		EmbeddingModel:    "test-model",
		EmbedBatchSize:    8,
	}
	if err := os.MkdirAll(input.RawDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return input
}

func TestChunkActivity(t *testing.T) {
	input := pipelineDirs(t)
	writeRawCorpus(t, input.RawDir, "PMC100", "PMC200")
	SetDependencies(&Dependencies{Logger: slog.Default()})

	result, err := ChunkActivity(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(result.ChunksPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected chunks from both articles, got %d lines", len(lines))
	}
	if !strings.Contains(lines[0], `"pmcid":"PMC100"`) {
		t.Errorf("first chunk = %s", lines[0])
	}
	if _, err := os.Stat(result.MetaPath); err != nil {
		t.Errorf("missing dataset summary: %v", err)
	}
}

func TestChunkActivity_MissingManifestIsNotFatal(t *testing.T) {
	input := pipelineDirs(t)
	input.ManifestPath = filepath.Join(input.RawDir, "nope.jsonl")
	writeRawCorpus(t, input.RawDir, "PMC100")
	SetDependencies(&Dependencies{Logger: slog.Default()})

	result, err := ChunkActivity(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Without a manifest the records keep a null pmid.
	data, err := os.ReadFile(result.ChunksPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.SplitN(string(data), "\n", 2)[0], `"pmid":null`) {
		t.Errorf("chunk record should have null pmid: %s", data)
	}
}

func TestIndexActivity(t *testing.T) {
	input := pipelineDirs(t)
	writeRawCorpus(t, input.RawDir, "PMC100")
	SetDependencies(&Dependencies{
		Embedder: &axisEmbedder{dim: 4},
		Logger:   slog.Default(),
	})

	chunkResult, err := ChunkActivity(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}

	result, err := IndexActivity(context.Background(), input, chunkResult.ChunksPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, path := range []string{result.IndexPath, result.LookupPath, result.MetaPath} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing artifact %s: %v", path, err)
		}
	}

	data, err := os.ReadFile(result.MetaPath)
	if err != nil {
		t.Fatal(err)
	}
	var meta index.RunMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.ModelID != "test-model" || meta.EmbeddingDim != 4 {
		t.Errorf("run meta = %+v", meta)
	}
	if meta.ChunkSizeWords != 5 || meta.ChunkOverlapWords != 1 {
		t.Errorf("chunk params not recorded: %+v", meta)
	}

	// The built artifacts must load as a consistent set.
	store := index.NewStore(index.Paths{
		Index:  result.IndexPath,
		Lookup: result.LookupPath,
		Meta:   result.MetaPath,
	}, nil)
	if err := store.Load(); err != nil {
		t.Errorf("built artifacts failed to load: %v", err)
	}
}
