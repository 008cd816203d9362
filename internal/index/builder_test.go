package index

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/adrag/adrag/internal/chunk"
)

// fakeEmbedder returns axis-aligned unit vectors: text i gets e_{i mod dim}.
type fakeEmbedder struct {
	dim   int
	calls int
	fail  error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[i%f.dim] = 1
		out[i] = v
	}
	return out, nil
}

type fakeMirror struct {
	ensured  bool
	upserted int
	fail     error
}

func (m *fakeMirror) EnsureCollection(context.Context, int) error {
	if m.fail != nil {
		return m.fail
	}
	m.ensured = true
	return nil
}

func (m *fakeMirror) UpsertRows(_ context.Context, rows []Row, _ [][]float32) error {
	m.upserted += len(rows)
	return nil
}

func writeChunks(t *testing.T, records []chunk.Record) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func sampleChunks(n int) []chunk.Record {
	out := make([]chunk.Record, n)
	for i := range out {
		out[i] = chunk.Record{
			ChunkID:      i,
			PMCID:        fmt.Sprintf("PMC%d", i+1),
			SectionTitle: "Methods",
			Text:         fmt.Sprintf("chunk text %d", i),
			SourceXML:    fmt.Sprintf("data/raw/PMC%d.xml", i+1),
		}
	}
	return out
}

func TestBuilder_Build(t *testing.T) {
	chunksPath := writeChunks(t, sampleChunks(3))
	outDir := t.TempDir()
	mirror := &fakeMirror{}

	b := NewBuilder(&fakeEmbedder{dim: 4}, mirror, nil)
	paths, err := b.Build(context.Background(), BuildOptions{
		ChunksPath:        chunksPath,
		OutDir:            outDir,
		ModelID:           "test-model",
		BatchSize:         64,
		Device:            "remote",
		ChunkSizeWords:    300,
		ChunkOverlapWords: 50,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	flat, err := ReadFlatFile(paths.Index)
	if err != nil {
		t.Fatalf("reading index: %v", err)
	}
	if flat.Len() != 3 || flat.Dim() != 4 {
		t.Errorf("index has %d rows dim %d", flat.Len(), flat.Dim())
	}

	// Lookup row i must describe index row i.
	f, err := os.Open(paths.Lookup)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	i := 0
	for scanner.Scan() {
		var row Row
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("lookup line %d: %v", i, err)
		}
		if row.RowID != i {
			t.Errorf("line %d has row_id %d", i, row.RowID)
		}
		if row.Text != fmt.Sprintf("chunk text %d", i) {
			t.Errorf("line %d text = %q", i, row.Text)
		}
		i++
	}
	if i != 3 {
		t.Errorf("lookup has %d rows", i)
	}

	metaData, err := os.ReadFile(paths.Meta)
	if err != nil {
		t.Fatal(err)
	}
	var meta RunMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Metric != MetricCosine || meta.ModelID != "test-model" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.EmbeddingDim != 4 || meta.NumChunks != 3 {
		t.Errorf("meta counts wrong: %+v", meta)
	}

	if !mirror.ensured || mirror.upserted != 3 {
		t.Errorf("mirror should receive all rows: ensured=%v upserted=%d", mirror.ensured, mirror.upserted)
	}
}

func TestBuilder_Build_MirrorFailureIsNotFatal(t *testing.T) {
	chunksPath := writeChunks(t, sampleChunks(2))
	mirror := &fakeMirror{fail: errors.New("qdrant unreachable")}

	b := NewBuilder(&fakeEmbedder{dim: 2}, mirror, nil)
	if _, err := b.Build(context.Background(), BuildOptions{
		ChunksPath: chunksPath,
		OutDir:     t.TempDir(),
	}); err != nil {
		t.Errorf("mirror failure must not fail the build: %v", err)
	}
}

func TestBuilder_Build_UnsupportedMetric(t *testing.T) {
	b := NewBuilder(&fakeEmbedder{dim: 2}, nil, nil)
	_, err := b.Build(context.Background(), BuildOptions{
		ChunksPath: "ignored.jsonl",
		OutDir:     t.TempDir(),
		Metric:     "dot",
	})
	if !errors.Is(err, ErrUnsupportedMetric) {
		t.Errorf("expected ErrUnsupportedMetric, got %v", err)
	}
}

func TestBuilder_Build_EmptyDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(&fakeEmbedder{dim: 2}, nil, nil)
	_, err := b.Build(context.Background(), BuildOptions{ChunksPath: path, OutDir: t.TempDir()})
	if !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestBuilder_Build_ExistingArtifacts(t *testing.T) {
	chunksPath := writeChunks(t, sampleChunks(1))
	outDir := t.TempDir()

	b := NewBuilder(&fakeEmbedder{dim: 2}, nil, nil)
	opts := BuildOptions{ChunksPath: chunksPath, OutDir: outDir}
	if _, err := b.Build(context.Background(), opts); err != nil {
		t.Fatalf("first build failed: %v", err)
	}

	if _, err := b.Build(context.Background(), opts); !errors.Is(err, ErrArtifactExists) {
		t.Errorf("expected ErrArtifactExists, got %v", err)
	}

	opts.Force = true
	if _, err := b.Build(context.Background(), opts); err != nil {
		t.Errorf("force rebuild failed: %v", err)
	}
}

func TestBuilder_Build_MissingTextField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	if err := os.WriteFile(path, []byte(`{"pmcid":"PMC1","section_title":"S"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(&fakeEmbedder{dim: 2}, nil, nil)
	_, err := b.Build(context.Background(), BuildOptions{ChunksPath: path, OutDir: t.TempDir()})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestBuilder_Build_SkipsInvalidJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	content := `{"chunk_id":0,"pmcid":"PMC1","section_title":"S","text":"valid text","source_xml":"a.xml","pmid":null,"journal":null,"doi":null,"year":null,"month":null,"section_index":0,"chunk_index_in_section":0}
not json at all

{"chunk_id":1,"pmcid":"PMC2","section_title":"S","text":"another valid","source_xml":"b.xml","pmid":null,"journal":null,"doi":null,"year":null,"month":null,"section_index":0,"chunk_index_in_section":0}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(&fakeEmbedder{dim: 2}, nil, nil)
	paths, err := b.Build(context.Background(), BuildOptions{ChunksPath: path, OutDir: t.TempDir()})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	flat, err := ReadFlatFile(paths.Index)
	if err != nil {
		t.Fatal(err)
	}
	if flat.Len() != 2 {
		t.Errorf("expected 2 indexed rows, got %d", flat.Len())
	}
}

func TestBuilder_Build_EmbedderError(t *testing.T) {
	chunksPath := writeChunks(t, sampleChunks(1))

	b := NewBuilder(&fakeEmbedder{dim: 2, fail: errors.New("api down")}, nil, nil)
	if _, err := b.Build(context.Background(), BuildOptions{ChunksPath: chunksPath, OutDir: t.TempDir()}); err == nil {
		t.Error("expected embedder error to propagate")
	}
}
