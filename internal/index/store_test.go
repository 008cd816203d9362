package index

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

// buildTestArtifacts writes a consistent artifact set and returns its paths.
func buildTestArtifacts(t *testing.T, n, dim int) Paths {
	t.Helper()
	chunksPath := writeChunks(t, sampleChunks(n))
	b := NewBuilder(&fakeEmbedder{dim: dim}, nil, nil)
	paths, err := b.Build(context.Background(), BuildOptions{
		ChunksPath: chunksPath,
		OutDir:     t.TempDir(),
		ModelID:    "test-model",
	})
	if err != nil {
		t.Fatalf("building test artifacts: %v", err)
	}
	return paths
}

func TestStore_Load(t *testing.T) {
	paths := buildTestArtifacts(t, 3, 4)
	store := NewStore(paths, nil)

	if store.Loaded() {
		t.Error("store should not report loaded before Load")
	}
	if err := store.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !store.Loaded() {
		t.Error("store should report loaded")
	}
	if store.Len() != 3 {
		t.Errorf("Len = %d", store.Len())
	}

	meta, err := store.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if meta.ModelID != "test-model" || meta.EmbeddingDim != 4 {
		t.Errorf("meta = %+v", meta)
	}

	row, ok := store.Row(1)
	if !ok {
		t.Fatal("row 1 should exist")
	}
	if row.RowID != 1 || row.PMCID != "PMC2" {
		t.Errorf("row = %+v", row)
	}
}

func TestStore_Search(t *testing.T) {
	paths := buildTestArtifacts(t, 2, 4)
	store := NewStore(paths, nil)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}

	// fakeEmbedder gives row 1 the unit vector e_1.
	rows, scores, err := store.Search([]float32{0, 1, 0, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0] != 1 || scores[0] != 1 {
		t.Errorf("got rows=%v scores=%v", rows, scores)
	}
}

func TestStore_NotLoaded(t *testing.T) {
	store := NewStore(DefaultPaths(t.TempDir()), nil)

	if _, err := store.Meta(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Meta: expected ErrNotLoaded, got %v", err)
	}
	if _, _, err := store.Search([]float32{1}, 1); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Search: expected ErrNotLoaded, got %v", err)
	}
	if _, ok := store.Row(0); ok {
		t.Error("Row should report missing before load")
	}
	if store.Len() != 0 {
		t.Errorf("Len should be 0 before load, got %d", store.Len())
	}
}

func TestStore_Load_MissingArtifact(t *testing.T) {
	paths := buildTestArtifacts(t, 1, 2)
	if err := os.Remove(paths.Lookup); err != nil {
		t.Fatal(err)
	}

	store := NewStore(paths, nil)
	if err := store.Load(); !errors.Is(err, ErrMissingArtifact) {
		t.Errorf("expected ErrMissingArtifact, got %v", err)
	}
	if store.Loaded() {
		t.Error("failed load must not mark the store loaded")
	}
}

func TestStore_Load_CorruptMetadata(t *testing.T) {
	paths := buildTestArtifacts(t, 1, 2)
	if err := os.WriteFile(paths.Meta, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(paths, nil)
	if err := store.Load(); !errors.Is(err, ErrCorruptMetadata) {
		t.Errorf("expected ErrCorruptMetadata, got %v", err)
	}
}

func TestStore_Load_CorruptIndex(t *testing.T) {
	paths := buildTestArtifacts(t, 1, 2)
	if err := os.WriteFile(paths.Index, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(paths, nil)
	if err := store.Load(); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("expected ErrCorruptIndex, got %v", err)
	}
}

func TestStore_Load_CorruptLookup(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"invalid_json", "{broken"},
		{"missing_row_id", `{"text":"t","pmcid":"PMC1","section_title":"S","chunk_index_in_section":0,"source_xml":"a.xml"}`},
		{"missing_text", `{"row_id":0,"pmcid":"PMC1","section_title":"S","chunk_index_in_section":0,"source_xml":"a.xml"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths := buildTestArtifacts(t, 1, 2)
			if err := os.WriteFile(paths.Lookup, []byte(tt.line+"\n"), 0o644); err != nil {
				t.Fatal(err)
			}

			store := NewStore(paths, nil)
			if err := store.Load(); !errors.Is(err, ErrCorruptLookup) {
				t.Errorf("expected ErrCorruptLookup, got %v", err)
			}
		})
	}
}

func TestStore_Load_InconsistentSizes(t *testing.T) {
	paths := buildTestArtifacts(t, 2, 2)

	// Drop the second lookup row while the index keeps two vectors.
	data, err := os.ReadFile(paths.Lookup)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(data)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lookup lines, got %d", len(lines))
	}
	if err := os.WriteFile(paths.Lookup, append(lines[0], '\n'), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(paths, nil)
	if err := store.Load(); !errors.Is(err, ErrInconsistent) {
		t.Errorf("expected ErrInconsistent, got %v", err)
	}
}

func TestStore_Load_BlankLookupLine(t *testing.T) {
	paths := buildTestArtifacts(t, 2, 2)

	// Interleave a blank line between the two rows.
	data, err := os.ReadFile(paths.Lookup)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(data)
	corrupted := append([]byte{}, lines[0]...)
	corrupted = append(corrupted, '\n', '\n')
	corrupted = append(corrupted, lines[1]...)
	corrupted = append(corrupted, '\n')
	if err := os.WriteFile(paths.Lookup, corrupted, 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(paths, nil)
	if err := store.Load(); !errors.Is(err, ErrCorruptLookup) {
		t.Errorf("expected ErrCorruptLookup, got %v", err)
	}
}

func TestStore_Load_MisalignedRowIDs(t *testing.T) {
	paths := buildTestArtifacts(t, 2, 2)

	// Swap the two lines so each row_id disagrees with its line position.
	data, err := os.ReadFile(paths.Lookup)
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(data)
	swapped := append([]byte{}, lines[1]...)
	swapped = append(swapped, '\n')
	swapped = append(swapped, lines[0]...)
	swapped = append(swapped, '\n')
	if err := os.WriteFile(paths.Lookup, swapped, 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(paths, nil)
	if err := store.Load(); !errors.Is(err, ErrCorruptLookup) {
		t.Errorf("expected ErrCorruptLookup, got %v", err)
	}
}

func TestStore_Load_DimensionMismatch(t *testing.T) {
	paths := buildTestArtifacts(t, 1, 2)

	data, err := os.ReadFile(paths.Meta)
	if err != nil {
		t.Fatal(err)
	}
	var meta RunMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatal(err)
	}
	meta.EmbeddingDim = 99
	out, _ := json.Marshal(meta)
	if err := os.WriteFile(paths.Meta, out, 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(paths, nil)
	if err := store.Load(); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestStore_Load_LegacyLookupWithoutChunkID(t *testing.T) {
	paths := buildTestArtifacts(t, 1, 2)
	line := `{"row_id":0,"text":"legacy text","pmcid":"PMC1","section_title":"S","chunk_index_in_section":0,"source_xml":"a.xml"}`
	if err := os.WriteFile(paths.Lookup, []byte(line+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(paths, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("legacy lookup should load: %v", err)
	}
	row, ok := store.Row(0)
	if !ok {
		t.Fatal("row 0 should exist")
	}
	if row.ChunkID != -1 {
		t.Errorf("missing chunk_id should load as -1, got %d", row.ChunkID)
	}
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
