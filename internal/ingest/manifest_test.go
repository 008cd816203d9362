package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestManifestWriter_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "manifest.jsonl")
	w, err := NewManifestWriter(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	run := RunRecord{Type: RecordTypeRun, RunID: "r1", Query: "alzheimer", TargetN: 10, QueryRetmax: 30}
	if err := w.Append(run); err != nil {
		t.Fatal(err)
	}
	art := ArticleRecord{Type: RecordTypeArticle, RunID: "r1", PMID: "123", PMCID: strPtr("PMC9"), OK: true}
	if err := w.Append(art); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"type":"run"`) {
		t.Errorf("first line should be the run record: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"pmcid":"PMC9"`) {
		t.Errorf("second line should carry the pmcid: %s", lines[1])
	}
}

func TestLoadPMIDMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	content := strings.Join([]string{
		`{"type":"run","run_id":"r1","query":"q"}`,
		`{"type":"article","run_id":"r1","pmid":"111","pmcid":"PMC1","ok":true}`,
		`{"type":"article","run_id":"r1","pmid":"222","pmcid":"PMC2","ok":false,"error":"fetch_failed"}`,
		`{"type":"article","run_id":"r1","pmid":"333","pmcid":null,"ok":false,"error":"no_pmc_link"}`,
		`not valid json`,
		``,
		`{"type":"article","run_id":"r2","pmid":"999","pmcid":"PMC1","ok":true}`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadPMIDMap(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("expected 1 mapping, got %d: %v", len(m), m)
	}
	// The later run overrides the earlier one.
	if m["PMC1"] != "999" {
		t.Errorf("PMC1 -> %q, want 999", m["PMC1"])
	}
}

func TestLoadPMIDMap_MissingFile(t *testing.T) {
	if _, err := LoadPMIDMap(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("expected error for missing manifest")
	}
}
