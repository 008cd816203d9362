package chunk

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/adrag/adrag/internal/pmc"
)

func words(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(out, " ")
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Params
		wantErr bool
	}{
		{"defaults", Params{SizeWords: 300, OverlapWords: 50, MinWords: 1}, false},
		{"zero_overlap", Params{SizeWords: 10, OverlapWords: 0}, false},
		{"zero_size", Params{SizeWords: 0}, true},
		{"negative_size", Params{SizeWords: -5}, true},
		{"negative_overlap", Params{SizeWords: 10, OverlapWords: -1}, true},
		{"overlap_equals_size", Params{SizeWords: 10, OverlapWords: 10}, true},
		{"overlap_exceeds_size", Params{SizeWords: 10, OverlapWords: 15}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidParams) {
				t.Errorf("error should wrap ErrInvalidParams, got %v", err)
			}
		})
	}
}

func TestWindow_InvalidParams(t *testing.T) {
	if _, err := Window("some text", Params{SizeWords: 0}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}

func TestWindow_ShorterThanMinWords(t *testing.T) {
	chunks, err := Window("too short", Params{SizeWords: 10, OverlapWords: 2, MinWords: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks != nil {
		t.Errorf("expected no chunks, got %v", chunks)
	}
}

func TestWindow_SingleWindow(t *testing.T) {
	text := words(10)
	chunks, err := Window(text, Params{SizeWords: 10, OverlapWords: 2, MinWords: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("single window should contain the whole text")
	}
}

func TestWindow_OverlapStepping(t *testing.T) {
	// 25 words, size 10, overlap 3: windows start at 0, 7, 14, 21.
	chunks, err := Window(words(25), Params{SizeWords: 10, OverlapWords: 3, MinWords: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0], "w0 ") {
		t.Errorf("chunk 0 should start at w0, got %q", chunks[0])
	}
	if !strings.HasPrefix(chunks[1], "w7 ") {
		t.Errorf("chunk 1 should start at w7, got %q", chunks[1])
	}
	if !strings.HasPrefix(chunks[2], "w14 ") {
		t.Errorf("chunk 2 should start at w14, got %q", chunks[2])
	}
	// Final window covers words 21..24.
	last := strings.Fields(chunks[3])
	if len(last) != 4 || last[0] != "w21" || last[3] != "w24" {
		t.Errorf("final chunk = %v", last)
	}
}

func TestWindow_FinalWindowBelowMinWordsDropped(t *testing.T) {
	// 25 words, size 10, overlap 3, min 5: the last window has 4 words.
	chunks, err := Window(words(25), Params{SizeWords: 10, OverlapWords: 3, MinWords: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks after dropping the short tail, got %d", len(chunks))
	}
}

func TestWindow_WhitespaceNormalized(t *testing.T) {
	chunks, err := Window("a\tb\n  c", Params{SizeWords: 10, OverlapWords: 0, MinWords: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "a b c" {
		t.Errorf("whitespace runs should collapse to single spaces, got %v", chunks)
	}
}

func TestBuildRecords(t *testing.T) {
	journal := "J Test"
	article := &pmc.Article{
		Sections: []pmc.Section{
			{Title: "TITLE_ABSTRACT", Type: pmc.TypeTitleAbstract, Text: words(12)},
			{Title: "Methods", Type: pmc.TypeBodySection, Text: words(5)},
		},
		Metadata: pmc.Metadata{Journal: &journal},
	}
	pmid := "999"

	records, err := BuildRecords(article, "PMC42", &pmid, "data/raw/PMC42.xml", Params{SizeWords: 10, OverlapWords: 3, MinWords: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Section 0: 12 words -> windows at 0 and 7; section 1: single window.
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	r := records[0]
	if r.PMCID != "PMC42" || r.PMID == nil || *r.PMID != "999" {
		t.Errorf("identity fields wrong: %+v", r)
	}
	if r.SectionIndex != 0 || r.ChunkIndexInSection != 0 {
		t.Errorf("position fields wrong: %+v", r)
	}
	if r.Journal == nil || *r.Journal != "J Test" {
		t.Errorf("metadata should carry through, got %v", r.Journal)
	}
	if r.SourceXML != "data/raw/PMC42.xml" {
		t.Errorf("source path wrong: %q", r.SourceXML)
	}

	if records[1].ChunkIndexInSection != 1 {
		t.Errorf("second window of section 0 should have index 1, got %d", records[1].ChunkIndexInSection)
	}
	if records[2].SectionIndex != 1 || records[2].SectionTitle != "Methods" {
		t.Errorf("third record should come from Methods: %+v", records[2])
	}
}

func TestBuildRecords_InvalidParams(t *testing.T) {
	article := &pmc.Article{Sections: []pmc.Section{{Title: "S", Text: "text here"}}}
	if _, err := BuildRecords(article, "PMC1", nil, "x.xml", Params{SizeWords: 5, OverlapWords: 5}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got %v", err)
	}
}
