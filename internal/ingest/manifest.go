package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manifest record types.
const (
	RecordTypeRun     = "run"
	RecordTypeArticle = "article"
)

// RunRecord is the header line written once per fetch run.
type RunRecord struct {
	Type        string `json:"type"`
	RunID       string `json:"run_id"`
	Timestamp   string `json:"timestamp"`
	Query       string `json:"query"`
	TargetN     int    `json:"target_n"`
	QueryRetmax int    `json:"query_retmax"`
	RawDir      string `json:"raw_dir"`
}

// ArticleRecord is one line per attempted article.
type ArticleRecord struct {
	Type      string  `json:"type"`
	RunID     string  `json:"run_id"`
	Timestamp string  `json:"timestamp"`
	PMID      string  `json:"pmid"`
	PMCID     *string `json:"pmcid"`
	XMLPath   *string `json:"xml_path"`
	OK        bool    `json:"ok"`
	Error     *string `json:"error"`
}

// ManifestWriter appends records to a manifest file as JSON lines.
type ManifestWriter struct {
	path string
}

// NewManifestWriter creates the manifest's parent directory if needed.
func NewManifestWriter(path string) (*ManifestWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating manifest dir: %w", err)
	}
	return &ManifestWriter{path: path}, nil
}

// Append writes one record. The file is opened per call so a crashed run
// loses at most the current line.
func (w *ManifestWriter) Append(record any) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshalling manifest record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing manifest record: %w", err)
	}
	return nil
}

// LoadPMIDMap reads a manifest and returns a pmcid -> pmid mapping from the
// article records that succeeded. Later runs override earlier ones.
func LoadPMIDMap(path string) (map[string]string, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer in.Close()

	m := make(map[string]string)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec ArticleRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Type != RecordTypeArticle || !rec.OK || rec.PMCID == nil {
			continue
		}
		m[*rec.PMCID] = rec.PMID
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return m, nil
}
