package chunk

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrag/adrag/internal/pmc"
)

// DatasetFile is the chunk dataset filename within the output directory.
const DatasetFile = "chunks.jsonl"

// DatasetMetaFile is the companion run-summary filename.
const DatasetMetaFile = "chunks.meta.json"

// ErrDatasetExists is returned when the output dataset already exists and
// Force was not set.
var ErrDatasetExists = errors.New("chunk dataset already exists")

// DatasetMeta summarizes one dataset-build run.
type DatasetMeta struct {
	Timestamp    string  `json:"timestamp"`
	RawDir       string  `json:"raw_dir"`
	Out          string  `json:"out"`
	NumXMLFiles  int     `json:"num_xml_files"`
	ChunkSize    int     `json:"chunk_size"`
	Overlap      int     `json:"overlap"`
	MinWords     int     `json:"min_words"`
	ManifestUsed *string `json:"manifest_used"`
}

// DatasetOptions configures BuildDataset.
type DatasetOptions struct {
	RawDir       string
	OutDir       string
	Params       Params
	PMIDMap      map[string]string // pmcid -> pmid, usually from the ingest manifest
	ManifestPath string            // echoed into the run summary; empty when no manifest was used
	Force        bool
}

// BuildDataset chunks every PMC*.xml under RawDir into OutDir/chunks.jsonl,
// one JSON record per line, and writes a companion run summary.
//
// Files are processed in sorted name order so chunk ids are stable across
// runs. ChunkID is a strictly increasing counter starting at 0 across the
// whole dataset. An article that fails to parse is logged and skipped; it
// contributes no records and does not abort the run. Invalid window
// parameters abort before any output is written.
func BuildDataset(opts DatasetOptions, logger *slog.Logger) (chunksPath, metaPath string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Params.Validate(); err != nil {
		return "", "", err
	}

	chunksPath = filepath.Join(opts.OutDir, DatasetFile)
	metaPath = filepath.Join(opts.OutDir, DatasetMetaFile)

	if !opts.Force {
		if _, statErr := os.Stat(chunksPath); statErr == nil {
			return "", "", fmt.Errorf("%w: %s (use force to overwrite)", ErrDatasetExists, chunksPath)
		}
	}

	xmlFiles, err := listArticles(opts.RawDir)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating output dir: %w", err)
	}

	out, err := os.Create(chunksPath)
	if err != nil {
		return "", "", fmt.Errorf("creating dataset: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	chunkID := 0
	parsed := 0
	for _, path := range xmlFiles {
		records, buildErr := buildArticleRecords(path, opts.Params, opts.PMIDMap)
		if buildErr != nil {
			if errors.Is(buildErr, ErrInvalidParams) {
				return "", "", buildErr
			}
			logger.Warn("skipping unparsable article", "path", path, "error", buildErr)
			continue
		}
		parsed++
		for i := range records {
			records[i].ChunkID = chunkID
			chunkID++
			if err := enc.Encode(records[i]); err != nil {
				return "", "", fmt.Errorf("writing record: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return "", "", fmt.Errorf("flushing dataset: %w", err)
	}

	meta := DatasetMeta{
		Timestamp:   time.Now().Format(time.RFC3339),
		RawDir:      opts.RawDir,
		Out:         chunksPath,
		NumXMLFiles: len(xmlFiles),
		ChunkSize:   opts.Params.SizeWords,
		Overlap:     opts.Params.OverlapWords,
		MinWords:    opts.Params.MinWords,
	}
	if opts.ManifestPath != "" {
		meta.ManifestUsed = &opts.ManifestPath
	}

	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(metaPath, metaData, 0o644); err != nil {
		return "", "", fmt.Errorf("writing run summary: %w", err)
	}

	logger.Info("chunk dataset built",
		"articles", parsed, "chunks", chunkID, "out", chunksPath)
	return chunksPath, metaPath, nil
}

// buildArticleRecords parses one XML file and windows it into records.
func buildArticleRecords(path string, p Params, pmidMap map[string]string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	article, err := pmc.Parse(data)
	if err != nil {
		return nil, err
	}

	pmcid := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var pmid *string
	if v, ok := pmidMap[pmcid]; ok && v != "" {
		pmid = &v
	}
	return BuildRecords(article, pmcid, pmid, path, p)
}

// listArticles returns RawDir's PMC*.xml files in sorted name order.
func listArticles(rawDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(rawDir, "PMC*.xml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
