package index

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Store loads the three index artifacts into memory, validates their mutual
// consistency, and serves read-only queries. Load builds the new state off
// to the side and swaps it in atomically, so a store already serving traffic
// can be reloaded in place.
type Store struct {
	paths  Paths
	logger *slog.Logger

	mu     sync.RWMutex
	flat   *Flat
	lookup []Row
	meta   RunMeta
	loaded bool
}

// NewStore creates a Store over the given artifact paths. Call Load before
// serving queries.
func NewStore(paths Paths, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{paths: paths, logger: logger}
}

// Load reads and validates the artifact set. On any failure the store stays
// (or becomes) unusable; it never serves a partially loaded state.
func (s *Store) Load() error {
	flat, lookup, meta, err := s.loadArtifacts()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.flat = flat
	s.lookup = lookup
	s.meta = meta
	s.loaded = true
	s.mu.Unlock()

	s.logger.Info("index store loaded", "rows", flat.Len(), "dim", flat.Dim())
	return nil
}

func (s *Store) loadArtifacts() (*Flat, []Row, RunMeta, error) {
	var meta RunMeta

	for _, p := range []string{s.paths.Index, s.paths.Lookup, s.paths.Meta} {
		if _, err := os.Stat(p); err != nil {
			return nil, nil, meta, fmt.Errorf("%w: %s", ErrMissingArtifact, p)
		}
	}

	metaData, err := os.ReadFile(s.paths.Meta)
	if err != nil {
		return nil, nil, meta, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, nil, meta, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}

	flat, err := ReadFlatFile(s.paths.Index)
	if err != nil {
		return nil, nil, meta, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}

	lookup, err := loadLookup(s.paths.Lookup)
	if err != nil {
		return nil, nil, meta, err
	}

	if flat.Len() != len(lookup) {
		return nil, nil, meta, fmt.Errorf("%w: index has %d vectors, lookup has %d rows",
			ErrInconsistent, flat.Len(), len(lookup))
	}
	if meta.EmbeddingDim != 0 && meta.EmbeddingDim != flat.Dim() {
		return nil, nil, meta, fmt.Errorf("%w: metadata declares %d, index has %d",
			ErrDimensionMismatch, meta.EmbeddingDim, flat.Dim())
	}

	return flat, lookup, meta, nil
}

// loadLookup parses the lookup file. Unlike the chunk dataset, lookup
// integrity is all-or-nothing: any invalid line fails the load.
func loadLookup(path string) ([]Row, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLookup, err)
	}
	defer in.Close()

	var lookup []Row
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			return nil, fmt.Errorf("%w: line %d is blank", ErrCorruptLookup, lineNum)
		}

		// Required fields are probed as pointers so absence is
		// distinguishable from zero values.
		var probe struct {
			RowID               *int    `json:"row_id"`
			Text                *string `json:"text"`
			PMCID               *string `json:"pmcid"`
			SectionTitle        *string `json:"section_title"`
			ChunkIndexInSection *int    `json:"chunk_index_in_section"`
			SourceXML           *string `json:"source_xml"`
			ChunkID             *int    `json:"chunk_id"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptLookup, lineNum, err)
		}
		if probe.RowID == nil || probe.Text == nil || probe.PMCID == nil ||
			probe.SectionTitle == nil || probe.ChunkIndexInSection == nil || probe.SourceXML == nil {
			return nil, fmt.Errorf("%w: line %d missing required field", ErrCorruptLookup, lineNum)
		}

		var row Row
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptLookup, lineNum, err)
		}
		if probe.ChunkID == nil {
			row.ChunkID = -1 // sentinel for legacy lookups without chunk ids
		}
		if row.RowID != len(lookup) {
			return nil, fmt.Errorf("%w: line %d declares row_id %d, want %d",
				ErrCorruptLookup, lineNum, row.RowID, len(lookup))
		}
		lookup = append(lookup, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLookup, err)
	}
	return lookup, nil
}

// Loaded reports whether a Load has completed successfully.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Len returns the number of indexed rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return 0
	}
	return s.flat.Len()
}

// Meta returns the run metadata of the loaded index.
func (s *Store) Meta() (RunMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return RunMeta{}, ErrNotLoaded
	}
	return s.meta, nil
}

// Search performs a top-k inner-product search against the loaded index.
func (s *Store) Search(query []float32, k int) ([]int, []float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, nil, ErrNotLoaded
	}
	return s.flat.Search(query, k)
}

// Row returns the lookup entry for the given row id.
func (s *Store) Row(rowID int) (Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded || rowID < 0 || rowID >= len(s.lookup) {
		return Row{}, false
	}
	return s.lookup[rowID], true
}
