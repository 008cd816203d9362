package index

import "errors"

// Build-time failures.
var (
	ErrEmptyDataset      = errors.New("chunk dataset is empty")
	ErrUnsupportedMetric = errors.New("unsupported similarity metric")
	ErrArtifactExists    = errors.New("index artifacts already exist")
	ErrMalformedRecord   = errors.New("malformed chunk record")
)

// Load-time failures. After any of these the store must not serve queries.
var (
	ErrMissingArtifact   = errors.New("index artifact missing")
	ErrCorruptMetadata   = errors.New("corrupt index metadata")
	ErrCorruptIndex      = errors.New("corrupt index file")
	ErrCorruptLookup     = errors.New("corrupt lookup file")
	ErrInconsistent      = errors.New("index and lookup are inconsistent")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNotLoaded         = errors.New("index not loaded")
)
