// Package index builds, persists and serves the flat vector index and its
// row-aligned lookup table.
package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// flatMagic identifies the on-disk flat index format.
const flatMagic uint32 = 0x49564446 // "FDVI"

// NoRow is the sentinel row id padded into search results when the index
// holds fewer rows than requested.
const NoRow = -1

// Flat is an exact inner-product index over unit-normalized vectors. With
// all vectors normalized to unit length, inner product equals cosine
// similarity. Rows are stored densely in insertion order; the i-th vector
// added has row id i.
type Flat struct {
	dim  int
	data []float32 // len(data) == rows*dim
}

// NewFlat creates an empty index of the given dimension.
func NewFlat(dim int) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid index dimension %d", dim)
	}
	return &Flat{dim: dim}, nil
}

// Dim returns the vector dimension.
func (f *Flat) Dim() int { return f.dim }

// Len returns the number of indexed rows.
func (f *Flat) Len() int { return len(f.data) / f.dim }

// Add appends vectors to the index in order.
func (f *Flat) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("vector %d has dimension %d, index expects %d", i, len(v), f.dim)
		}
		f.data = append(f.data, v...)
	}
	return nil
}

// Search returns the row ids and scores of the k rows most similar to query,
// in descending score order. Ties keep ascending row order. When the index
// holds fewer than k rows, the remainder is padded with NoRow ids and zero
// scores, mirroring the search primitive callers already handle.
func (f *Flat) Search(query []float32, k int) ([]int, []float32, error) {
	if len(query) != f.dim {
		return nil, nil, fmt.Errorf("query has dimension %d, index expects %d", len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("invalid k %d", k)
	}

	n := f.Len()
	scores := make([]float32, n)
	for row := 0; row < n; row++ {
		base := row * f.dim
		var dot float32
		for j, q := range query {
			dot += f.data[base+j] * q
		}
		scores[row] = dot
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	rows := make([]int, k)
	out := make([]float32, k)
	for i := 0; i < k; i++ {
		if i < n {
			rows[i] = order[i]
			out[i] = scores[order[i]]
		} else {
			rows[i] = NoRow
			out[i] = 0
		}
	}
	return rows, out, nil
}

// WriteFile persists the index. The format is a fixed little-endian header
// (magic, dim, rows) followed by the dense row-major float32 data.
func (f *Flat) WriteFile(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	header := []uint32{flatMagic, uint32(f.dim), uint32(f.Len())}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, f.data); err != nil {
		return err
	}
	return w.Flush()
}

// ReadFlatFile loads an index persisted by WriteFile.
func ReadFlatFile(path string) (*Flat, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	r := bufio.NewReader(in)
	header := make([]uint32, 3)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("reading index header: %w", err)
	}
	if header[0] != flatMagic {
		return nil, errors.New("not a flat index file")
	}
	dim := int(header[1])
	rows := int(header[2])
	if dim <= 0 || rows < 0 {
		return nil, fmt.Errorf("corrupt index header: dim=%d rows=%d", dim, rows)
	}

	data := make([]float32, dim*rows)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("reading index data: %w", err)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, errors.New("trailing bytes after index data")
	}
	return &Flat{dim: dim, data: data}, nil
}
